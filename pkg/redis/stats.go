package redis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type poolStatser interface {
	PoolStats() *redis.PoolStats
}

type poolCollector struct {
	pool       poolStatser
	hits       *prometheus.Desc
	misses     *prometheus.Desc
	timeouts   *prometheus.Desc
	totalConns *prometheus.Desc
	idleConns  *prometheus.Desc
}

func newPoolCollector(pool poolStatser) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("dropline", "redis_pool", name), help, nil, nil)
	}
	return &poolCollector{
		pool:       pool,
		hits:       desc("hits_total", "Free connections found in the pool."),
		misses:     desc("misses_total", "Free connections not found in the pool."),
		timeouts:   desc("timeouts_total", "Waits for a connection that timed out."),
		totalConns: desc("connections", "Connections currently in the pool."),
		idleConns:  desc("idle_connections", "Idle connections currently in the pool."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
	ch <- c.totalConns
	ch <- c.idleConns
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.PoolStats()
	if stats == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(stats.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns))
}
