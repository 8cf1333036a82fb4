package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]string
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsExclusiveUntilReleased(t *testing.T) {
	store := newMemoryStore()
	first, err := NewRedisLock(store, "dl:lock:cron-worker:test:publish-drops", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(store, "dl:lock:cron-worker:test:publish-drops", time.Minute)

	ctx := context.Background()
	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if !strings.Contains(store.values["dl:lock:cron-worker:test:publish-drops"], "/") {
		t.Fatalf("owner should carry the instance id, got %q", store.values["dl:lock:cron-worker:test:publish-drops"])
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire should fail while held")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("releasing an unowned lock should be a no-op: %v", err)
	}
	if len(store.values) != 1 {
		t.Fatal("non-owner release removed the key")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected acquire after release")
	}
}

func TestRedisLockLeavesTakenOverLease(t *testing.T) {
	store := newMemoryStore()
	lock, _ := NewRedisLock(store, "k", time.Minute)
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}

	store.values["k"] = "other-instance/run"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["k"] != "other-instance/run" {
		t.Fatal("release must not delete another owner's lease")
	}
}

func TestRedisLockErrors(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", time.Minute); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := NewRedisLock(newMemoryStore(), "", time.Minute); err == nil {
		t.Fatal("expected empty key error")
	}

	store := newMemoryStore()
	store.err = errors.New("connection refused")
	lock, _ := NewRedisLock(store, "k", 0)
	if lock.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %v", lock.ttl)
	}
	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquire error")
	}
}

func TestRedisLocksScopesKeyPerJob(t *testing.T) {
	store := newMemoryStore()
	factory := RedisLocks(store, func(job string) string { return "dl:lock:" + job }, time.Minute)
	a, _ := factory("link-orphans")
	b, _ := factory("publish-drops")
	ctx := context.Background()
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("expected link-orphans lock")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("locks for different jobs must not collide")
	}
}
