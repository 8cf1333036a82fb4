package instance

import "github.com/angelmondragon/dropline-backend/pkg/env"

// GetID returns the process instance identifier used to tag queue consumers and locks.
func GetID() string {
	return env.First("worker-0", "DROPLINE_WORKER_ID", "WORKER_ID", "HOSTNAME")
}
