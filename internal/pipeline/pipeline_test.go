package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropline-backend/internal/uploads"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

type memoryStore struct{}

func (memoryStore) DeleteObject(context.Context, string) error { return nil }
func (memoryStore) PublicURL(key string) string                { return "https://cdn.example/" + key }
func (memoryStore) Ping(context.Context) error                 { return nil }

func TestNewWiresFinalizeThroughQueue(t *testing.T) {
	conn := dbtest.Open(t)
	broker := queue.NewMemoryBroker(queue.DefaultOptions())
	cfg := &config.Config{
		Media:    config.MediaConfig{FreeMaxUploadMB: 10, PlusMaxUploadMB: 100, ProMaxUploadMB: 1000},
		Sweepers: config.SweepersConfig{DeletionBatchSize: 50, StalePendingAge: 15 * time.Minute},
	}

	p, err := New(Params{
		Config: cfg,
		Logger: logger.Nop(),
		DB:     db.NewFromGorm(conn),
		Queue:  broker,
		Store:  memoryStore{},
	})
	require.NoError(t, err)

	ctx := context.Background()
	result, err := p.Uploads.Finalize(ctx, uuid.New(), enums.UserTierFree, uploads.FinalizeInput{
		Key:       "u/1/clip.mp4",
		Kind:      enums.MediaKindVideo,
		SizeBytes: 1024,
	})
	require.NoError(t, err)
	require.NotNil(t, result.JobID)
	require.Equal(t, uploads.StatusProcessing, result.Status)

	job, err := p.Jobs.Get(ctx, *result.JobID)
	require.NoError(t, err)
	require.Equal(t, enums.MediaJobStatePending, job.State)
	require.NotNil(t, job.QueueJobID)
	require.Equal(t, 1, broker.Len())

	health, err := p.Sweepers.MediaJobsHealth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, health.Pending)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
}
