package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/outbox/payloads"
)

func TestServiceEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop(), "worker")
	jobID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventMediaJobFailed,
			AggregateType: enums.AggregateMediaJob,
			AggregateID:   jobID,
			Data:          payloads.MediaJobFailedEvent{MediaJobID: jobID, Error: "bad codec"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventMediaJobFailed, rows[0].EventType)
	assert.Equal(t, jobID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, "worker", envelope.Source)

	var data payloads.MediaJobFailedEvent
	require.NoError(t, envelope.DecodeData(&data))
	assert.Equal(t, "bad codec", data.Error)
}

func TestServiceEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil, "api")
	boom := errors.New("boom")

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventMediaJobLinked,
			AggregateType: enums.AggregateMediaJob,
			AggregateID:   uuid.New(),
			Data:          payloads.MediaJobLinkedEvent{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestServiceEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil, "api")

	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventMediaJobLinked})
	require.Error(t, err)

	err = svc.Emit(context.Background(), conn, DomainEvent{EventType: enums.OutboxEventType("nope")})
	require.Error(t, err)

	err = svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventMediaJobLinked,
		AggregateType: enums.AggregateMediaJob,
		Data:          payloads.MediaJobLinkedEvent{},
	})
	require.Error(t, err)

	err = svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventMediaJobLinked,
		AggregateType: enums.AggregateMediaJob,
		AggregateID:   uuid.New(),
	})
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestPayloadEnvelopeDecodeDataRejectsNull(t *testing.T) {
	var out payloads.MediaJobLinkedEvent
	require.ErrorIs(t, PayloadEnvelope{Data: json.RawMessage(" null ")}.DecodeData(&out), ErrEmptyPayload)
	require.ErrorIs(t, PayloadEnvelope{}.DecodeData(&out), ErrEmptyPayload)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	fresh := seedEvent(t, conn, 0)
	exhausted := seedEvent(t, conn, 5)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, fresh, rows[0].ID)

	require.NoError(t, repo.MarkFailedTx(conn, fresh, errors.New("publish timeout")))
	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", fresh).Error)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "publish timeout", *row.LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, fresh, errors.New("bad payload"), 5))
	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, repo.MarkPublishedTx(conn, exhausted))
	require.NoError(t, conn.First(&row, "id = ?", exhausted).Error)
	assert.NotNil(t, row.PublishedAt)
}

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	old := seedEvent(t, conn, 0)
	recent := seedEvent(t, conn, 0)
	unpublished := seedEvent(t, conn, 0)

	now := time.Now().UTC()
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", old).Update("published_at", now.Add(-40*24*time.Hour)).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", recent).Update("published_at", now.Add(-time.Hour)).Error)

	deleted, err := repo.DeletePublishedBefore(context.Background(), now.Add(-30*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("created_at").Find(&remaining).Error)
	ids := []uuid.UUID{}
	for _, r := range remaining {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{recent, unpublished}, ids)
}

func TestDLQRepositoryInsertTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	eventID := uuid.New()

	long := make([]byte, maxDLQErrorLen+200)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	require.NoError(t, repo.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventMediaJobCompleted,
		AggregateType: enums.AggregateMediaJob,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		AttemptCount:  3,
	}))

	found, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	dup := "second attempt"
	require.NoError(t, repo.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventMediaJobCompleted,
		AggregateType: enums.AggregateMediaJob,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &dup,
	}))

	list, err := repo.ListRecent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	filtered, err := repo.ListRecent(context.Background(), enums.OutboxDLQReasonMaxAttempts, 10)
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func seedEvent(t *testing.T, conn *gorm.DB, attempts int) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventMediaJobCompleted,
		AggregateType: enums.AggregateMediaJob,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
		AttemptCount:  attempts,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row.ID
}
