package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateMediaJob OutboxAggregateType = "media_job"
	AggregatePost     OutboxAggregateType = "post"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateMediaJob,
	AggregatePost,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names an event written to outbox_events.
type OutboxEventType string

const (
	EventMediaJobCompleted OutboxEventType = "media_job_completed"
	EventMediaJobFailed    OutboxEventType = "media_job_failed"
	EventMediaJobLinked    OutboxEventType = "media_job_linked"
)

var validOutboxEventTypes = []OutboxEventType{
	EventMediaJobCompleted,
	EventMediaJobFailed,
	EventMediaJobLinked,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
