package enums

import "fmt"

// MediaJobState is the outward-visible lifecycle state of a media job.
type MediaJobState string

const (
	MediaJobStatePending    MediaJobState = "pending"
	MediaJobStateProcessing MediaJobState = "processing"
	MediaJobStateCompleted  MediaJobState = "completed"
	MediaJobStateFailed     MediaJobState = "failed"
)

var validMediaJobStates = []MediaJobState{
	MediaJobStatePending,
	MediaJobStateProcessing,
	MediaJobStateCompleted,
	MediaJobStateFailed,
}

var mediaJobTransitions = map[MediaJobState][]MediaJobState{
	MediaJobStatePending:    {MediaJobStateProcessing},
	MediaJobStateProcessing: {MediaJobStateProcessing, MediaJobStateCompleted, MediaJobStateFailed},
}

// String returns the literal string for the state.
func (s MediaJobState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s MediaJobState) IsValid() bool {
	for _, candidate := range validMediaJobStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s MediaJobState) IsTerminal() bool {
	return s == MediaJobStateCompleted || s == MediaJobStateFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// processing -> processing covers a queue re-delivery after a retry.
func (s MediaJobState) CanTransitionTo(next MediaJobState) bool {
	for _, candidate := range mediaJobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseMediaJobState converts raw input into a MediaJobState.
func ParseMediaJobState(value string) (MediaJobState, error) {
	for _, candidate := range validMediaJobStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid media job state %q", value)
}
