// Package lesson owns lesson and video metadata and the video lifecycle.
package lesson

import "errors"

// Status represents the lifecycle state of a video asset.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"

	// Terminal states (no further transitions allowed)
	StatusReady  Status = "ready"
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when a status transition is not allowed.
// Webhook retries that would move a row backward surface this and are treated
// as no-ops by callers.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions. The lifecycle is
// strictly monotonic: uploading → processing → (ready | failed), with
// uploading optional. Re-uploads create a new video row instead of reusing a
// terminal one.
var ValidTransitions = map[Status][]Status{
	StatusUploading:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusReady, StatusFailed},
	StatusReady:      {},
	StatusFailed:     {},
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	validTargets, ok := ValidTransitions[s]
	if !ok {
		return false
	}
	for _, t := range validTargets {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo attempts to transition to the target status and returns
// ErrInvalidTransition if the move is not allowed.
func (s Status) TransitionTo(target Status) (Status, error) {
	if !s.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}
	return target, nil
}
