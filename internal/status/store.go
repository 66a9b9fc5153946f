package status

import (
	"fmt"
	"sync"
)

// Store owns the global status record for one session. The coordination
// loop is the only writer; Merge applies a whole delta or none of it, so
// no partial update is ever visible to the next iteration.
type Store struct {
	mu      sync.RWMutex
	current GlobalStatus
}

// NewStore creates a store seeded with the caller-supplied initial status.
func NewStore(initial GlobalStatus) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial status: %w", err)
	}
	return &Store{current: initial.Clone()}, nil
}

// Snapshot returns a deep copy of the current status.
func (s *Store) Snapshot() GlobalStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Merge applies a result delta onto the current status, overwriting only
// fields present in the delta and preserving all others. Enum-typed fields
// are validated before anything is written; an out-of-domain value yields
// a *MalformedDeltaError and leaves the status unchanged. Merging an empty
// delta is a no-op. The updated snapshot is returned.
func (s *Store) Merge(delta Delta) (GlobalStatus, error) {
	if err := validateDelta(delta); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()

	if delta.Action != "" {
		next.LastAction = delta.Action
	}
	if delta.Result != "" {
		next.LastResult = delta.Result
	}
	if delta.State != "" {
		next.State = delta.State
	}
	if delta.QueueStatus != "" {
		next.QueueStatus = delta.QueueStatus
	}
	if delta.HandoffRequested != nil {
		next.HandoffRequested = *delta.HandoffRequested
	}
	if delta.BuildSuccessRate != nil {
		next.BuildSuccessRate = *delta.BuildSuccessRate
	}
	if delta.TestSuccessRate != nil {
		next.TestSuccessRate = *delta.TestSuccessRate
	}
	if delta.Errors != nil {
		top := delta.Errors
		if len(top) > MaxTopErrors {
			top = top[:MaxTopErrors]
		}
		next.TopErrors = make([]string, len(top))
		copy(next.TopErrors, top)
		next.ErrorCount = len(delta.Errors)
	}
	if len(delta.Context) > 0 {
		if next.Context == nil {
			next.Context = make(map[string]any, len(delta.Context))
		}
		for k, v := range delta.Context {
			next.Context[k] = v
		}
	}

	s.current = next
	return next.Clone(), nil
}

// SetAgent records which agent produced the last merged result.
func (s *Store) SetAgent(name string) GlobalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.LastAgent = name
	return s.current.Clone()
}

// validateDelta checks every enum-typed field before any write happens.
func validateDelta(d Delta) error {
	if d.Result != "" && !d.Result.Valid() {
		return &MalformedDeltaError{Field: "result", Value: string(d.Result)}
	}
	if d.State != "" && !d.State.Valid() {
		return &MalformedDeltaError{Field: "ai_state", Value: string(d.State)}
	}
	if d.QueueStatus != "" && !d.QueueStatus.Valid() {
		return &MalformedDeltaError{Field: "ai_queue_status", Value: string(d.QueueStatus)}
	}
	return nil
}
