// Package backend is the transport boundary to the decision oracle. It
// carries a prompt out and raw text back; parsing, validation, and retry
// policy all live with the decision requesters.
package backend

import (
	"context"
	"errors"
)

// Backend invokes the opaque decision oracle with a bounded prompt and
// returns its raw response. Implementations must honor context deadlines
// and must not retry or interpret the response.
type Backend interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// ErrTimeout marks a backend call that exceeded its per-call deadline.
// Requesters treat it like any other validation failure and fall back to
// their deterministic default.
var ErrTimeout = errors.New("backend call timed out")

// IsTimeout reports whether err represents a backend timeout, either the
// sentinel or a context deadline surfaced by the transport.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
