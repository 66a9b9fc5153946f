// Package agent defines the capability contract consumed by the
// coordination loop and the registry that resolves agent names to
// capabilities.
package agent

import (
	"context"

	"github.com/fyrsmithlabs/coordd/internal/status"
)

// Capability is the single operation an agent exposes. It receives an
// immutable snapshot of the global status and returns a structured delta;
// agents never mutate status directly. Implementations shared across
// sessions must be stateless.
type Capability interface {
	Execute(ctx context.Context, snapshot status.GlobalStatus) (status.Delta, error)
}

// Func adapts a plain function to the Capability interface.
type Func func(ctx context.Context, snapshot status.GlobalStatus) (status.Delta, error)

// Execute implements Capability.
func (f Func) Execute(ctx context.Context, snapshot status.GlobalStatus) (status.Delta, error) {
	return f(ctx, snapshot)
}
