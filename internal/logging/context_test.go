package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDFromContext_Absent(t *testing.T) {
	assert.Empty(t, SessionIDFromContext(context.Background()))
	assert.Empty(t, AgentFromContext(context.Background()))
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_SessionAndAgent(t *testing.T) {
	ctx := WithAgent(WithSessionID(context.Background(), "s1"), "tester")
	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)
}
