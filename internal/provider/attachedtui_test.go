package provider

import (
	"context"
	"testing"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/stretchr/testify/assert"
)

func TestAttachedTUIConstantIdleStatus(t *testing.T) {
	p := NewAttachedTUIProvider(nil, "s", "w", "abc12345", logger.Default())
	status, err := p.GetStatus(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, "IDLE", string(status))
}

func TestAttachedTUIExitCommandIsControlC(t *testing.T) {
	p := NewAttachedTUIProvider(nil, "s", "w", "abc12345", logger.Default())
	action := p.ExitCommand()
	assert.True(t, action.ControlC)
}
