package inbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSendEnqueuesPendingMessage(t *testing.T) {
	repo := newTestRepo(t)
	svc := New(repo, logger.Default())
	ctx := context.Background()

	id, err := svc.Send(ctx, "sup-1", "worker-1", "hello")
	require.NoError(t, err)
	assert.Positive(t, id)

	msgs, err := svc.Check(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Message)
}

func TestCheckReturnsFIFOOrderAndRespectsLimit(t *testing.T) {
	repo := newTestRepo(t)
	svc := New(repo, logger.Default())
	ctx := context.Background()

	_, err := svc.Send(ctx, "sup-1", "worker-1", "first")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "sup-1", "worker-1", "second")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "sup-1", "worker-1", "third")
	require.NoError(t, err)

	msgs, err := svc.Check(ctx, "worker-1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Message)
	assert.Equal(t, "second", msgs[1].Message)
}

func TestCheckDefaultsLimitWhenNonPositive(t *testing.T) {
	repo := newTestRepo(t)
	svc := New(repo, logger.Default())
	ctx := context.Background()

	_, err := svc.Send(ctx, "sup-1", "worker-1", "hello")
	require.NoError(t, err)

	msgs, err := svc.Check(ctx, "worker-1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
