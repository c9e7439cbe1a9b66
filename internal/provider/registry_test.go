package provider

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTerminalStore struct {
	terminals map[string]*model.Terminal
}

func newFakeTerminalStore() *fakeTerminalStore {
	return &fakeTerminalStore{terminals: make(map[string]*model.Terminal)}
}

func (f *fakeTerminalStore) CreateTerminal(ctx context.Context, t *model.Terminal) error {
	f.terminals[t.ID] = t
	return nil
}

func (f *fakeTerminalStore) GetTerminal(ctx context.Context, id string) (*model.Terminal, error) {
	t, ok := f.terminals[id]
	if !ok {
		return nil, orcherrors.NotFound("terminal %q not found", id)
	}
	return t, nil
}

func (f *fakeTerminalStore) GetTerminalByDelegatingAgentID(ctx context.Context, delegatingAgentID string) (*model.Terminal, error) {
	for _, t := range f.terminals {
		if t.DelegatingAgentID == delegatingAgentID {
			return t, nil
		}
	}
	return nil, orcherrors.NotFound("no terminal delegated by %q", delegatingAgentID)
}

func (f *fakeTerminalStore) ListTerminals(ctx context.Context) ([]*model.Terminal, error) {
	var out []*model.Terminal
	for _, t := range f.terminals {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTerminalStore) UpdateLastActive(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (f *fakeTerminalStore) DeleteTerminal(ctx context.Context, id string) error {
	delete(f.terminals, id)
	return nil
}

func TestRegistryGetProviderReturnsNilForUnknownTerminal(t *testing.T) {
	s := newFakeTerminalStore()
	reg := NewRegistry(nil, s, RegistryConfig{LogDir: t.TempDir()}, logger.Default())

	p, err := reg.GetProvider(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRegistryGetProviderConstructsAndCaches(t *testing.T) {
	s := newFakeTerminalStore()
	_ = s.CreateTerminal(context.Background(), &model.Terminal{ID: "abc12345", Provider: model.ProviderClaude, MuxSession: "s", MuxWindow: "w"})
	reg := NewRegistry(nil, s, RegistryConfig{LogDir: t.TempDir()}, logger.Default())

	p1, err := reg.GetProvider(context.Background(), "abc12345")
	require.NoError(t, err)
	require.NotNil(t, p1)

	p2, err := reg.GetProvider(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestRegistryUnknownProviderKind(t *testing.T) {
	s := newFakeTerminalStore()
	_ = s.CreateTerminal(context.Background(), &model.Terminal{ID: "abc12345", Provider: model.ProviderKind("mystery"), MuxSession: "s", MuxWindow: "w"})
	reg := NewRegistry(nil, s, RegistryConfig{LogDir: t.TempDir()}, logger.Default())

	_, err := reg.GetProvider(context.Background(), "abc12345")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnknownProvider")
}

func TestRegistryCleanupProviderIsIdempotent(t *testing.T) {
	s := newFakeTerminalStore()
	_ = s.CreateTerminal(context.Background(), &model.Terminal{ID: "abc12345", Provider: model.ProviderClaude, MuxSession: "s", MuxWindow: "w"})
	reg := NewRegistry(nil, s, RegistryConfig{LogDir: t.TempDir()}, logger.Default())

	_, err := reg.GetProvider(context.Background(), "abc12345")
	require.NoError(t, err)

	require.NoError(t, reg.CleanupProvider("abc12345"))
	require.NoError(t, reg.CleanupProvider("abc12345"))
}
