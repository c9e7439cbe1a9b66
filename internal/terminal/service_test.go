package terminal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/provider"
	"github.com/kandev/agent-orchestrator/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTmuxBinary returns a tmux stand-in that accepts every subcommand,
// printing a plausible cwd/history line for the read-style queries used
// by the Terminal Service.
func fakeTmuxBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tmux")
	script := `#!/bin/sh
case "$1" in
  display-message) printf '/tmp/workdir\n' ;;
  capture-pane) printf 'line one\nline two\n' ;;
  *) exit 0 ;;
esac`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestService(t *testing.T, httpBaseURL string) *Service {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	m := mux.New(fakeTmuxBinary(t), logger.Default())
	reg := provider.NewRegistry(m, repo, provider.RegistryConfig{
		LogDir:       t.TempDir(),
		HTTPBaseURLs: map[model.ProviderKind]string{model.ProviderQCLI: httpBaseURL},
	}, logger.Default())

	return New(m, repo, reg, t.TempDir(), logger.Default())
}

func TestCreateTerminalPersistsAndInitializes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	ctx := context.Background()

	term, err := svc.CreateTerminal(ctx, CreateOptions{
		Provider:     model.ProviderQCLI,
		AgentProfile: "analyst",
		Cwd:          t.TempDir(),
	})
	require.NoError(t, err)
	assert.Len(t, term.ID, 8)
	assert.Equal(t, model.StatusIdle, term.Status)

	got, err := svc.GetTerminal(ctx, term.ID)
	require.NoError(t, err)
	assert.Equal(t, term.ID, got.ID)
	assert.Equal(t, model.StatusIdle, got.Status)
}

func TestSendInputUpdatesLastActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	ctx := context.Background()

	term, err := svc.CreateTerminal(ctx, CreateOptions{Provider: model.ProviderQCLI, AgentProfile: "analyst", Cwd: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, svc.SendInput(ctx, term.ID, "hello"))
}

func TestSendInputUnknownTerminal(t *testing.T) {
	svc := newTestService(t, "http://example.invalid")
	err := svc.SendInput(context.Background(), "deadbeef", "hi")
	require.Error(t, err)
}

func TestGetOutputTailUsesMuxHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	ctx := context.Background()

	term, err := svc.CreateTerminal(ctx, CreateOptions{Provider: model.ProviderQCLI, AgentProfile: "analyst", Cwd: t.TempDir()})
	require.NoError(t, err)

	out, err := svc.GetOutput(ctx, term.ID, model.OutputTail, 10)
	require.NoError(t, err)
	assert.Contains(t, out, "line one")
}

func TestDeleteTerminalRemovesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	ctx := context.Background()

	term, err := svc.CreateTerminal(ctx, CreateOptions{Provider: model.ProviderQCLI, AgentProfile: "analyst", Cwd: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTerminal(ctx, term.ID))
	_, err = svc.GetTerminal(ctx, term.ID)
	require.Error(t, err)
}

func TestListWorkersFiltersBySession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	ctx := context.Background()

	term, err := svc.CreateTerminal(ctx, CreateOptions{Provider: model.ProviderQCLI, AgentProfile: "analyst", Cwd: t.TempDir()})
	require.NoError(t, err)

	workers, err := svc.ListWorkers(ctx, term.MuxSession)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, term.ID, workers[0].ID)

	empty, err := svc.ListWorkers(ctx, "nonexistent-session")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
