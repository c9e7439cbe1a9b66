package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/provider"
	"github.com/kandev/agent-orchestrator/internal/store/sqlite"
	"github.com/kandev/agent-orchestrator/internal/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness wires a real sqlite-backed store, mux.Client, Provider Registry,
// and Terminal Service, the same stack the scheduler runs against in
// production, against a scripted fake tmux binary.
type harness struct {
	repo   *sqlite.Repository
	svc    *terminal.Service
	reg    *provider.Registry
	logDir string
	argLog string
}

func newHarness(t *testing.T, httpBaseURL string) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	argLog := filepath.Join(t.TempDir(), "tmux-args.log")
	binDir := t.TempDir()
	bin := filepath.Join(binDir, "tmux")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> '" + argLog + "'\n" +
		"case \"$1\" in\n" +
		"  display-message) printf '/tmp/workdir\\n' ;;\n" +
		"  capture-pane) printf 'line one\\nline two\\n' ;;\n" +
		"  *) exit 0 ;;\n" +
		"esac\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	logDir := t.TempDir()
	m := mux.New(bin, logger.Default())
	reg := provider.NewRegistry(m, repo, provider.RegistryConfig{
		LogDir:       logDir,
		HTTPBaseURLs: map[model.ProviderKind]string{model.ProviderQCLI: httpBaseURL},
	}, logger.Default())
	svc := terminal.New(m, repo, reg, logDir, logger.Default())

	return &harness{repo: repo, svc: svc, reg: reg, logDir: logDir, argLog: argLog}
}

func (h *harness) writeLog(t *testing.T, terminalID, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.logDir, terminalID+".log"), []byte(content), 0o644))
}

func (h *harness) scheduler() *Scheduler {
	return &Scheduler{
		cfg:         DefaultConfig(h.logDir),
		store:       h.repo,
		registry:    h.reg,
		terminalSvc: h.svc,
		logger:      logger.Default(),
	}
}

func (h *harness) tmuxArgs(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(h.argLog)
	require.NoError(t, err)
	return string(b)
}

func TestIsRelevantEventFiltersToLogWrites(t *testing.T) {
	s := &Scheduler{}

	id, ok := s.isRelevantEvent(fsnotify.Event{Name: "/logs/abc12345.log", Op: fsnotify.Write})
	assert.True(t, ok)
	assert.Equal(t, "abc12345", id)

	_, ok = s.isRelevantEvent(fsnotify.Event{Name: "/logs/abc12345.log", Op: fsnotify.Chmod})
	assert.False(t, ok)

	_, ok = s.isRelevantEvent(fsnotify.Event{Name: "/logs/abc12345.db-wal", Op: fsnotify.Write})
	assert.False(t, ok)

	id, ok = s.isRelevantEvent(fsnotify.Event{Name: "/logs/deadbeef.log", Op: fsnotify.Create})
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", id)
}

func TestAutoRelayDeliversOnceAndDedupsPerTerminal(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		prompts = append(prompts, body.Prompt)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx := context.Background()

	supervisor, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{
		Provider: model.ProviderQCLI, AgentProfile: "lead", Cwd: t.TempDir(),
	})
	require.NoError(t, err)

	worker, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{
		Provider:          model.ProviderCodex,
		AgentProfile:      "worker",
		Cwd:               t.TempDir(),
		DelegatingAgentID: supervisor.ID,
		InitialMessage:    "do the task",
	})
	require.NoError(t, err)

	h.writeLog(t, worker.ID, "{\"type\":\"text\",\"messageID\":\"X\",\"text\":\"task done\"}\n"+
		"{\"type\":\"step_finish\",\"messageID\":\"X\"}\n"+
		"user@host:~$ ")

	sched := h.scheduler()
	sched.handleTick(ctx, worker.ID)
	sched.handleTick(ctx, worker.ID) // second tick must not relay again

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Subagent "+worker.ID+" results:")
	assert.Contains(t, prompts[0], "task done")
}

func TestAutoRelaySkippedWhenNotCompleted(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx := context.Background()

	supervisor, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{Provider: model.ProviderQCLI, AgentProfile: "lead", Cwd: t.TempDir()})
	require.NoError(t, err)
	worker, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{
		Provider: model.ProviderCodex, AgentProfile: "worker", Cwd: t.TempDir(),
		DelegatingAgentID: supervisor.ID, InitialMessage: "do the task",
	})
	require.NoError(t, err)

	h.writeLog(t, worker.ID, "{\"type\":\"call\",\"messageID\":\"X\"}")

	sched := h.scheduler()
	sched.handleTick(ctx, worker.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestInboxDrainDeliversOldestPendingWhenIdle(t *testing.T) {
	h := newHarness(t, "http://example.invalid")
	ctx := context.Background()

	receiver, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{Provider: model.ProviderCodex, AgentProfile: "worker", Cwd: t.TempDir()})
	require.NoError(t, err)

	h.writeLog(t, receiver.ID, "user@host:~$ ")

	_, err = h.repo.EnqueueMessage(ctx, "supervisor-1", receiver.ID, "first message")
	require.NoError(t, err)
	_, err = h.repo.EnqueueMessage(ctx, "supervisor-1", receiver.ID, "second message")
	require.NoError(t, err)

	sched := h.scheduler()
	sched.handleTick(ctx, receiver.ID)

	pending, err := h.repo.ListPending(ctx, receiver.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second message", pending[0].Message)
	assert.Contains(t, h.tmuxArgs(t), "first message")

	sched.handleTick(ctx, receiver.ID)

	pendingAfter, err := h.repo.ListPending(ctx, receiver.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, pendingAfter)
	assert.Contains(t, h.tmuxArgs(t), "second message")
}

func TestInboxDrainSkippedWhenBusy(t *testing.T) {
	h := newHarness(t, "http://example.invalid")
	ctx := context.Background()

	receiver, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{Provider: model.ProviderCodex, AgentProfile: "worker", Cwd: t.TempDir()})
	require.NoError(t, err)

	// Mid-stream content: not at a shell prompt, so the idle pre-check fails.
	h.writeLog(t, receiver.ID, "{\"type\":\"call\"}")

	_, err = h.repo.EnqueueMessage(ctx, "supervisor-1", receiver.ID, "pending message")
	require.NoError(t, err)

	sched := h.scheduler()
	sched.handleTick(ctx, receiver.ID)

	pending, err := h.repo.ListPending(ctx, receiver.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pending message", pending[0].Message)
}

func TestHandleTickIgnoresUnknownTerminal(t *testing.T) {
	h := newHarness(t, "http://example.invalid")
	// Must not panic when the log event belongs to a terminal that was
	// never created (or was already deleted).
	h.scheduler().handleTick(context.Background(), "deadbeef")
}
