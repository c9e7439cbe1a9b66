package delegation

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kandev/agent-orchestrator/internal/common/config"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/inbox"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/provider"
	"github.com/kandev/agent-orchestrator/internal/store/sqlite"
	"github.com/kandev/agent-orchestrator/internal/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toolsHarness wires a real store/registry/terminal service behind a
// scripted fake tmux binary, the same way the scheduler's tests do, so
// Handoff/Assign exercise the real CreateTerminal/SendInput/GetOutput path.
type toolsHarness struct {
	repo  *sqlite.Repository
	svc   *terminal.Service
	tools *Tools
}

// newToolsHarness wires a fake tmux whose pipe-pane handler mirrors what a
// real terminal does: the pane log exists with a bare shell prompt the
// instant the pipe attaches (so a freshly spawned worker's Initialize sees
// IDLE quickly), then transitions to finalText shortly after, simulating
// the worker's CLI run producing its eventual output.
func newToolsHarness(t *testing.T, finalText string, cfg config.DelegationConfig) *toolsHarness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	finalPath := filepath.Join(t.TempDir(), "final.log")
	require.NoError(t, os.WriteFile(finalPath, []byte(finalText), 0o644))

	binDir := t.TempDir()
	bin := filepath.Join(binDir, "tmux")
	script := "#!/bin/sh\n" +
		"case \"$1\" in\n" +
		"  display-message) printf '/tmp/workdir\\n' ;;\n" +
		"  capture-pane) printf 'line one\\nline two\\n' ;;\n" +
		"  pipe-pane)\n" +
		"    path=$(printf '%s' \"$4\" | sed -n \"s/^cat >> '\\(.*\\)'\\$/\\1/p\")\n" +
		"    if [ -n \"$path\" ]; then\n" +
		"      printf 'user@host:~$ \\n' > \"$path\"\n" +
		"      ( sleep 0.2; cat '" + finalPath + "' > \"$path\" ) &\n" +
		"    fi\n" +
		"    ;;\n" +
		"  *) exit 0 ;;\n" +
		"esac\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	logDir := t.TempDir()
	m := mux.New(bin, logger.Default())
	reg := provider.NewRegistry(m, repo, provider.RegistryConfig{LogDir: logDir}, logger.Default())
	svc := terminal.New(m, repo, reg, logDir, logger.Default())
	ib := inbox.New(repo, logger.Default())
	tools := New(svc, ib, cfg, logger.Default())

	return &toolsHarness{repo: repo, svc: svc, tools: tools}
}

func TestDowngradeServerBackedRemapsQCLI(t *testing.T) {
	assert.Equal(t, model.ProviderCodex, downgradeServerBacked(model.ProviderQCLI))
	assert.Equal(t, model.ProviderClaude, downgradeServerBacked(model.ProviderClaude))
}

func TestHandoffTimeoutZeroReturnsImmediatelyWithFailure(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "user@host:~$ ", config.DelegationConfig{})

	result := h.tools.Handoff(context.Background(), HandoffParams{
		Profile: "worker", Message: "do the task", DefaultProvider: model.ProviderCodex,
	}, 0)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.TerminalID)
}

func TestHandoffCompletesAndExitsWorker(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "{\"type\":\"text\",\"messageID\":\"X\",\"text\":\"all done\"}\n{\"type\":\"step_finish\",\"messageID\":\"X\"}\nuser@host:~$ ", config.DelegationConfig{})

	result := h.tools.Handoff(context.Background(), HandoffParams{
		Profile: "worker", Message: "do the task", DefaultProvider: model.ProviderCodex,
	}, 3*time.Second)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TerminalID)
}

func TestAssignReturnsWithoutWaitingForCompletion(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "{\"type\":\"call\"}", config.DelegationConfig{AssignIDTimeout: 50 * time.Millisecond})

	result := h.tools.Assign(context.Background(), HandoffParams{
		Profile: "worker", Message: "do the task", DefaultProvider: model.ProviderCodex,
	})

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TerminalID)
}

func TestSendMessageAndCheckInboxRoundtrip(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "user@host:~$ ", config.DelegationConfig{})

	ok, _ := h.tools.SendMessage(context.Background(), "", "worker-1", "hello there")
	require.True(t, ok)

	msgs, err := h.tools.CheckInbox(context.Background(), "", "worker-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Message)
}

func TestCheckInboxRequiresATerminalID(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "user@host:~$ ", config.DelegationConfig{})

	_, err := h.tools.CheckInbox(context.Background(), "", "", 0)
	assert.Error(t, err)
}

func TestDoneRelaysToDelegatingSupervisor(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "user@host:~$ ", config.DelegationConfig{})
	ctx := context.Background()

	supervisor, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{Provider: model.ProviderCodex, Cwd: t.TempDir()})
	require.NoError(t, err)
	worker, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{
		Provider: model.ProviderCodex, Cwd: t.TempDir(), DelegatingAgentID: supervisor.ID,
	})
	require.NoError(t, err)

	t.Setenv(trackedTerminalEnvVar, worker.ID)
	ok, _, supervisorID := h.tools.Done(ctx, "", "finished the task")
	assert.True(t, ok)
	assert.Equal(t, supervisor.ID, supervisorID)
}

func TestDoneFailsWithoutKnownSupervisor(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "user@host:~$ ", config.DelegationConfig{})
	ctx := context.Background()

	worker, err := h.svc.CreateTerminal(ctx, terminal.CreateOptions{Provider: model.ProviderCodex, Cwd: t.TempDir()})
	require.NoError(t, err)

	t.Setenv(trackedTerminalEnvVar, worker.ID)
	ok, msg, _ := h.tools.Done(ctx, "", "finished the task")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}

func TestListWorkersRequiresKnownCallerSession(t *testing.T) {
	os.Unsetenv(trackedTerminalEnvVar)
	h := newToolsHarness(t, "user@host:~$ ", config.DelegationConfig{})

	_, err := h.tools.ListWorkers(context.Background(), "")
	assert.Error(t, err)
}
