package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

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

func newTestRouter(t *testing.T) (http.Handler, *sqlite.Repository) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	binDir := t.TempDir()
	bin := filepath.Join(binDir, "tmux")
	script := "#!/bin/sh\n" +
		"case \"$1\" in\n" +
		"  display-message) printf '/tmp/workdir\\n' ;;\n" +
		"  capture-pane) printf 'user@host:~$ \\n' ;;\n" +
		"  pipe-pane)\n" +
		"    path=$(printf '%s' \"$4\" | sed -n \"s/^cat >> '\\(.*\\)'\\$/\\1/p\")\n" +
		"    [ -n \"$path\" ] && printf 'user@host:~$ \\n' > \"$path\"\n" +
		"    ;;\n" +
		"  *) exit 0 ;;\n" +
		"esac\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	logDir := t.TempDir()
	m := mux.New(bin, logger.Default())
	reg := provider.NewRegistry(m, repo, provider.RegistryConfig{LogDir: logDir}, logger.Default())
	svc := terminal.New(m, repo, reg, logDir, logger.Default())
	ib := inbox.New(repo, logger.Default())

	return NewRouter(svc, ib, nil, logger.Default()), repo
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionHappyPath(t *testing.T) {
	router, repo := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", CreateSessionRequest{
		Provider: model.ProviderCodex, AgentProfile: "worker", WorkingDirectory: t.TempDir(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var term model.Terminal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &term))
	assert.Regexp(t, model.TerminalIDPattern, term.ID)

	stored, err := repo.GetTerminal(context.Background(), term.ID)
	require.NoError(t, err)
	assert.Equal(t, term.ID, stored.ID)
}

func TestCreateSessionRejectsUnknownProvider(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/sessions", CreateSessionRequest{
		Provider: "not-a-real-provider", AgentProfile: "worker",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestCreateSessionInvalidCwdInsertsNoRow covers spec scenario S4: an
// invalid working directory is rejected and no terminal row survives.
func TestCreateSessionInvalidCwdInsertsNoRow(t *testing.T) {
	router, repo := newTestRouter(t)

	before, err := repo.ListTerminals(context.Background())
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/sessions", CreateSessionRequest{
		Provider: model.ProviderCodex, AgentProfile: "worker", WorkingDirectory: "/does/not/exist",
	})
	assert.True(t, rec.Code == http.StatusBadRequest || rec.Code == http.StatusInternalServerError)

	after, err := repo.ListTerminals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestGetTerminalNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/terminals/deadbeef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInboxListRejectsLimitAbove100(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/terminals/deadbeef/inbox/messages?limit=150", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInboxListAcceptsLimitAt100(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/terminals/deadbeef/inbox/messages?limit=100", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInboxSendAndListRoundtrip(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/terminals/worker1/inbox/messages?sender_id=sup1&message=hello", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/terminals/worker1/inbox/messages?status=PENDING", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages []model.InboxMessage `json:"messages"`
		Total    int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hello", body.Messages[0].Message)
}
