// Package terminal implements the Terminal Service: the facade composing
// the Multiplexer Client, Metadata Store, and Provider Registry into the
// operations the HTTP API and Delegation Tools call.
package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/kandev/agent-orchestrator/internal/provider"
	"github.com/kandev/agent-orchestrator/internal/store"
	"go.uber.org/zap"
)

// Service composes the Multiplexer Client, Metadata Store, and Provider
// Registry behind the operations the rest of the orchestrator calls.
type Service struct {
	mux      *mux.Client
	store    store.Store
	registry *provider.Registry
	logDir   string
	logger   *logger.Logger

	inputMu sync.Map // terminal id -> *sync.Mutex, serializes SendInput per terminal
}

func New(m *mux.Client, s store.Store, reg *provider.Registry, logDir string, log *logger.Logger) *Service {
	return &Service{
		mux:      m,
		store:    s,
		registry: reg,
		logDir:   logDir,
		logger:   log.WithFields(zap.String("component", "terminal-service")),
	}
}

// CreateOptions carries the parameters for CreateTerminal.
type CreateOptions struct {
	Provider          model.ProviderKind
	AgentProfile      string
	Session           string
	NewSession        bool
	Cwd               string
	DelegatingAgentID string
	TargetWindow      string
	InitialMessage    string
}

func newTerminalID() string {
	return uuid.New().String()[:8]
}

// CreateTerminal allocates an id, picks or creates a multiplexer session,
// creates a window, persists metadata, constructs and initializes the
// provider, and begins the pane-log pipe. If NewSession was requested and
// a later step fails, the session is killed so no orphaned process survives.
func (s *Service) CreateTerminal(ctx context.Context, opts CreateOptions) (*model.Terminal, error) {
	id := newTerminalID()
	session := opts.Session
	if session == "" {
		session = fmt.Sprintf("orchestrator-%s", id)
		opts.NewSession = true
	}
	window := opts.TargetWindow
	if window == "" {
		window = id
	}

	killSessionOnFailure := func() {
		if opts.NewSession {
			_ = s.mux.KillSession(context.Background(), session)
		}
	}

	if opts.NewSession {
		if _, err := s.mux.CreateSession(ctx, session, window, id, opts.Cwd); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.mux.CreateWindow(ctx, session, window, id, opts.Cwd); err != nil {
			return nil, err
		}
	}

	term := &model.Terminal{
		ID:                id,
		MuxSession:        session,
		MuxWindow:         window,
		Provider:          opts.Provider,
		AgentProfile:      opts.AgentProfile,
		DelegatingAgentID: opts.DelegatingAgentID,
		InitialMessage:    opts.InitialMessage,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateTerminal(ctx, term); err != nil {
		killSessionOnFailure()
		return nil, err
	}

	p, err := s.registry.GetProvider(ctx, id)
	if err != nil {
		killSessionOnFailure()
		return nil, err
	}
	if p == nil {
		killSessionOnFailure()
		return nil, orcherrors.Internal(nil, "provider not constructed for freshly created terminal %s", id)
	}

	logPath := fmt.Sprintf("%s/%s.log", s.logDir, id)
	if err := s.mux.PipePane(ctx, session, window, logPath); err != nil {
		killSessionOnFailure()
		return nil, err
	}

	if err := p.Initialize(ctx); err != nil {
		killSessionOnFailure()
		return nil, err
	}

	term.Status = model.StatusIdle
	return term, nil
}

// GetTerminal returns metadata plus live status.
func (s *Service) GetTerminal(ctx context.Context, id string) (*model.Terminal, error) {
	term, err := s.store.GetTerminal(ctx, id)
	if err != nil {
		return nil, err
	}
	term.Status = s.liveStatus(ctx, id)
	return term, nil
}

// liveStatus queries the provider for id's status, downgrading any failure
// to IDLE rather than propagating it — used wherever status is enrichment,
// not the primary result.
func (s *Service) liveStatus(ctx context.Context, id string) model.Status {
	p, err := s.registry.GetProvider(ctx, id)
	if err != nil || p == nil {
		return model.StatusIdle
	}
	status, err := p.GetStatus(ctx, 0)
	if err != nil {
		return model.StatusIdle
	}
	return status
}

// ListWorkers returns all terminals in session, each enriched with
// best-effort live status.
func (s *Service) ListWorkers(ctx context.Context, session string) ([]*model.Terminal, error) {
	all, err := s.store.ListTerminals(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Terminal
	for _, t := range all {
		if t.MuxSession != session {
			continue
		}
		t.Status = s.liveStatus(ctx, t.ID)
		out = append(out, t)
	}
	return out, nil
}

// GetTerminalByDelegatingAgentID returns the terminal delegated by agentID.
func (s *Service) GetTerminalByDelegatingAgentID(ctx context.Context, agentID string) (*model.Terminal, error) {
	term, err := s.store.GetTerminalByDelegatingAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	term.Status = s.liveStatus(ctx, term.ID)
	return term, nil
}

func (s *Service) inputLock(id string) *sync.Mutex {
	v, _ := s.inputMu.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SendInput serializes delivery per terminal id, delegates to the
// provider, and updates last_active.
func (s *Service) SendInput(ctx context.Context, id, text string) error {
	lock := s.inputLock(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.registry.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return orcherrors.NotFound("terminal %q not found", id)
	}
	if err := p.SendInput(ctx, text); err != nil {
		return err
	}
	return s.store.UpdateLastActive(ctx, id, time.Now().UTC())
}

// GetOutput returns pane history (FULL/TAIL) or the provider's extracted
// last message (LAST).
func (s *Service) GetOutput(ctx context.Context, id string, mode model.OutputMode, tailLines int) (string, error) {
	term, err := s.store.GetTerminal(ctx, id)
	if err != nil {
		return "", err
	}

	switch mode {
	case model.OutputLast:
		p, err := s.registry.GetProvider(ctx, id)
		if err != nil {
			return "", err
		}
		if p == nil {
			return "", orcherrors.NotFound("terminal %q not found", id)
		}
		return p.ExtractLastMessage(ctx)
	case model.OutputTail:
		return s.mux.GetHistory(ctx, term.MuxSession, term.MuxWindow, tailLines)
	case model.OutputFull:
		return s.mux.GetHistory(ctx, term.MuxSession, term.MuxWindow, 0)
	default:
		return "", orcherrors.InvalidArgument("unknown output mode %q", mode)
	}
}

// GetWorkingDirectory delegates to the multiplexer.
func (s *Service) GetWorkingDirectory(ctx context.Context, id string) (string, error) {
	term, err := s.store.GetTerminal(ctx, id)
	if err != nil {
		return "", err
	}
	return s.mux.GetPaneCwd(ctx, term.MuxSession, term.MuxWindow)
}

// Exit sends the provider's configured exit action (a typed command or a
// control sequence) to retire a worker's CLI without tearing down its
// multiplexer window or metadata.
func (s *Service) Exit(ctx context.Context, id string) error {
	term, err := s.store.GetTerminal(ctx, id)
	if err != nil {
		return err
	}
	p, err := s.registry.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return orcherrors.NotFound("terminal %q not found", id)
	}

	action := p.ExitCommand()
	if action.ControlC {
		return s.mux.SendControlC(ctx, term.MuxSession, term.MuxWindow)
	}
	return s.SendInput(ctx, id, action.Command)
}

// DeleteTerminal stops the pipe, cleans up the provider, and deletes
// metadata, best-effort on each step.
func (s *Service) DeleteTerminal(ctx context.Context, id string) error {
	term, err := s.store.GetTerminal(ctx, id)
	if err != nil {
		return err
	}

	_ = s.mux.StopPipePane(ctx, term.MuxSession, term.MuxWindow)
	_ = s.registry.CleanupProvider(id)
	return s.store.DeleteTerminal(ctx, id)
}
