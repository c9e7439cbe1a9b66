// Package scheduler implements the Delivery Scheduler: a file-system
// watcher over the pane-log directory that drives auto-relay (worker to
// supervisor) and inbox drain (supervisor to worker) on every pane write.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/kandev/agent-orchestrator/internal/provider"
	"github.com/kandev/agent-orchestrator/internal/store"
	"github.com/kandev/agent-orchestrator/internal/terminal"
	"go.uber.org/zap"
)

// Config configures the Delivery Scheduler.
type Config struct {
	LogDir           string
	Debounce         time.Duration
	StatusTailLines  int
	IdlePrecheckTail int64 // bytes read from the log tail for the idle-pattern pre-check
}

func DefaultConfig(logDir string) Config {
	return Config{
		LogDir:           logDir,
		Debounce:         100 * time.Millisecond,
		StatusTailLines:  24,
		IdlePrecheckTail: 2048,
	}
}

// Scheduler watches the pane-log directory and drives relay/drain.
type Scheduler struct {
	cfg         Config
	store       store.Store
	registry    *provider.Registry
	terminalSvc *terminal.Service
	logger      *logger.Logger

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup

	perTerminal sync.Map // terminal id -> *sync.Mutex, serializes relay+drain per receiver
	lastRelayed sync.Map // terminal id -> string (last relayed de-dup key)
}

func New(cfg Config, s store.Store, reg *provider.Registry, termSvc *terminal.Service, log *logger.Logger) (*Scheduler, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.KindInternal, "creating fsnotify watcher", err)
	}
	return &Scheduler{
		cfg:         cfg,
		store:       s,
		registry:    reg,
		terminalSvc: termSvc,
		logger:      log.WithFields(zap.String("component", "delivery-scheduler")),
		fsWatcher:   fsw,
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching the pane-log directory. The scheduler runs its own
// goroutine and stops on Stop.
func (s *Scheduler) Start() error {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "preparing pane-log directory", err)
	}
	if err := s.fsWatcher.Add(s.cfg.LogDir); err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "watching pane-log directory", err)
	}

	s.wg.Add(1)
	go s.loop()
	s.logger.Info("delivery scheduler started", zap.String("log_dir", s.cfg.LogDir))
	return nil
}

func (s *Scheduler) Stop() error {
	close(s.done)
	err := s.fsWatcher.Close()
	s.wg.Wait()
	return err
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	debounced := make(map[string]*time.Timer)
	var mu sync.Mutex
	fire := make(chan string, 64)

	for {
		select {
		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			id, ok := s.isRelevantEvent(event)
			if !ok {
				continue
			}

			mu.Lock()
			if t, exists := debounced[id]; exists {
				t.Reset(s.cfg.Debounce)
			} else {
				debounced[id] = time.AfterFunc(s.cfg.Debounce, func() {
					mu.Lock()
					delete(debounced, id)
					mu.Unlock()
					select {
					case fire <- id:
					default:
					}
				})
			}
			mu.Unlock()

		case id := <-fire:
			go s.handleTick(context.Background(), id)

		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("pane-log watcher error", zap.Error(err))

		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) isRelevantEvent(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return "", false
	}
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, ".log") {
		return "", false
	}
	return strings.TrimSuffix(base, ".log"), true
}

// handleTick performs auto-relay then inbox-drain for one terminal,
// serialized per terminal id so at most one delivery attempt is in flight.
func (s *Scheduler) handleTick(ctx context.Context, terminalID string) {
	lock := s.terminalLock(terminalID)
	lock.Lock()
	defer lock.Unlock()

	term, err := s.store.GetTerminal(ctx, terminalID)
	if err != nil {
		return
	}
	p, err := s.registry.GetProvider(ctx, terminalID)
	if err != nil || p == nil {
		return
	}

	s.autoRelay(ctx, term, p)
	s.inboxDrain(ctx, term, p)
}

func (s *Scheduler) terminalLock(id string) *sync.Mutex {
	v, _ := s.perTerminal.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Scheduler) autoRelay(ctx context.Context, term *model.Terminal, p provider.Provider) {
	status, err := p.GetStatus(ctx, s.cfg.StatusTailLines)
	if err != nil || status != model.StatusCompleted {
		return
	}
	if term.DelegatingAgentID == "" {
		return
	}

	relayKey := term.ID + "||" + term.InitialMessage
	if last, ok := s.lastRelayed.Load(term.ID); ok && last.(string) == relayKey {
		return
	}

	reply, err := p.ExtractLastMessage(ctx)
	if err != nil || strings.TrimSpace(reply) == "" {
		return
	}

	message := fmt.Sprintf("Subagent %s results:\n\n%s", term.ID, reply)
	if err := s.terminalSvc.SendInput(ctx, term.DelegatingAgentID, message); err != nil {
		s.logger.Warn("auto-relay send failed", zap.String("terminal_id", term.ID), zap.Error(err))
		return
	}
	s.lastRelayed.Store(term.ID, relayKey)
}

func (s *Scheduler) inboxDrain(ctx context.Context, term *model.Terminal, p provider.Provider) {
	tail, err := readTailBytes(filepath.Join(s.cfg.LogDir, term.ID+".log"), s.cfg.IdlePrecheckTail)
	if err != nil {
		return
	}
	if !p.IdlePatternForLog().MatchString(lastNLines(string(tail), 5)) {
		return
	}

	pending, err := s.store.ListPending(ctx, term.ID, 1)
	if err != nil || len(pending) == 0 {
		return
	}
	msg := pending[0]

	status, err := p.GetStatus(ctx, s.cfg.StatusTailLines)
	if err != nil || (status != model.StatusIdle && status != model.StatusCompleted) {
		return
	}

	if err := s.terminalSvc.SendInput(ctx, term.ID, msg.Message); err != nil {
		if updErr := s.store.UpdateMessageStatus(ctx, msg.ID, model.InboxFailed); updErr != nil {
			s.logger.Error("failed to mark inbox message FAILED", zap.Int64("message_id", msg.ID), zap.Error(updErr))
		}
		s.logger.Warn("inbox delivery failed", zap.Int64("message_id", msg.ID), zap.String("terminal_id", term.ID), zap.Error(err))
		return
	}
	if err := s.store.UpdateMessageStatus(ctx, msg.ID, model.InboxDelivered); err != nil {
		s.logger.Error("failed to mark inbox message DELIVERED", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
}

func lastNLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if n <= 0 || n >= len(lines) {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func readTailBytes(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	offset := int64(0)
	if size > maxBytes {
		offset = size - maxBytes
	}
	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
