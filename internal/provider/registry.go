package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
	"github.com/kandev/agent-orchestrator/internal/store"
	"golang.org/x/sync/singleflight"
)

// RegistryConfig configures how the Registry constructs providers.
type RegistryConfig struct {
	LogDir       string
	HTTPBaseURLs map[model.ProviderKind]string
}

// Registry is the process-wide mapping terminal_id → Provider. Construction
// is lazy and deduplicated: concurrent GetProvider calls for the same id
// that miss the cache collapse into a single construction via singleflight.
type Registry struct {
	mux    *mux.Client
	store  store.TerminalStore
	cfg    RegistryConfig
	logger *logger.Logger

	mu    sync.RWMutex
	cache map[string]Provider

	group singleflight.Group
}

func NewRegistry(m *mux.Client, s store.TerminalStore, cfg RegistryConfig, log *logger.Logger) *Registry {
	return &Registry{
		mux:    m,
		store:  s,
		cfg:    cfg,
		logger: log,
		cache:  make(map[string]Provider),
	}
}

// GetProvider returns the cached provider for id, constructing and caching
// it on first use. Returns (nil, nil) if no terminal with id is known.
func (r *Registry) GetProvider(ctx context.Context, id string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.RLock()
		if p, ok := r.cache[id]; ok {
			r.mu.RUnlock()
			return p, nil
		}
		r.mu.RUnlock()

		term, err := r.store.GetTerminal(ctx, id)
		if err != nil {
			if orcherrors.KindOf(err) == orcherrors.KindNotFound {
				return nil, nil
			}
			return nil, err
		}

		p, err := r.build(term)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[id] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(Provider), nil
}

func (r *Registry) build(term *model.Terminal) (Provider, error) {
	logPath := filepath.Join(r.cfg.LogDir, term.ID+".log")
	launchCmd := term.AgentProfile

	switch term.Provider {
	case model.ProviderClaude:
		return NewTUIProvider(r.mux, term.MuxSession, term.MuxWindow, term.ID, logPath, launchCmd, r.logger), nil
	case model.ProviderCodex:
		return NewJSONStreamProvider(r.mux, term.MuxSession, term.MuxWindow, term.ID, logPath, launchCmd, r.logger), nil
	case model.ProviderQCLI:
		baseURL := r.cfg.HTTPBaseURLs[model.ProviderQCLI]
		return NewHTTPProvider(baseURL, term.MuxSession, term.ID, r.logger), nil
	case model.ProviderOpenCode:
		return NewAttachedTUIProvider(r.mux, term.MuxSession, term.MuxWindow, term.ID, r.logger), nil
	default:
		return nil, orcherrors.New(orcherrors.KindProvider, fmt.Sprintf("UnknownProvider: kind %q", term.Provider))
	}
}

// CleanupProvider releases a cached provider's resources and removes it
// from the cache. Idempotent: calling it again after the first is a no-op.
func (r *Registry) CleanupProvider(id string) error {
	r.mu.Lock()
	p, ok := r.cache[id]
	if ok {
		delete(r.cache, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Cleanup()
}
