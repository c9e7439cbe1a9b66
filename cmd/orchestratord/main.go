// Command orchestratord runs the Terminal Service's HTTP surface together
// with the Delivery Scheduler, the process that turns a bare Provider
// Registry and Metadata Store into the running multi-agent orchestrator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/api"
	"github.com/kandev/agent-orchestrator/internal/common/config"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/inbox"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/provider"
	"github.com/kandev/agent-orchestrator/internal/scheduler"
	"github.com/kandev/agent-orchestrator/internal/store/sqlite"
	"github.com/kandev/agent-orchestrator/internal/terminal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agent-orchestrator")

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open metadata store", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer repo.Close()
	log.Info("metadata store opened", zap.String("path", cfg.Database.Path))

	muxClient := mux.New(cfg.Mux.Binary, log)

	registry := provider.NewRegistry(muxClient, repo, provider.RegistryConfig{
		LogDir:       cfg.Mux.LogDir,
		HTTPBaseURLs: map[model.ProviderKind]string{model.ProviderQCLI: cfg.Mux.QCLIBaseURL},
	}, log)

	terminalSvc := terminal.New(muxClient, repo, registry, cfg.Mux.LogDir, log)
	inboxSvc := inbox.New(repo, log)

	sched, err := scheduler.New(scheduler.DefaultConfig(cfg.Mux.LogDir), repo, registry, terminalSvc, log)
	if err != nil {
		log.Fatal("failed to construct delivery scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		log.Fatal("failed to start delivery scheduler", zap.Error(err))
	}
	defer sched.Stop()
	log.Info("delivery scheduler started", zap.String("log_dir", cfg.Mux.LogDir))

	router := api.NewRouter(terminalSvc, inboxSvc, cfg.Server.CORSOrigins, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agent-orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("agent-orchestrator stopped")
}
