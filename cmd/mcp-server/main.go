// Command mcp-server runs the Delegation Tools as a standalone MCP tool
// server, so an agent CLI (Claude, Codex, q-cli, opencode) can be pointed at
// it directly without sharing a process with the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/common/config"
	"github.com/kandev/agent-orchestrator/internal/common/logger"
	"github.com/kandev/agent-orchestrator/internal/delegation"
	"github.com/kandev/agent-orchestrator/internal/inbox"
	"github.com/kandev/agent-orchestrator/internal/model"
	"github.com/kandev/agent-orchestrator/internal/mux"
	"github.com/kandev/agent-orchestrator/internal/provider"
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

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open metadata store", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer repo.Close()

	muxClient := mux.New(cfg.Mux.Binary, log)
	registry := provider.NewRegistry(muxClient, repo, provider.RegistryConfig{
		LogDir:       cfg.Mux.LogDir,
		HTTPBaseURLs: map[model.ProviderKind]string{model.ProviderQCLI: cfg.Mux.QCLIBaseURL},
	}, log)
	terminalSvc := terminal.New(muxClient, repo, registry, cfg.Mux.LogDir, log)
	inboxSvc := inbox.New(repo, log)

	tools := delegation.New(terminalSvc, inboxSvc, cfg.Delegation, log)

	mcpServer := delegation.NewMCPServer(delegation.MCPServerConfig{
		Transport:       cfg.MCP.Transport,
		Port:            cfg.MCP.Port,
		DefaultProvider: model.ProviderKind(cfg.Mux.DefaultProvider),
		HandoffTimeout:  cfg.Delegation.HandoffTimeout,
	}, tools, log)

	switch strings.ToLower(cfg.MCP.Transport) {
	case "stdio":
		log.Info("delegation MCP server starting over stdio")
		if err := mcpServer.ServeStdio(); err != nil {
			log.Fatal("mcp stdio server error", zap.Error(err))
		}
	case "sse", "http":
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := mcpServer.Start(ctx); err != nil {
			log.Fatal("failed to start mcp server", zap.Error(err), zap.Int("port", cfg.MCP.Port))
		}
		log.Info("delegation MCP server started", zap.Int("port", cfg.MCP.Port), zap.String("transport", cfg.MCP.Transport))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("shutting down delegation MCP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := mcpServer.Stop(shutdownCtx); err != nil {
			log.Error("mcp server shutdown error", zap.Error(err))
		}
	default:
		log.Fatal("unknown mcp transport", zap.String("transport", cfg.MCP.Transport))
	}

	log.Info("mcp-server stopped")
}
