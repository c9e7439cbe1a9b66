// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, a config
// file, and defaults, mirroring the teacher's viper-based config loader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mux        MuxConfig        `mapstructure:"mux"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	PublicURL    string   `mapstructure:"publicURL"`
	CORSOrigins  []string `mapstructure:"corsOrigins"`
	ReadTimeout  int      `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int      `mapstructure:"writeTimeout"` // seconds
}

// DatabaseConfig holds the Metadata Store connection configuration.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite
	Path   string `mapstructure:"path"`
}

// MuxConfig holds Multiplexer Client configuration.
type MuxConfig struct {
	Binary          string `mapstructure:"binary"`          // path to the tmux executable
	DefaultProvider string `mapstructure:"defaultProvider"` // default provider kind for new terminals
	LogDir          string `mapstructure:"logDir"`          // pane-log directory (<home>/agent-orchestrator/logs/terminal)
	QCLIBaseURL     string `mapstructure:"qcliBaseURL"`     // base URL of the server-backed q-cli provider's HTTP API
}

// DelegationConfig holds Delegation Tool behavior configuration.
type DelegationConfig struct {
	EnableCwdParam  bool          `mapstructure:"enableCwdParam"`
	HandoffTimeout  time.Duration `mapstructure:"handoffTimeout"`
	InitIdleTimeout time.Duration `mapstructure:"initIdleTimeout"`
	AssignIDTimeout time.Duration `mapstructure:"assignIDTimeout"`
}

// MCPConfig holds the MCP tool server transport configuration.
type MCPConfig struct {
	Transport string `mapstructure:"transport"` // stdio | sse | http
	Port      int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ORCHESTRATOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.publicURL", "http://localhost:8080")
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./orchestrator.db")

	v.SetDefault("mux.binary", "tmux")
	v.SetDefault("mux.defaultProvider", "claude")
	v.SetDefault("mux.logDir", defaultLogDir())
	v.SetDefault("mux.qcliBaseURL", "http://localhost:9091")

	v.SetDefault("delegation.enableCwdParam", true)
	v.SetDefault("delegation.handoffTimeout", "600s")
	v.SetDefault("delegation.initIdleTimeout", "30s")
	v.SetDefault("delegation.assignIDTimeout", "5s")

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.port", 9090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/agent-orchestrator/logs/terminal"
}

// Load reads configuration from environment variables, an optional config
// file, and defaults. Environment variables use the ORCHESTRATOR_ prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given directory or default
// locations ("." and "/etc/agent-orchestrator/").
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agent-orchestrator/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validTransports := map[string]bool{"stdio": true, "sse": true, "http": true}
	if !validTransports[strings.ToLower(cfg.MCP.Transport)] {
		errs = append(errs, "mcp.transport must be one of: stdio, sse, http")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
