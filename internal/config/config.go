// Package config loads the server configuration from a TOML file with
// LINECHAT_<SECTION>_<KEY> environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/andy6609/linechat/internal/chat"
)

const envPrefix = "LINECHAT_"

type Config struct {
	Server  ServerSection  `toml:"server"`
	Limits  LimitsSection  `toml:"limits"`
	Session SessionSection `toml:"session"`
	Log     LogSection     `toml:"log"`
}

type ServerSection struct {
	ListenAddr     string `toml:"listen_addr"`
	HTTPAddr       string `toml:"http_addr"`
	WebSocketPath  string `toml:"websocket_path"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	WriteTimeoutMS int    `toml:"write_timeout_ms"`
}

type LimitsSection struct {
	MaxNicknameLength int `toml:"max_nickname_length"`
}

type SessionSection struct {
	Prompt string `toml:"prompt"`
}

type LogSection struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	EventLogDriver string `toml:"event_log_driver"`
	EventLogPath   string `toml:"event_log_path"`
}

func Default() Config {
	return Config{
		Server: ServerSection{
			ListenAddr:     ":55555",
			HTTPAddr:       ":9090",
			WebSocketPath:  "/ws",
			PollIntervalMS: 1000,
			WriteTimeoutMS: 5000,
		},
		Limits: LimitsSection{
			MaxNicknameLength: 20,
		},
		Session: SessionSection{
			Prompt: "> ",
		},
		Log: LogSection{
			Level:          "info",
			Format:         "json",
			EventLogDriver: "file",
			EventLogPath:   "log.txt",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults and
// a best-effort attempt to write them out; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return applyEnvOverrides(cfg), nil
	}

	path, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// can still run without a file on disk
		_ = writeDefault(path, cfg)
		return applyEnvOverrides(cfg), nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return applyEnvOverrides(cfg), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

func applyEnvOverrides(cfg Config) Config {
	setString(&cfg.Server.ListenAddr, "SERVER_LISTEN_ADDR")
	setString(&cfg.Server.HTTPAddr, "SERVER_HTTP_ADDR")
	setString(&cfg.Server.WebSocketPath, "SERVER_WEBSOCKET_PATH")
	setInt(&cfg.Server.PollIntervalMS, "SERVER_POLL_INTERVAL_MS")
	setInt(&cfg.Server.WriteTimeoutMS, "SERVER_WRITE_TIMEOUT_MS")
	setInt(&cfg.Limits.MaxNicknameLength, "LIMITS_MAX_NICKNAME_LENGTH")
	setString(&cfg.Session.Prompt, "SESSION_PROMPT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.EventLogDriver, "LOG_EVENT_LOG_DRIVER")
	setString(&cfg.Log.EventLogPath, "LOG_EVENT_LOG_PATH")
	return cfg
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("# linechat server configuration\n# Environment variables override these settings: LINECHAT_SECTION_KEY\n\n"); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Server.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("server.poll_interval_ms must be positive, got %d", c.Server.PollIntervalMS))
	}
	if c.Server.WriteTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout_ms must be positive, got %d", c.Server.WriteTimeoutMS))
	}
	if !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		errs = append(errs, fmt.Errorf("server.websocket_path must start with '/', got %q", c.Server.WebSocketPath))
	}
	if c.Limits.MaxNicknameLength <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_nickname_length must be positive, got %d", c.Limits.MaxNicknameLength))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch c.Log.EventLogDriver {
	case "file", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("log.event_log_driver must be file, sqlite or none, got %q", c.Log.EventLogDriver))
	}
	return errors.Join(errs...)
}

func (l LogSection) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// ToServerConfig converts the file representation into chat.Config.
func (c Config) ToServerConfig() chat.Config {
	return chat.Config{
		Addr:          c.Server.ListenAddr,
		HTTPAddr:      c.Server.HTTPAddr,
		WebSocketPath: c.Server.WebSocketPath,
		PollInterval:  time.Duration(c.Server.PollIntervalMS) * time.Millisecond,
		WriteTimeout:  time.Duration(c.Server.WriteTimeoutMS) * time.Millisecond,
		MaxNickname:   c.Limits.MaxNicknameLength,
		Prompt:        c.Session.Prompt,
	}
}
