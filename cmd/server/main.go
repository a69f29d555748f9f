package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andy6609/linechat/internal/chat"
	"github.com/andy6609/linechat/internal/config"
	"github.com/andy6609/linechat/internal/eventlog"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

type serveFlags struct {
	configPath string
	addr       string
	httpAddr   string
	logLevel   string
}

func main() {
	var flags serveFlags

	rootCmd := &cobra.Command{
		Use:           "linechat",
		Short:         "Line-oriented multi-client chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), flags)
		},
	}
	rootCmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to TOML config file")
	rootCmd.Flags().StringVar(&flags.addr, "addr", "", "chat listen address (overrides config)")
	rootCmd.Flags().StringVar(&flags.httpAddr, "http-addr", "", "metrics/health/websocket listen address (overrides config)")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("linechat %s (%s) %s %s/%s\n", version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func serve(ctx context.Context, flags serveFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.addr != "" {
		cfg.Server.ListenAddr = flags.addr
	}
	if flags.httpAddr != "" {
		cfg.Server.HTTPAddr = flags.httpAddr
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)

	events, err := eventlog.Open(cfg.Log.EventLogDriver, cfg.Log.EventLogPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer events.Close()

	srv := chat.NewServer(cfg.ToServerConfig(), logger, events)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		return err
	}

	<-ctx.Done()
	srv.Stop()
	return nil
}

func newLogger(cfg config.LogSection) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
