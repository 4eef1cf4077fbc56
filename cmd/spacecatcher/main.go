package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spacecatcher/internal/channel"
	"spacecatcher/internal/config"
	"spacecatcher/internal/dedup"
	"spacecatcher/internal/domain"
	"spacecatcher/internal/fetch"
	"spacecatcher/internal/housekeeping"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env", "err", err)
	}

	root := &cobra.Command{
		Use:          "spacecatcher",
		Short:        "Slack bot that re-uploads Twitter Space audio into the thread it was linked in",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.spacecatcher/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults plus
// environment overrides when no file exists.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(config.ExpandPath(cfgPath)); statErr == nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Warn("config not found, using defaults", "path", cfgPath)
	cfg = config.Defaults()
	cfg.Slack.BotToken = config.ExpandEnvVars(cfg.Slack.BotToken)
	config.ApplyEnv(cfg)
	cfg.General.WorkDir = config.ExpandPath(cfg.General.WorkDir)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.General.WorkDir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "work_dir", cfg.General.WorkDir)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Slack Events API receiver",
		Long:  "Listens for Slack message events, downloads linked Twitter Spaces with yt-dlp, and uploads the audio into the thread. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	token := strings.TrimSpace(cfg.Slack.BotToken)
	if token == "" || strings.HasPrefix(token, "${") {
		return fmt.Errorf("slack bot token is not set (SLACK_BOT_TOKEN or slack.botToken)")
	}
	if cfg.Slack.SigningSecret == "" {
		logger.Warn("slack.signingSecret not set, request signatures will not be verified")
	}

	if err := os.MkdirAll(cfg.General.WorkDir, 0o755); err != nil {
		return fmt.Errorf("work dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slackAPI := channel.NewSlack(channel.SlackConfig{
		BotToken: token,
		APIURL:   cfg.Slack.APIURL,
		Debug:    cfg.Slack.Debug,
		Logger:   logger,
	})

	// The bot identity is resolved once and never changes afterwards.
	authCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	bot, err := slackAPI.Identity(authCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Binary:         cfg.Fetcher.Binary,
		AudioFormat:    cfg.Fetcher.AudioFormat,
		ExtraArgs:      cfg.Fetcher.ExtraArgs,
		TimeoutSeconds: cfg.Fetcher.TimeoutSeconds,
		Logger:         logger,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}

	webhook := channel.NewWebhook(channel.WebhookConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Path:              cfg.Server.EventsPath,
		MetricsPath:       metricsPath,
		SigningSecret:     cfg.Slack.SigningSecret,
		WorkDir:           cfg.General.WorkDir,
		Async:             cfg.Server.AsyncProcessing,
		MaxConcurrentJobs: cfg.Server.MaxConcurrentJobs,
		Bot:               bot,
		Window:            dedup.NewWindow(cfg.Dedup.Capacity),
		Fetcher:           fetcher,
		Notifier:          slackAPI,
		Logger:            logger,
	})

	if cfg.Housekeeping.Enabled {
		maxAge := time.Duration(cfg.Housekeeping.MaxAgeMinutes) * time.Minute
		sweeper := housekeeping.New(housekeeping.Config{
			Dir:        cfg.General.WorkDir,
			Prefix:     domain.JobDirPrefix,
			MaxAge:     maxAge,
			Schedule:   cfg.Housekeeping.Schedule,
			Logger:     logger,
			AfterSweep: func() { webhook.CleanJobs(maxAge) },
		})
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	if err := webhook.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. fetcher.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 8080)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadRaw(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List every settable config path",
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.Paths(config.Defaults()) {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
