package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"spacecatcher/internal/channel"
	"spacecatcher/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, work directory, yt-dlp binary and Slack
credentials are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("spacecatcher doctor v%s\n\n", version)

			var passed, failed, warned int

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config", err.Error())
				return fmt.Errorf("config invalid")
			}
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printWarn("Config file", "not found, using defaults + environment")
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			if err := checkWritableDir(cfg.General.WorkDir); err != nil {
				printFail("Work dir", err.Error())
				failed++
			} else {
				printPass("Work dir", cfg.General.WorkDir)
				passed++
			}

			if v, err := checkDownloader(cfg.Fetcher.Binary); err != nil {
				printFail("Downloader", err.Error())
				failed++
			} else {
				printPass("Downloader", fmt.Sprintf("%s %s", cfg.Fetcher.Binary, v))
				passed++
			}

			token := strings.TrimSpace(cfg.Slack.BotToken)
			switch {
			case token == "" || strings.HasPrefix(token, "${"):
				printFail("Slack token", "not set (SLACK_BOT_TOKEN or slack.botToken)")
				failed++
			case offline:
				printWarn("Slack token", "set, not verified (--offline)")
				warned++
			default:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				bot, err := channel.NewSlack(channel.SlackConfig{BotToken: token, APIURL: cfg.Slack.APIURL, Logger: logger}).Identity(ctx)
				cancel()
				if err != nil {
					printFail("Slack auth", err.Error())
					failed++
				} else {
					printPass("Slack auth", fmt.Sprintf("%s (%s)", bot.User, bot.UserID))
					passed++
				}
			}

			if cfg.Slack.SigningSecret == "" {
				printWarn("Signing secret", "not set, requests will not be verified")
				warned++
			} else {
				printPass("Signing secret", "set")
				passed++
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the Slack auth.test call")
	return cmd
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	probe, err := os.MkdirTemp(dir, "doctor-")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return os.RemoveAll(probe)
}

// checkDownloader resolves the binary and returns its reported version.
func checkDownloader(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH", binary)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-16s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-16s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-16s %s\n", check, detail)
}
