// Package fetch runs yt-dlp to pull the audio behind a Space URL.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"spacecatcher/internal/domain"
)

const (
	defaultBinary         = "yt-dlp"
	defaultAudioFormat    = "mp3"
	defaultTimeoutSeconds = 1800
	maxStderrTail         = 2048
)

// Config configures the downloader.
type Config struct {
	Binary         string   // executable name or path
	AudioFormat    string   // passed to --audio-format
	ExtraArgs      []string // inserted before the output template
	TimeoutSeconds int
	Logger         *slog.Logger
}

// Fetcher invokes yt-dlp as a child process, one job at a time per call.
type Fetcher struct {
	binary      string
	audioFormat string
	extraArgs   []string
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a Fetcher, filling unset fields with defaults.
func New(cfg Config) *Fetcher {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = defaultAudioFormat
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		binary:      cfg.Binary,
		audioFormat: cfg.AudioFormat,
		extraArgs:   cfg.ExtraArgs,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:      cfg.Logger,
	}
}

// Args returns the argument list for a job. The URL follows "--" so it is
// never read as an option.
func (f *Fetcher) Args(job domain.DownloadJob) []string {
	args := []string{"-x", "--audio-format", f.audioFormat, "--no-playlist"}
	args = append(args, f.extraArgs...)
	args = append(args, "-o", filepath.Join(job.WorkDir, job.ID+".%(ext)s"), "--", job.SourceURL)
	return args
}

// Fetch downloads job.SourceURL into job.WorkDir and returns the produced
// file's path. It blocks until the process exits or the timeout elapses.
func (f *Fetcher) Fetch(ctx context.Context, job domain.DownloadJob) (string, error) {
	if job.WorkDir == "" || job.ID == "" {
		return "", fmt.Errorf("%w: job has no work dir or id", domain.ErrExtractionFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.binary, f.Args(job)...)
	cmd.Dir = job.WorkDir
	// ffmpeg children can keep stderr open after yt-dlp is killed
	cmd.WaitDelay = 10 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	f.logger.Info("fetch started", "job", job.ID, "url", job.SourceURL)
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", domain.ErrExtractionFailed, f.timeout)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: cancelled: %v", domain.ErrExtractionFailed, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %v: %s", domain.ErrExtractionFailed, f.binary, err, tail(stderr.String()))
	}

	path, err := findOutput(job.WorkDir, job.ID)
	if err != nil {
		return "", err
	}
	f.logger.Info("fetch finished", "job", job.ID, "file", filepath.Base(path), "duration", elapsed.Round(time.Millisecond))
	return path, nil
}

// findOutput returns the single file in dir whose name starts with prefix.
// The extension depends on the negotiated format, so the name cannot be
// predicted exactly.
func findOutput(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: read work dir: %v", domain.ErrExtractionFailed, err)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		// yt-dlp leaves .part/.ytdl files behind on partial downloads
		if strings.HasSuffix(e.Name(), ".part") || strings.HasSuffix(e.Name(), ".ytdl") {
			continue
		}
		matches = append(matches, filepath.Join(dir, e.Name()))
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("%w: no output file with prefix %q", domain.ErrExtractionFailed, prefix)
	default:
		return "", fmt.Errorf("%w: %d output files with prefix %q", domain.ErrExtractionFailed, len(matches), prefix)
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		s = "..." + s[len(s)-maxStderrTail:]
	}
	return s
}
