package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"spacecatcher/internal/dedup"
	"spacecatcher/internal/domain"
	"spacecatcher/internal/intake"
	"spacecatcher/internal/jobs"
	"spacecatcher/internal/metrics"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

const (
	maxBodyBytes = 1 << 20

	eventReceived = "Event received"
	startText     = "Downloading Twitter Space audio from %s..."
	uploadTitle   = "Downloaded Twitter Space"
	uploadComment = "Here's the audio from the posted Twitter Space."
	failureText   = "Sorry, I couldn't download that Twitter Space."
)

// WebhookConfig configures the Events API receiver.
type WebhookConfig struct {
	Host          string
	Port          int
	Path          string // events URL path (default: /slack/events)
	MetricsPath   string // empty disables the metrics endpoint
	SigningSecret string // verifies X-Slack-Signature when set
	WorkDir       string // parent of per-job temp dirs (default: os.TempDir())

	// Async acknowledges eligible events immediately and downloads in the
	// background, at most MaxConcurrentJobs at a time.
	Async             bool
	MaxConcurrentJobs int

	Bot      domain.BotIdentity
	Window   *dedup.Window
	Fetcher  domain.Fetcher
	Notifier domain.Notifier
	Logger   *slog.Logger
}

// Webhook receives Slack Events API deliveries and turns Space links into
// uploaded audio.
type Webhook struct {
	host          string
	port          int
	path          string
	metricsPath   string
	signingSecret string
	workDir       string
	async         bool

	window     *dedup.Window
	classifier *intake.Classifier
	fetcher    domain.Fetcher
	notifier   domain.Notifier
	runner     *jobs.Runner
	logger     *slog.Logger
	newJobID   func() string

	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	server     *http.Server
}

// NewWebhook creates the receiver. Window, Fetcher and Notifier are required.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/slack/events"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Window == nil {
		cfg.Window = dedup.NewWindow(dedup.DefaultCapacity)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	jobsCtx, cancel := context.WithCancel(context.Background())
	w := &Webhook{
		host:          cfg.Host,
		port:          cfg.Port,
		path:          cfg.Path,
		metricsPath:   cfg.MetricsPath,
		signingSecret: cfg.SigningSecret,
		workDir:       cfg.WorkDir,
		async:         cfg.Async,
		window:        cfg.Window,
		classifier:    intake.NewClassifier(cfg.Bot),
		fetcher:       cfg.Fetcher,
		notifier:      cfg.Notifier,
		logger:        cfg.Logger,
		newJobID:      uuid.NewString,
		jobsCtx:       jobsCtx,
		cancelJobs:    cancel,
	}
	if cfg.Async {
		w.runner = jobs.NewRunner(cfg.MaxConcurrentJobs, cfg.Logger)
	}
	return w
}

// Handler returns the HTTP routes served by the receiver.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleEvents)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte("ok\n"))
	})
	if w.metricsPath != "" {
		mux.HandleFunc(w.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is done, then drains in-flight background jobs.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr, "path", w.path, "async", w.async)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		return w.Stop()
	case err := <-errCh:
		w.cancelJobs()
		return fmt.Errorf("webhook server: %w", err)
	}
}

// Stop shuts the HTTP server down and waits for background jobs. Jobs still
// running after the grace period are cancelled.
func (w *Webhook) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if w.server != nil {
		err = w.server.Shutdown(shutdownCtx)
	}
	if w.runner != nil {
		if werr := w.runner.Wait(shutdownCtx); werr != nil {
			w.logger.Warn("background jobs still running, cancelling", "count", len(w.runner.ListActive()))
			w.cancelJobs()
			drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = w.runner.Wait(drainCtx)
			drainCancel()
		}
	}
	w.cancelJobs()
	return err
}

// CleanJobs drops finished background job records older than maxAge.
func (w *Webhook) CleanJobs(maxAge time.Duration) int {
	if w.runner == nil {
		return 0
	}
	return w.runner.Clean(maxAge)
}

func (w *Webhook) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.DeliveriesTotal.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		w.logger.Error("read webhook body", "err", err)
		w.respondMalformed(rw)
		return
	}

	if w.signingSecret != "" {
		if err := verifySlackSignature(r.Header, body, w.signingSecret); err != nil {
			w.logger.Warn("slack signature rejected", "err", err)
			http.Error(rw, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	delivery, err := intake.ParseDelivery(body)
	if err != nil {
		w.logger.Error("parse webhook body", "err", err)
		w.respondMalformed(rw)
		return
	}

	if delivery.Handshake {
		w.logger.Info("url verification handshake")
		metrics.Outcome(string(intake.OutcomeHandshake)).Inc()
		rw.Header().Set("Content-Type", "text/plain")
		rw.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(rw, delivery.Challenge)
		return
	}

	if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
		w.logger.Debug("slack redelivery", "retry", retry, "reason", r.Header.Get("X-Slack-Retry-Reason"), "event_id", delivery.EventID)
	}

	outcome := w.dispatch(r.Context(), delivery)
	metrics.Outcome(string(outcome)).Inc()

	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, eventReceived)
}

func (w *Webhook) respondMalformed(rw http.ResponseWriter) {
	metrics.Outcome(string(intake.OutcomeMalformed)).Inc()
	http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
}

// dispatch runs dedup, eligibility and URL matching, then processes the job
// inline or hands it to the background runner.
func (w *Webhook) dispatch(ctx context.Context, d intake.Delivery) (outcome intake.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("dispatch panicked", "panic", p)
			outcome = intake.OutcomeFailed
		}
	}()

	if d.Event == nil {
		return intake.OutcomeNoEvent
	}
	ev := *d.Event

	// dedup must run before anything with side effects
	if !w.window.ShouldProcess(ev.Timestamp) {
		w.logger.Debug("duplicate delivery ignored", "channel", ev.Channel, "ts", ev.Timestamp)
		return intake.OutcomeDeduped
	}

	if ok, reason := w.classifier.Check(ev); !ok {
		w.logger.Debug("event ignored", "kind", ev.Kind.String(), "reason", reason, "ts", ev.Timestamp)
		return intake.OutcomeIneligible
	}

	url, ok := intake.ExtractSpaceURL(ev.Text)
	if !ok {
		return intake.OutcomeNoURL
	}

	jobID := w.newJobID()
	w.logger.Info("space link matched", "job", jobID, "channel", ev.Channel, "ts", ev.Timestamp, "url", url)

	if w.runner != nil {
		err := w.runner.Submit(w.jobsCtx, jobID, url, func(ctx context.Context) error {
			if out := w.process(ctx, jobID, ev, url); out == intake.OutcomeFailed {
				return fmt.Errorf("job %s failed", jobID)
			}
			return nil
		})
		if err != nil {
			w.logger.Error("submit job", "job", jobID, "err", err)
			return intake.OutcomeFailed
		}
		return intake.OutcomeQueued
	}

	// Slack drops the connection after a few seconds; the download must not
	// die with it.
	return w.process(context.WithoutCancel(ctx), jobID, ev, url)
}

// process runs one download-then-upload job. Every stage's failure is
// logged and contained; the job directory is always removed.
func (w *Webhook) process(ctx context.Context, jobID string, ev domain.InboundEvent, url string) (outcome intake.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("job panicked", "job", jobID, "panic", p)
			outcome = intake.OutcomeFailed
		}
	}()

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	job := domain.DownloadJob{
		ID:               jobID,
		SourceURL:        url,
		Channel:          ev.Channel,
		TriggerTimestamp: ev.Timestamp,
		ThreadAnchor:     ev.ThreadRoot(),
	}

	dir, err := os.MkdirTemp(w.workDir, domain.JobDirPrefix)
	if err != nil {
		w.logger.Error("create job dir", "job", jobID, "err", err)
		return intake.OutcomeFailed
	}
	job.WorkDir = dir
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Warn("remove job dir", "job", jobID, "dir", dir, "err", err)
		}
	}()

	anchor, err := w.notifier.PostStart(ctx, ev.Channel, job.ThreadAnchor, fmt.Sprintf(startText, url))
	if err != nil {
		w.logger.Warn("post start message", "job", jobID, "channel", ev.Channel, "err", err)
	} else if anchor != "" {
		job.ThreadAnchor = anchor
	}

	start := time.Now()
	path, err := w.fetcher.Fetch(ctx, job)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("fetch space audio", "job", jobID, "url", url, "err", err)
		if perr := w.notifier.PostError(ctx, ev.Channel, job.ThreadAnchor, failureText); perr != nil {
			w.logger.Warn("post error message", "job", jobID, "err", perr)
		}
		return intake.OutcomeFailed
	}
	job.FilePath = path

	err = w.notifier.Upload(ctx, ev.Channel, job.ThreadAnchor, domain.UploadFile{
		Path:    job.FilePath,
		Title:   uploadTitle,
		Comment: uploadComment,
	})
	if err != nil {
		w.logger.Error("upload space audio", "job", jobID, "channel", ev.Channel, "err", err)
		return intake.OutcomeFailed
	}

	w.logger.Info("space audio delivered", "job", jobID, "channel", ev.Channel, "thread", job.ThreadAnchor)
	return intake.OutcomeProcessed
}

// verifySlackSignature checks the v0 request signature Slack attaches to
// every Events API delivery.
func verifySlackSignature(header http.Header, body []byte, secret string) error {
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	if err := sv.Ensure(); err != nil {
		return errors.Join(errors.New("signature mismatch"), err)
	}
	return nil
}
