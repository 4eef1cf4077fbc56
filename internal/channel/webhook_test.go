package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"spacecatcher/internal/dedup"
	"spacecatcher/internal/domain"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type startCall struct {
	Channel, Thread, Text string
}

type uploadCall struct {
	Channel, Thread string
	File            domain.UploadFile
	Existed         bool
}

type fakeNotifier struct {
	mu        sync.Mutex
	starts    []startCall
	uploads   []uploadCall
	errors    []startCall
	startErr  error
	uploadErr error
}

func (n *fakeNotifier) PostStart(ctx context.Context, channel, threadTS, text string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.starts = append(n.starts, startCall{channel, threadTS, text})
	if n.startErr != nil {
		return "", n.startErr
	}
	return "anchor-1", nil
}

func (n *fakeNotifier) PostError(ctx context.Context, channel, threadTS, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, startCall{channel, threadTS, text})
	return nil
}

func (n *fakeNotifier) Upload(ctx context.Context, channel, threadTS string, file domain.UploadFile) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := os.Stat(file.Path)
	n.uploads = append(n.uploads, uploadCall{channel, threadTS, file, err == nil})
	return n.uploadErr
}

type fakeFetcher struct {
	mu    sync.Mutex
	jobs  []domain.DownloadJob
	err   error
	panic bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, job domain.DownloadJob) (string, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.panic {
		panic("fetcher exploded")
	}
	path := filepath.Join(job.WorkDir, job.ID+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return path, nil
}

func newTestWebhook(t *testing.T, f *fakeFetcher, n *fakeNotifier) *Webhook {
	t.Helper()
	w := NewWebhook(WebhookConfig{
		WorkDir:  t.TempDir(),
		Bot:      domain.BotIdentity{UserID: "UBOT"},
		Window:   dedup.NewWindow(dedup.DefaultCapacity),
		Fetcher:  f,
		Notifier: n,
		Logger:   testWebhookLogger(),
	})
	ids := 0
	w.newJobID = func() string {
		ids++
		return fmt.Sprintf("job-%d", ids)
	}
	return w
}

func postEvent(w *Webhook, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	w.handleEvents(rr, req)
	return rr
}

func messageBody(ts, user, text string) string {
	return fmt.Sprintf(`{"type":"event_callback","event":{"type":"message","channel":"C1","user":%q,"ts":%q,"text":%q}}`, user, ts, text)
}

const spaceURL = "https://twitter.com/i/spaces/abc123DEF"

func assertReceived(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != eventReceived {
		t.Errorf("body: got %q", rr.Body.String())
	}
}

func assertDirGone(t *testing.T, dir string) {
	t.Helper()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("job dir %s should be removed, stat err=%v", dir, err)
	}
}

func TestWebhookHandler_Handshake(t *testing.T) {
	w := newTestWebhook(t, &fakeFetcher{}, &fakeNotifier{})
	rr := postEvent(w, `{"type":"url_verification","challenge":"abc123"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "abc123" {
		t.Errorf("body: got %q, want %q", rr.Body.String(), "abc123")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type: got %q", ct)
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	w := newTestWebhook(t, &fakeFetcher{}, &fakeNotifier{})
	rr := httptest.NewRecorder()
	w.handleEvents(rr, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidJSON(t *testing.T) {
	w := newTestWebhook(t, &fakeFetcher{}, &fakeNotifier{})
	rr := postEvent(w, "not json")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestWebhookHandler_NoEvent(t *testing.T) {
	f := &fakeFetcher{}
	w := newTestWebhook(t, f, &fakeNotifier{})
	assertReceived(t, postEvent(w, `{"type":"event_callback"}`))
	if len(f.jobs) != 0 {
		t.Error("no event should not fetch")
	}
}

func TestWebhookHandler_EndToEndSuccess(t *testing.T) {
	f := &fakeFetcher{}
	n := &fakeNotifier{}
	w := newTestWebhook(t, f, n)

	assertReceived(t, postEvent(w, messageBody("1700.0001", "U1", "check this out "+spaceURL+" now")))

	if len(f.jobs) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(f.jobs))
	}
	job := f.jobs[0]
	if job.SourceURL != spaceURL {
		t.Errorf("fetch url: got %q", job.SourceURL)
	}
	if len(n.starts) != 1 || n.starts[0].Thread != "1700.0001" || n.starts[0].Channel != "C1" {
		t.Fatalf("start calls: %+v", n.starts)
	}
	if len(n.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(n.uploads))
	}
	up := n.uploads[0]
	if up.Thread != "anchor-1" {
		t.Errorf("upload thread: got %q, want anchor from start call", up.Thread)
	}
	if !up.Existed {
		t.Error("file should exist at upload time")
	}
	if up.File.Title != uploadTitle || up.File.Comment != uploadComment {
		t.Errorf("upload metadata: %+v", up.File)
	}
	assertDirGone(t, job.WorkDir)
	if len(n.errors) != 0 {
		t.Errorf("unexpected error posts: %+v", n.errors)
	}
}

func TestWebhookHandler_ThreadReplyUsesThreadRoot(t *testing.T) {
	n := &fakeNotifier{}
	w := newTestWebhook(t, &fakeFetcher{}, n)
	body := `{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U1","ts":"2.0","thread_ts":"1.0","text":"` + spaceURL + `"}}`

	assertReceived(t, postEvent(w, body))
	if len(n.starts) != 1 || n.starts[0].Thread != "1.0" {
		t.Errorf("start should thread under root, got %+v", n.starts)
	}
}

func TestWebhookHandler_ExtractionFailure(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: exit status 1", domain.ErrExtractionFailed)}
	n := &fakeNotifier{}
	w := newTestWebhook(t, f, n)

	assertReceived(t, postEvent(w, messageBody("1700.0002", "U1", spaceURL)))

	if len(f.jobs) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(f.jobs))
	}
	if len(n.uploads) != 0 {
		t.Errorf("no upload expected after failed fetch, got %d", len(n.uploads))
	}
	if len(n.errors) != 1 || n.errors[0].Thread != "anchor-1" {
		t.Errorf("expected one in-thread error post, got %+v", n.errors)
	}
	assertDirGone(t, f.jobs[0].WorkDir)
}

func TestWebhookHandler_SelfEchoIgnored(t *testing.T) {
	f := &fakeFetcher{}
	n := &fakeNotifier{}
	w := newTestWebhook(t, f, n)

	assertReceived(t, postEvent(w, messageBody("1700.0003", "UBOT", "Downloading "+spaceURL)))
	if len(f.jobs) != 0 || len(n.starts) != 0 {
		t.Error("bot's own message must not trigger a download")
	}
}

func TestWebhookHandler_EditedMessageIgnored(t *testing.T) {
	f := &fakeFetcher{}
	w := newTestWebhook(t, f, &fakeNotifier{})
	body := `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","channel":"C1","user":"U1","ts":"1700.0004","text":"` + spaceURL + `"}}`

	assertReceived(t, postEvent(w, body))
	if len(f.jobs) != 0 {
		t.Error("edited message must not trigger a download")
	}
}

func TestWebhookHandler_DuplicateDelivery(t *testing.T) {
	f := &fakeFetcher{}
	w := newTestWebhook(t, f, &fakeNotifier{})
	body := messageBody("1700.0005", "U1", spaceURL)

	assertReceived(t, postEvent(w, body))
	assertReceived(t, postEvent(w, body))
	if len(f.jobs) != 1 {
		t.Errorf("expected exactly one fetch for a redelivered event, got %d", len(f.jobs))
	}
}

func TestWebhookHandler_NoURL(t *testing.T) {
	f := &fakeFetcher{}
	n := &fakeNotifier{}
	w := newTestWebhook(t, f, n)

	assertReceived(t, postEvent(w, messageBody("1700.0006", "U1", "https://twitter.com/someone/status/1")))
	if len(f.jobs) != 0 || len(n.starts) != 0 {
		t.Error("message without a space link must have no side effects")
	}
}

func TestWebhookHandler_StartFailureStillFetches(t *testing.T) {
	f := &fakeFetcher{}
	n := &fakeNotifier{startErr: fmt.Errorf("%w: channel_not_found", domain.ErrNotifyFailed)}
	w := newTestWebhook(t, f, n)

	assertReceived(t, postEvent(w, messageBody("1700.0007", "U1", spaceURL)))
	if len(f.jobs) != 1 {
		t.Fatalf("fetch should run after a failed start post, got %d", len(f.jobs))
	}
	if len(n.uploads) != 1 || n.uploads[0].Thread != "1700.0007" {
		t.Errorf("upload should fall back to the trigger ts: %+v", n.uploads)
	}
}

func TestWebhookHandler_UploadFailureStillCleansUp(t *testing.T) {
	f := &fakeFetcher{}
	n := &fakeNotifier{uploadErr: errors.New("not_allowed_token_type")}
	w := newTestWebhook(t, f, n)

	assertReceived(t, postEvent(w, messageBody("1700.0008", "U1", spaceURL)))
	if len(n.uploads) != 1 {
		t.Fatalf("expected 1 upload attempt, got %d", len(n.uploads))
	}
	assertDirGone(t, f.jobs[0].WorkDir)
}

func TestWebhookHandler_FetcherPanicContained(t *testing.T) {
	f := &fakeFetcher{panic: true}
	w := newTestWebhook(t, f, &fakeNotifier{})

	assertReceived(t, postEvent(w, messageBody("1700.0009", "U1", spaceURL)))
	assertDirGone(t, f.jobs[0].WorkDir)
}

func signRequest(req *http.Request, body, secret string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookHandler_Signature(t *testing.T) {
	w := newTestWebhook(t, &fakeFetcher{}, &fakeNotifier{})
	w.signingSecret = "shh"
	body := `{"type":"url_verification","challenge":"c1"}`

	rr := postEvent(w, body)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request: expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	signRequest(req, body, "wrong")
	rr = httptest.NewRecorder()
	w.handleEvents(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	signRequest(req, body, "shh")
	rr = httptest.NewRecorder()
	w.handleEvents(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "c1" {
		t.Errorf("signed request: got %d %q", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandler_AsyncProcessing(t *testing.T) {
	f := &fakeFetcher{}
	n := &fakeNotifier{}
	w := NewWebhook(WebhookConfig{
		WorkDir:           t.TempDir(),
		Bot:               domain.BotIdentity{UserID: "UBOT"},
		Async:             true,
		MaxConcurrentJobs: 1,
		Fetcher:           f,
		Notifier:          n,
		Logger:            testWebhookLogger(),
	})

	assertReceived(t, postEvent(w, messageBody("1700.0010", "U1", spaceURL)))
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.uploads) != 1 || n.uploads[0].Thread != "anchor-1" {
		t.Errorf("background job should upload once, got %+v", n.uploads)
	}
	assertDirGone(t, f.jobs[0].WorkDir)

	if got := w.CleanJobs(0); got != 1 {
		t.Errorf("CleanJobs removed %d records, want 1", got)
	}
}

func TestWebhook_CleanJobsSync(t *testing.T) {
	w := newTestWebhook(t, &fakeFetcher{}, &fakeNotifier{})
	if got := w.CleanJobs(0); got != 0 {
		t.Errorf("sync webhook has no job records, got %d", got)
	}
}

func TestWebhook_Routes(t *testing.T) {
	w := NewWebhook(WebhookConfig{
		MetricsPath: "/metrics",
		Fetcher:     &fakeFetcher{},
		Notifier:    &fakeNotifier{},
		Logger:      testWebhookLogger(),
	})
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/slack/events", "application/json", bytes.NewBufferString(`{"type":"url_verification","challenge":"xyz"}`))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "xyz" {
		t.Errorf("challenge: got %q", data)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(data, []byte("spacecatcher_deliveries_total")) {
		t.Errorf("metrics output missing deliveries counter:\n%s", data)
	}
}
