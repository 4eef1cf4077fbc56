package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"spacecatcher/internal/domain"

	"github.com/slack-go/slack"
)

// Slack implements domain.Notifier on the Slack Web API.
type Slack struct {
	client *slack.Client
	logger *slog.Logger
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	BotToken string
	APIURL   string // override for tests; must end in "/"
	Debug    bool
	Logger   *slog.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []slack.Option{slack.OptionDebug(cfg.Debug)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Slack{
		client: slack.New(cfg.BotToken, opts...),
		logger: cfg.Logger,
	}
}

// Identity resolves the bot's own user ID via auth.test.
func (s *Slack) Identity(ctx context.Context) (domain.BotIdentity, error) {
	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return domain.BotIdentity{}, fmt.Errorf("%w: auth.test: %v", domain.ErrNotifyFailed, err)
	}
	s.logger.Info("slack bot identified", "user", resp.User, "user_id", resp.UserID, "team_id", resp.TeamID)
	return domain.BotIdentity{UserID: resp.UserID, User: resp.User, TeamID: resp.TeamID}, nil
}

// PostStart posts text as a reply under threadTS. The returned anchor is the
// thread root, so later replies land in the same thread.
func (s *Slack) PostStart(ctx context.Context, channel, threadTS, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := s.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: chat.postMessage: %v", domain.ErrNotifyFailed, err)
	}
	if threadTS == "" {
		return ts, nil
	}
	return threadTS, nil
}

// PostError posts an error reply into the thread.
func (s *Slack) PostError(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := s.client.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("%w: chat.postMessage: %v", domain.ErrNotifyFailed, err)
	}
	return nil
}

// Upload sends a local file into the thread.
func (s *Slack) Upload(ctx context.Context, channel, threadTS string, file domain.UploadFile) error {
	info, err := os.Stat(file.Path)
	if err != nil {
		return fmt.Errorf("%w: stat upload: %v", domain.ErrNotifyFailed, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", domain.ErrNotifyFailed, filepath.Base(file.Path))
	}

	summary, err := s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:            file.Path,
		FileSize:        int(info.Size()),
		Filename:        filepath.Base(file.Path),
		Title:           file.Title,
		InitialComment:  file.Comment,
		Channel:         channel,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		return fmt.Errorf("%w: files upload: %v", domain.ErrNotifyFailed, err)
	}
	s.logger.Info("slack file uploaded", "channel", channel, "file_id", summary.ID, "bytes", info.Size())
	return nil
}
