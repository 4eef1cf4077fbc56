package domain

import "context"

// Notifier posts progress and results back into a conversation thread.
type Notifier interface {
	// PostStart posts the "work started" message under threadTS and returns
	// the thread anchor later replies and uploads must use.
	PostStart(ctx context.Context, channel, threadTS, text string) (string, error)
	PostError(ctx context.Context, channel, threadTS, text string) error
	Upload(ctx context.Context, channel, threadTS string, file UploadFile) error
}

// UploadFile describes a local file to upload into a thread.
type UploadFile struct {
	Path    string
	Title   string
	Comment string
}

// Fetcher downloads the media behind a URL into the job's work directory.
type Fetcher interface {
	Fetch(ctx context.Context, job DownloadJob) (string, error)
}
