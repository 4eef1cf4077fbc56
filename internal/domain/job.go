package domain

// JobDirPrefix prefixes every per-job directory created under the work dir.
const JobDirPrefix = "space-"

// DownloadJob is one download-then-upload attempt for a matched Space URL.
// It is owned by the handler invocation that created it.
type DownloadJob struct {
	ID               string
	SourceURL        string
	Channel          string
	TriggerTimestamp string
	ThreadAnchor     string
	WorkDir          string // job-private directory, removed after the upload attempt
	FilePath         string // set once the fetch succeeds
}
