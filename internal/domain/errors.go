package domain

import "errors"

var (
	// ErrMalformedPayload means the request body could not be parsed.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrExtractionFailed means the downloader exited non-zero or left no usable output.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrNotifyFailed means the chat platform rejected a call.
	ErrNotifyFailed = errors.New("notify failed")
)
