package constants

import (
	"time"
)

// Transfer policy. These are the defaults; the [policy] section of the
// client config may tighten them.
const (
	// MaxFilesPerBatch - maximum number of items one queue may hold for a single run
	MaxFilesPerBatch = 50

	// MaxFileSizeBytes - largest single file accepted for upload (5 GiB)
	// Matches the S3 single-request POST object limit.
	MaxFileSizeBytes int64 = 5 * 1024 * 1024 * 1024

	// MaxTotalBatchBytes - cap on the combined size of queued uploads (10 GiB)
	MaxTotalBatchBytes int64 = 10 * 1024 * 1024 * 1024

	// MaxNameLength - maximum display name length, in characters
	MaxNameLength = 255

	// DefaultConcurrentTransfers - size of each batch window
	DefaultConcurrentTransfers = 3

	// MaxConcurrentTransfers - upper bound accepted from flags and config
	MaxConcurrentTransfers = 10
)

// AllowedDocumentTypes lists the non-media MIME types accepted for upload.
// Anything under image/ or video/ is accepted in addition to these.
var AllowedDocumentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/rtf",
	"application/json",
	"application/zip",
	"text/plain",
	"text/csv",
	"text/markdown",
}

// Broker and presigned URL lifetimes
const (
	// DownloadURLTTL - validity of a presigned GET URL (1 hour)
	DownloadURLTTL = time.Hour

	// UploadURLTTL - validity of a presigned POST form (15 minutes)
	UploadURLTTL = 15 * time.Minute

	// PreviewURLSkew - a cached download URL is treated as expired this long
	// before its real expiry so a fetch started near the boundary still succeeds
	PreviewURLSkew = 2 * time.Minute

	// BrokerEndpointPath - path of the single broker function endpoint
	BrokerEndpointPath = "/functions/v1/file-operations"
)

// Broker rate limiting
const (
	// BrokerRatePerSecond - sustained broker request rate per client
	BrokerRatePerSecond = 20.0

	// BrokerBurst - token bucket capacity for broker requests
	BrokerBurst = 40.0
)

// HTTP client tuning
const (
	// HTTPRetryMax - retries for transient broker failures inside one round trip
	HTTPRetryMax = 5

	// HTTPRetryWaitMin - first backoff interval
	HTTPRetryWaitMin = 500 * time.Millisecond

	// HTTPRetryWaitMax - backoff ceiling
	HTTPRetryWaitMax = 10 * time.Second

	// CommitAttempts - tries for a record commit that failed in transit.
	// Commits are not re-sent by the transport; the broker answers a
	// repeated commit of the same key with the stored record.
	CommitAttempts = 3

	// CommitRetryWait - pause before the second commit attempt, doubled after
	CommitRetryWait = time.Second

	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPResponseHeaderTimeout - time to wait for response headers
	// Generous because the object store only answers once the whole POST body landed.
	HTTPResponseHeaderTimeout = 5 * time.Minute

	// HTTPIdleConnTimeout - idle keep-alive connection lifetime
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPMaxIdleConnsPerHost - idle pool size per host
	HTTPMaxIdleConnsPerHost = 16

	// ErrorBodyLimit - bytes of an error response body kept for diagnostics
	ErrorBodyLimit = 4096
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - extra space required beyond the download size (15%)
	DiskSpaceBufferPercent = 0.15
)

// Download resume
const (
	// ResumeStateMaxAge - resume sidecars older than this are discarded
	ResumeStateMaxAge = 7 * 24 * time.Hour

	// DownloadBufferSize - copy buffer for streamed downloads (1 MB)
	DownloadBufferSize = 1024 * 1024
)

// Event System
const (
	// EventBusDefaultBuffer - default subscriber channel capacity
	EventBusDefaultBuffer = 1000
)

// UI Updates
const (
	// ProgressUpdateInterval - minimum interval between bar refreshes
	ProgressUpdateInterval = 150 * time.Millisecond
)

// Broker server
const (
	// ShutdownTimeout - graceful shutdown deadline for the broker
	ShutdownTimeout = 10 * time.Second

	// DevTokenTTL - validity of tokens minted by `stashbox-broker token`
	DevTokenTTL = 24 * time.Hour
)
