package shared

import "time"

// Server Configuration
const (
	DefaultListenAddr      = ":80"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultBodyLimit       = "32M"
)

// Calling convention
const (
	// Charset used whenever body bytes are turned into application visible text
	Charset              = "utf-8"
	ProtocolMajor        = 1
	ProtocolMinor        = 0
	FallbackStatus       = "500 Internal Server Error"
	FallbackContentType  = "text/plain; charset=utf-8"
	ActivationDescriptor = "bridge/activate.yaml"
)

// Multipart Configuration
const (
	DefaultChunkSize     = 4 << 10
	DefaultMaxValueBytes = 10 << 20
	MaxBoundaryLength    = 70
	DefaultContentType   = "text/plain"
)

// Upload Store Configuration
const (
	UploadKeyPrefix    = "bridge:upload:"
	UploadStagingTTL   = 10 * time.Minute
	DefaultUploadTTL   = 24 * time.Hour
	UploadNameLength   = 21
	UploadNameAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Journal Configuration
const (
	JournalFlushInterval = 1 * time.Minute
	JournalBatchSize     = 256
	JournalRetryDelay    = 5 * time.Second
	MaxFlushRetries      = 3
)

// Request tracking
const (
	RequestIDLength   = 28
	RequestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	RequestIDHeader   = "X-Request-Id"
	APIKeyLength      = 32
)
