package constants

import (
	"time"
)

// Stack AI endpoints
const (
	// DefaultAPIBaseURL - backend serving connections and knowledge bases
	DefaultAPIBaseURL = "https://api.stack-ai.com"

	// DefaultAuthURL - Supabase auth endpoint used for password login
	DefaultAuthURL = "https://sb.stack-ai.com"

	// DefaultConnectionProvider - the only provider the picker browses
	DefaultConnectionProvider = "gdrive"

	// RootResourcePath - path used to list a knowledge base from its root
	RootResourcePath = "/"
)

// Knowledge base defaults
const (
	// KnowledgeBaseNamePrefix - prefix of generated KB names, followed by a timestamp
	KnowledgeBaseNamePrefix = "Knowledge Base "

	// KnowledgeBaseDescription - description sent when none is provided
	KnowledgeBaseDescription = "Knowledge base for selected resources"

	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultChunkSize      = 1500
	DefaultChunkOverlap   = 500
	DefaultChunker        = "sentence"

	// MaxKnowledgeBaseNameLength - names longer than this are rejected before submission
	MaxKnowledgeBaseNameLength = 255
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second

	// HTTPRetryWaitMin / HTTPRetryWaitMax bound the transport level retry waits
	HTTPRetryWaitMin = 1 * time.Second
	HTTPRetryWaitMax = 30 * time.Second

	// DefaultRequestTimeout - per-request timeout; bounds a hung children fetch
	DefaultRequestTimeout = 60 * time.Second

	// TokenExpiryLeeway - tokens this close to expiry are treated as expired
	TokenExpiryLeeway = 30 * time.Second
)

// Sync polling
const (
	// SyncPollInitialDelay - first wait between KB status polls
	SyncPollInitialDelay = 2 * time.Second

	// SyncPollMaxDelay - cap on the poll backoff
	SyncPollMaxDelay = 30 * time.Second

	// DefaultSyncWaitTimeout - how long `kb sync --wait` waits before giving up
	DefaultSyncWaitTimeout = 10 * time.Minute
)

// Rate limiting (token bucket, requests per second)
const (
	// APIRateLimit - sustained request rate against the Stack AI backend
	APIRateLimit = 10.0

	// APIBurstSize - requests allowed in a burst
	APIBurstSize = 20
)

// Tree resolution
const (
	// ResolveConcurrency - concurrent folder fetches while resolving a selection
	ResolveConcurrency = 4

	// ResolveMaxRounds - depth guard for resolving nested unfetched folders
	ResolveMaxRounds = 64
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios
	EventBusMaxBuffer = 5000
)

// UI Updates
const (
	// StatusMessageTTL - how long a status line message stays in the picker
	StatusMessageTTL = 5 * time.Second

	// ProgressUpdateInterval - interval for progress bar updates (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)

// Logging
const (
	LogMaxSizeMB  = 10
	LogMaxBackups = 5
	LogMaxAgeDays = 30
)

// HTTP transport
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 15 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPMaxConnsPerHost - picker traffic goes to two hosts; folder fetches fan out
	HTTPMaxConnsPerHost = 16
)
