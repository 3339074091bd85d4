// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// BACKEND AND LISTEN DEFAULTS
// =============================================================================

// DefaultOllamaHost is the default base URL of the Ollama backend.
const DefaultOllamaHost = "http://127.0.0.1:11434"

// DefaultListenAddr is the default proxy bind address.
const DefaultListenAddr = "127.0.0.1:11435"

// DefaultRequestTimeout bounds an entire outbound call (headers + body).
// There is no separate idle timeout once a streaming response has started.
const DefaultRequestTimeout = 120 * time.Second

// =============================================================================
// SAFETY LIMITS
// =============================================================================

// DefaultMaxEmbeddingInputLength is the per-input character cap before chunking.
const DefaultMaxEmbeddingInputLength = 8192

// MinEmbeddingInputLength is the lowest accepted value for the input cap.
const MinEmbeddingInputLength = 100

// DefaultMaxContextOverride caps num_ctx on outgoing requests.
const DefaultMaxContextOverride = 16384

// MinContextOverride is the lowest accepted value for the context override.
const MinContextOverride = 512

// DefaultContextLength is assumed when the backend does not report one.
const DefaultContextLength = 8192

// DefaultNumPredict bounds generation when the client sets no max_tokens.
const DefaultNumPredict = 4096

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when exact counts aren't available.
const TokenEstimateRatio = 4

// ChunkUsageTokensPerChunk approximates prompt tokens for merged chunk embeddings.
const ChunkUsageTokensPerChunk = 10

// =============================================================================
// CHUNK RETRY
// =============================================================================

// ChunkRetryAttempts is the fixed attempt count for per-chunk embed calls.
const ChunkRetryAttempts = 3

// ChunkRetryBackoff is the fixed delay between chunk retry attempts.
const ChunkRetryBackoff = 500 * time.Millisecond

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096

// DefaultDialTimeout is the TCP dial timeout.
const DefaultDialTimeout = 30 * time.Second

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// RelayChannelCapacity bounds the streaming relay line channel.
const RelayChannelCapacity = 32
