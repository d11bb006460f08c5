package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently so
// log aggregation and querying work across the whole pipeline.
const (
	// ========================================================================
	// Request handling
	// ========================================================================
	KeyRequestID = "request_id" // HTTP request correlation ID
	KeyClientIP  = "client_ip"  // Client IP address
	KeyMethod    = "method"     // HTTP method
	KeyRoute     = "route"      // Matched route pattern
	KeyStatus    = "status"     // HTTP status code

	// ========================================================================
	// Upload lifecycle
	// ========================================================================
	KeyUploadID   = "upload_id"   // Upload session identifier
	KeyPlatform   = "platform"    // Platform ID (nes, snes, ...)
	KeyFilename   = "filename"    // Client-supplied file name
	KeyState      = "state"       // Upload state
	KeyChunkIndex = "chunk_index" // Zero-based chunk index
	KeyChunkCount = "chunk_count" // Expected chunk total
	KeySize       = "size"        // Byte size
	KeyScope      = "scope"       // Temp scope token

	// ========================================================================
	// Content & catalog
	// ========================================================================
	KeyDigest  = "digest"   // Hex SHA-256 content digest
	KeyEntryID = "entry_id" // Catalog entry identifier
	KeyTitle   = "title"    // Resolved display title
	KeyPath    = "path"     // File system path

	// ========================================================================
	// Background work
	// ========================================================================
	KeyJob        = "job"         // Maintenance job name
	KeyWorker     = "worker"      // Worker index
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorKind  = "error_kind"  // Stable fault kind

	// ========================================================================
	// Object storage (archival offload)
	// ========================================================================
	KeyBucket = "bucket" // S3 bucket name
	KeyKey    = "key"    // Object key
	KeyRegion = "region" // Cloud region

	// ========================================================================
	// Metadata enrichment
	// ========================================================================
	KeySource     = "source"     // Metadata source name
	KeyConfidence = "confidence" // Match confidence score
	KeyCacheHit   = "cache_hit"  // Cache hit indicator
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// RequestID returns a slog.Attr for the request correlation ID
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ClientIP returns a slog.Attr for the client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// UploadID returns a slog.Attr for the upload session identifier
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// Platform returns a slog.Attr for the platform ID
func Platform(id string) slog.Attr {
	return slog.String(KeyPlatform, id)
}

// Filename returns a slog.Attr for the client-supplied file name
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// State returns a slog.Attr for the upload state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// ChunkIndex returns a slog.Attr for a chunk index
func ChunkIndex(i int) slog.Attr {
	return slog.Int(KeyChunkIndex, i)
}

// Size returns a slog.Attr for a byte size
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Digest returns a slog.Attr for a content digest
func Digest(d string) slog.Attr {
	return slog.String(KeyDigest, d)
}

// EntryID returns a slog.Attr for a catalog entry identifier
func EntryID(id string) slog.Attr {
	return slog.String(KeyEntryID, id)
}

// Path returns a slog.Attr for a file system path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Job returns a slog.Attr for a maintenance job name
func Job(name string) slog.Attr {
	return slog.String(KeyJob, name)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorKind returns a slog.Attr for a stable fault kind
func ErrorKind(kind string) slog.Attr {
	return slog.String(KeyErrorKind, kind)
}

// SourceName returns a slog.Attr for a metadata source name
func SourceName(name string) slog.Attr {
	return slog.String(KeySource, name)
}

// Confidence returns a slog.Attr for a match confidence score
func Confidence(c float64) slog.Attr {
	return slog.Float64(KeyConfidence, c)
}

// CacheHit returns a slog.Attr for a cache hit indicator
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}
