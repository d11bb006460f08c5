// Package upload implements the chunked upload coordinator: session
// initiation, idempotent chunk receipt, the upload state machine, expiry, and
// the handoff to the assembly processor.
//
// All state transitions of one upload are serialized through a per-upload
// mutex; chunk payload writes run outside the lock, bounded by a semaphore.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/broadcast"
	"github.com/romstack/romstack/pkg/catalog/models"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/content"
	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/platform"
)

// Processor consumes uploads whose chunks have all arrived. Enqueue must not
// block chunk reception; Abort cancels an in-flight assembly cooperatively.
type Processor interface {
	Enqueue(uploadID string)
	Abort(uploadID string)
}

// Metrics observes coordinator activity. The prometheus implementation lives
// in pkg/metrics/prometheus.
type Metrics interface {
	UploadInitiated(platformID string)
	ChunkReceived(bytes int64, seconds float64)
	UploadFinished(state string)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) UploadInitiated(string)        {}
func (NopMetrics) ChunkReceived(int64, float64)  {}
func (NopMetrics) UploadFinished(string)         {}

// Config holds coordinator tunables.
type Config struct {
	// UploadTimeout sets expires_at at initiation. Default 2h.
	UploadTimeout time.Duration
	// ChunkWriteTimeout bounds one durable chunk write. Default 60s.
	ChunkWriteTimeout time.Duration
	// MaxConcurrentWrites bounds parallel chunk writes. Default 16.
	MaxConcurrentWrites int
	// MaxChunkSize rejects absurd chunk sizes at initiation. Default 32 MiB.
	MaxChunkSize int64
}

func (c *Config) applyDefaults() {
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 2 * time.Hour
	}
	if c.ChunkWriteTimeout <= 0 {
		c.ChunkWriteTimeout = 60 * time.Second
	}
	if c.MaxConcurrentWrites <= 0 {
		c.MaxConcurrentWrites = 16
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 32 << 20
	}
}

// Coordinator owns the upload state machine.
type Coordinator struct {
	cfg       Config
	store     *store.GORMStore
	content   *content.Store
	bus       *broadcast.Broadcaster
	processor Processor
	metrics   Metrics

	// locks maps upload ID to its serialization mutex.
	locks sync.Map
	// writeSem bounds concurrent durable chunk writes.
	writeSem chan struct{}
}

// New creates a coordinator. The processor may be attached later with
// SetProcessor to break the construction cycle with the assembler.
func New(cfg Config, st *store.GORMStore, cs *content.Store, bus *broadcast.Broadcaster, metrics Metrics) *Coordinator {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Coordinator{
		cfg:      cfg,
		store:    st,
		content:  cs,
		bus:      bus,
		metrics:  metrics,
		writeSem: make(chan struct{}, cfg.MaxConcurrentWrites),
	}
}

// SetProcessor attaches the assembly processor.
func (c *Coordinator) SetProcessor(p Processor) {
	c.processor = p
}

// lockFor returns the serialization mutex of one upload.
func (c *Coordinator) lockFor(uploadID string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(uploadID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ============================================================================
// Initiate
// ============================================================================

// InitiateRequest carries the client's upload announcement.
type InitiateRequest struct {
	FileName       string
	DeclaredSize   int64
	DeclaredDigest string // optional hex SHA-256
	ChunkSize      int64
	MimeHint       string
}

// Initiate validates the announcement, allocates the temp scope and chunk
// rows, and persists the session in INITIATED. Re-announcing an active
// fingerprint resumes the existing session.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (*models.Upload, error) {
	if req.DeclaredSize <= 0 {
		return nil, fault.New(fault.KindUnsupportedFormat, "declared size must be positive")
	}
	if req.ChunkSize <= 0 || req.ChunkSize > c.cfg.MaxChunkSize {
		return nil, fault.Newf(fault.KindUnsupportedFormat, "chunk size %d out of range", req.ChunkSize)
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	isArchive := platform.IsArchive(req.FileName)
	platformID, recognized := platform.ClassifyByExtension(req.FileName)
	if !recognized && !isArchive {
		return nil, fault.Newf(fault.KindUnsupportedFormat, "extension %q is not supported", ext)
	}

	// Archives are classified after extraction; until then the cap is the
	// largest platform cap.
	sizeCap := platform.MaxSizeAny()
	if recognized {
		sizeCap = platform.MaxSize(platformID)
	}
	if req.DeclaredSize > sizeCap {
		return nil, fault.Newf(fault.KindOversizeForPlatform,
			"declared size %d exceeds cap %d", req.DeclaredSize, sizeCap)
	}

	base := strings.TrimSuffix(filepath.Base(req.FileName), ext)
	sanitized, err := content.SanitizeName(base)
	if err != nil {
		return nil, err
	}

	if req.DeclaredDigest != "" {
		exists, err := c.store.EntryExistsByDigest(ctx, strings.ToLower(req.DeclaredDigest))
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err)
		}
		if exists {
			return nil, fault.New(fault.KindAlreadyIngested, "content already in catalog")
		}
	}

	// Fingerprint resume: an identical in-flight announcement returns the
	// existing session instead of spawning a second one.
	if existing, err := c.store.FindByFingerprint(ctx,
		strings.ToLower(req.DeclaredDigest), sanitized, req.DeclaredSize); err == nil {
		logger.Info("Resuming upload for known fingerprint",
			"upload_id", existing.ID, "filename", req.FileName)
		return existing, nil
	} else if !errors.Is(err, models.ErrUploadNotFound) {
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	scope, err := c.content.NewScope()
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	totalChunks := models.ChunkCount(req.DeclaredSize, req.ChunkSize)
	upload := &models.Upload{
		ID:               uuid.NewString(),
		OriginalName:     filepath.Base(req.FileName),
		SanitizedName:    sanitized,
		DeclaredSize:     req.DeclaredSize,
		DeclaredDigest:   strings.ToLower(req.DeclaredDigest),
		ChunkSize:        req.ChunkSize,
		TotalChunks:      totalChunks,
		DetectedPlatform: string(platformID),
		MimeHint:         req.MimeHint,
		TempScope:        scope,
		State:            models.StateInitiated,
		ExpiresAt:        time.Now().UTC().Add(c.cfg.UploadTimeout),
	}

	chunks := make([]models.Chunk, totalChunks)
	for i := range chunks {
		chunks[i] = models.Chunk{
			UploadID:     upload.ID,
			Index:        i,
			ExpectedSize: upload.ExpectedChunkSize(i),
		}
	}

	if err := c.store.CreateUpload(ctx, upload, chunks); err != nil {
		_ = c.content.ReleaseScope(scope)
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	c.metrics.UploadInitiated(upload.DetectedPlatform)
	c.bus.Publish(upload.ID, broadcast.Event{
		Type:        broadcast.EventInitial,
		FileName:    upload.OriginalName,
		State:       string(upload.State),
		TotalChunks: upload.TotalChunks,
	})

	logger.Info("Upload initiated",
		"upload_id", upload.ID,
		"filename", upload.OriginalName,
		"platform", upload.DetectedPlatform,
		"size", upload.DeclaredSize,
		"chunks", totalChunks)
	return upload, nil
}

// ============================================================================
// ReceiveChunk
// ============================================================================

// ChunkResult reports the outcome of one chunk receipt.
type ChunkResult struct {
	Accepted bool `json:"accepted"`
	Complete bool `json:"complete"`
	// UploadedChunks is the post-receipt counter.
	UploadedChunks int `json:"uploaded_chunks"`
}

// ReceiveChunk durably stores one chunk. Replays with identical bytes are
// idempotent; replays with different bytes are rejected. The final chunk
// promotes the upload to PROCESSING and enqueues it on the processor.
func (c *Coordinator) ReceiveChunk(ctx context.Context, uploadID string, index int, data []byte) (*ChunkResult, error) {
	mu := c.lockFor(uploadID)
	mu.Lock()
	defer mu.Unlock()

	upload, err := c.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			return nil, fault.New(fault.KindNotFound, "unknown upload")
		}
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	if err := c.checkAcceptingLocked(ctx, upload); err != nil {
		return nil, err
	}

	if index < 0 || index >= upload.TotalChunks {
		return nil, fault.Newf(fault.KindNotFound, "chunk index %d out of range", index)
	}
	chunk := &upload.Chunks[index]

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if chunk.Received {
		// Idempotent replay: identical bytes succeed without side effects.
		if int64(len(data)) != chunk.ExpectedSize {
			return nil, fault.Newf(fault.KindChunkSizeMismatch,
				"chunk %d: got %d bytes, expected %d", index, len(data), chunk.ExpectedSize)
		}
		if digest != chunk.Digest {
			return nil, fault.Newf(fault.KindDigestMismatch,
				"chunk %d: replay bytes differ from the received chunk", index)
		}
		return &ChunkResult{
			Accepted:       true,
			Complete:       upload.UploadedChunks == upload.TotalChunks,
			UploadedChunks: upload.UploadedChunks,
		}, nil
	}

	if int64(len(data)) != chunk.ExpectedSize {
		return nil, fault.Newf(fault.KindChunkSizeMismatch,
			"chunk %d: got %d bytes, expected %d", index, len(data), chunk.ExpectedSize)
	}

	path := c.content.ChunkPath(upload.TempScope, index)
	start := time.Now()
	if err := c.writeChunk(ctx, path, data, digest); err != nil {
		return nil, err
	}
	c.metrics.ChunkReceived(int64(len(data)), time.Since(start).Seconds())

	newCount, _, err := c.store.MarkChunkReceived(ctx, uploadID, index, digest, path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	complete := newCount == upload.TotalChunks
	if complete {
		err := c.store.TransitionUpload(ctx, uploadID,
			[]models.UploadState{models.StateInitiated, models.StateUploading},
			models.StateProcessing, nil)
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err)
		}
		c.bus.Publish(uploadID, broadcast.Event{
			Type:           broadcast.EventProcessing,
			FileName:       upload.OriginalName,
			State:          string(models.StateProcessing),
			Progress:       1,
			UploadedChunks: newCount,
			TotalChunks:    upload.TotalChunks,
		})
		if c.processor != nil {
			c.processor.Enqueue(uploadID)
		}
		logger.Info("Upload complete, queued for processing",
			"upload_id", uploadID, "chunks", newCount)
	} else {
		speed, eta := c.throughput(upload, newCount)
		c.bus.Publish(uploadID, broadcast.Event{
			Type:           broadcast.EventProgress,
			FileName:       upload.OriginalName,
			State:          string(models.StateUploading),
			Progress:       float64(newCount) / float64(upload.TotalChunks),
			UploadedChunks: newCount,
			TotalChunks:    upload.TotalChunks,
			SpeedBps:       speed,
			ETASeconds:     eta,
		})
	}

	return &ChunkResult{Accepted: true, Complete: complete, UploadedChunks: newCount}, nil
}

// writeChunk performs the durable write under the semaphore and the
// per-write deadline.
func (c *Coordinator) writeChunk(ctx context.Context, path string, data []byte, digest string) error {
	select {
	case c.writeSem <- struct{}{}:
		defer func() { <-c.writeSem }()
	case <-ctx.Done():
		return fault.Wrap(fault.KindChunkWriteFailed, ctx.Err())
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.ChunkWriteTimeout)
	defer cancel()

	written, err := c.content.WriteChunk(writeCtx, path, data)
	if err != nil {
		return fault.Wrap(fault.KindChunkWriteFailed, err)
	}
	if written != digest {
		// The store hashes what it wrote; a mismatch means corruption
		// between buffer and disk.
		return fault.New(fault.KindChunkWriteFailed, "written bytes do not match the request")
	}
	return nil
}

// checkAcceptingLocked rejects chunks for uploads that are not accepting
// them, lazily expiring overdue sessions. Caller holds the upload lock.
func (c *Coordinator) checkAcceptingLocked(ctx context.Context, upload *models.Upload) error {
	switch upload.State {
	case models.StateInitiated, models.StateUploading:
		if time.Now().UTC().After(upload.ExpiresAt) {
			c.expireLocked(ctx, upload)
			return fault.New(fault.KindExpired, "upload deadline passed")
		}
		return nil
	case models.StateExpired:
		return fault.New(fault.KindExpired, "upload deadline passed")
	case models.StateCancelled:
		return fault.New(fault.KindCancelled, "upload was cancelled")
	default:
		return fault.Newf(fault.KindNotAcceptingChunks, "upload is %s", upload.State)
	}
}

// throughput derives speed and ETA from received bytes over session age.
func (c *Coordinator) throughput(upload *models.Upload, uploadedChunks int) (speedBps, etaSeconds float64) {
	elapsed := time.Since(upload.CreatedAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	received := float64(uploadedChunks) * float64(upload.ChunkSize)
	speedBps = received / elapsed
	if speedBps > 0 {
		remaining := float64(upload.DeclaredSize) - received
		if remaining < 0 {
			remaining = 0
		}
		etaSeconds = remaining / speedBps
	}
	return speedBps, etaSeconds
}

// ============================================================================
// Cancel / Status
// ============================================================================

// Cancel aborts an upload. Completed uploads cannot be cancelled; repeated
// cancels are idempotent.
func (c *Coordinator) Cancel(ctx context.Context, uploadID string) error {
	mu := c.lockFor(uploadID)
	mu.Lock()
	defer mu.Unlock()

	upload, err := c.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			return fault.New(fault.KindNotFound, "unknown upload")
		}
		return fault.Wrap(fault.KindInternal, err)
	}

	switch upload.State {
	case models.StateCompleted:
		return fault.New(fault.KindAlreadyCompleted, "upload already completed")
	case models.StateCancelled, models.StateExpired, models.StateFailed:
		return nil
	}

	wasProcessing := upload.State == models.StateProcessing
	err = c.store.TransitionUpload(ctx, uploadID,
		[]models.UploadState{models.StateInitiated, models.StateUploading, models.StateProcessing},
		models.StateCancelled, nil)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err)
	}

	if wasProcessing {
		// The assembler owns the scope while processing; aborting it makes
		// its failure path clean up.
		if c.processor != nil {
			c.processor.Abort(uploadID)
		}
	} else {
		if err := c.content.ReleaseScope(upload.TempScope); err != nil {
			logger.Warn("Failed to release scope on cancel",
				"upload_id", uploadID, "scope", upload.TempScope, "error", err.Error())
		}
	}

	c.metrics.UploadFinished(string(models.StateCancelled))
	c.bus.Publish(uploadID, broadcast.Event{
		Type:           broadcast.EventCancelled,
		FileName:       upload.OriginalName,
		State:          string(models.StateCancelled),
		UploadedChunks: upload.UploadedChunks,
		TotalChunks:    upload.TotalChunks,
	})
	logger.Info("Upload cancelled", "upload_id", uploadID)
	return nil
}

// Status is an upload snapshot with the chunk bitmap for resume.
type Status struct {
	Upload     *models.Upload `json:"upload"`
	Bitmap     []bool         `json:"chunk_bitmap"`
	SpeedBps   float64        `json:"speed_bps"`
	ETASeconds float64        `json:"eta_seconds"`
}

// Status returns the current session snapshot.
func (c *Coordinator) Status(ctx context.Context, uploadID string) (*Status, error) {
	upload, err := c.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			return nil, fault.New(fault.KindNotFound, "unknown upload")
		}
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	bitmap := make([]bool, upload.TotalChunks)
	for _, chunk := range upload.Chunks {
		if chunk.Index >= 0 && chunk.Index < len(bitmap) {
			bitmap[chunk.Index] = chunk.Received
		}
	}

	speed, eta := c.throughput(upload, upload.UploadedChunks)
	return &Status{Upload: upload, Bitmap: bitmap, SpeedBps: speed, ETASeconds: eta}, nil
}

// ============================================================================
// Expiry & reaping (driven by maintenance)
// ============================================================================

// ExpireDue transitions overdue non-terminal uploads to EXPIRED, releasing
// their scopes and emitting terminal events. Returns the number expired.
func (c *Coordinator) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := c.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, upload := range due {
		mu := c.lockFor(upload.ID)
		mu.Lock()
		current, err := c.store.GetUpload(ctx, upload.ID)
		if err == nil && !current.State.IsTerminal() && now.After(current.ExpiresAt) {
			c.expireLocked(ctx, current)
			expired++
		}
		mu.Unlock()
	}
	return expired, nil
}

// expireLocked performs the EXPIRED transition. Caller holds the upload lock.
func (c *Coordinator) expireLocked(ctx context.Context, upload *models.Upload) {
	err := c.store.TransitionUpload(ctx, upload.ID,
		[]models.UploadState{models.StateInitiated, models.StateUploading},
		models.StateExpired, nil)
	if err != nil {
		logger.Warn("Expiry transition failed", "upload_id", upload.ID, "error", err.Error())
		return
	}
	if err := c.content.ReleaseScope(upload.TempScope); err != nil {
		logger.Warn("Failed to release scope on expiry",
			"upload_id", upload.ID, "scope", upload.TempScope, "error", err.Error())
	}
	c.metrics.UploadFinished(string(models.StateExpired))
	c.bus.Publish(upload.ID, broadcast.Event{
		Type:           broadcast.EventFailed,
		FileName:       upload.OriginalName,
		State:          string(models.StateExpired),
		ErrorKind:      string(fault.KindExpired),
		ErrorDetail:    "upload deadline passed",
		UploadedChunks: upload.UploadedChunks,
		TotalChunks:    upload.TotalChunks,
	})
	logger.Info("Upload expired", "upload_id", upload.ID)
}

// ReapTerminal deletes terminal upload rows last touched before cutoff,
// together with any scope leftovers and broadcaster hubs. Returns the number
// reaped.
func (c *Coordinator) ReapTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := c.store.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, upload := range stale {
		mu := c.lockFor(upload.ID)
		mu.Lock()
		if err := c.content.ReleaseScope(upload.TempScope); err != nil {
			logger.Warn("Failed to release scope on reap",
				"upload_id", upload.ID, "error", err.Error())
		}
		if err := c.store.DeleteUpload(ctx, upload.ID); err != nil {
			logger.Warn("Failed to reap upload", "upload_id", upload.ID, "error", err.Error())
			mu.Unlock()
			continue
		}
		c.bus.Forget(upload.ID)
		c.locks.Delete(upload.ID)
		mu.Unlock()
		reaped++
	}
	return reaped, nil
}
