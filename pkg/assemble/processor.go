// Package assemble turns a fully uploaded chunk set into a catalog entry:
// chunk concatenation, size and digest validation, archive unpacking, header
// parsing, metadata enrichment, dedup arbitration, and final placement.
package assemble

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/broadcast"
	"github.com/romstack/romstack/pkg/catalog/models"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/content"
	"github.com/romstack/romstack/pkg/fault"
	"github.com/romstack/romstack/pkg/header"
	"github.com/romstack/romstack/pkg/metadata"
	"github.com/romstack/romstack/pkg/platform"
)

// Metrics observes assembly outcomes. The prometheus implementation lives in
// pkg/metrics/prometheus.
type Metrics interface {
	AssemblyFinished(outcome string, seconds float64)
	QueueDepth(depth int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) AssemblyFinished(string, float64) {}
func (NopMetrics) QueueDepth(int)                   {}

// Config holds processor tunables.
type Config struct {
	// Workers is the number of concurrent assembly pipelines. Default 2.
	Workers int
	// QueueDepth bounds the pending-upload queue. Default 128.
	QueueDepth int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 128
	}
}

// Processor drains completed uploads through the assembly pipeline on a fixed
// worker pool.
type Processor struct {
	cfg      Config
	store    *store.GORMStore
	content  *content.Store
	bus      *broadcast.Broadcaster
	enricher *metadata.Enricher
	metrics  Metrics

	queue     chan string
	stopCh    chan struct{}
	stoppedCh chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// aborts maps in-flight upload IDs to their pipeline cancel funcs.
	aborts sync.Map
}

// New creates a processor. Call Start before enqueueing.
func New(cfg Config, st *store.GORMStore, cs *content.Store, bus *broadcast.Broadcaster, enricher *metadata.Enricher, metrics Metrics) *Processor {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Processor{
		cfg:       cfg,
		store:     st,
		content:   cs,
		bus:       bus,
		enricher:  enricher,
		metrics:   metrics,
		queue:     make(chan string, cfg.QueueDepth),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the worker pool.
func (p *Processor) Start() {
	p.startOnce.Do(func() {
		var wg sync.WaitGroup
		for i := 0; i < p.cfg.Workers; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				p.run(worker)
			}(i)
		}
		go func() {
			wg.Wait()
			close(p.stoppedCh)
		}()
	})
}

// Stop drains the pool. In-flight pipelines finish; queued uploads stay in
// PROCESSING and are re-enqueued by the recovery scan on next start.
func (p *Processor) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands a PROCESSING upload to the pool. Never blocks the caller; on
// a full queue the handoff is deferred to a goroutine.
func (p *Processor) Enqueue(uploadID string) {
	select {
	case p.queue <- uploadID:
	default:
		go func() {
			select {
			case p.queue <- uploadID:
			case <-p.stopCh:
			}
		}()
	}
	p.metrics.QueueDepth(len(p.queue))
}

// Abort cancels the in-flight pipeline for an upload, if any. The pipeline's
// failure path observes the cancel and cleans up without emitting events.
func (p *Processor) Abort(uploadID string) {
	if cancel, ok := p.aborts.Load(uploadID); ok {
		cancel.(context.CancelFunc)()
	}
}

// Recover re-enqueues uploads stranded in PROCESSING by a previous process.
func (p *Processor) Recover(ctx context.Context) (int, error) {
	counts, err := p.store.CountUploadsByState(ctx)
	if err != nil {
		return 0, err
	}
	if counts[models.StateProcessing] == 0 {
		return 0, nil
	}

	stranded, err := p.store.ListByState(ctx, models.StateProcessing)
	if err != nil {
		return 0, err
	}
	for _, upload := range stranded {
		p.Enqueue(upload.ID)
	}
	return len(stranded), nil
}

func (p *Processor) run(worker int) {
	for {
		select {
		case <-p.stopCh:
			return
		case uploadID := <-p.queue:
			p.metrics.QueueDepth(len(p.queue))
			p.process(uploadID, worker)
		}
	}
}

// ============================================================================
// PIPELINE
// ============================================================================

func (p *Processor) process(uploadID string, worker int) {
	ctx, cancel := context.WithCancel(context.Background())
	p.aborts.Store(uploadID, cancel)
	defer func() {
		p.aborts.Delete(uploadID)
		cancel()
	}()

	start := time.Now()
	upload, err := p.store.GetUpload(ctx, uploadID)
	if err != nil {
		logger.Warn("Assembly skipped, upload missing", "upload_id", uploadID, "error", err.Error())
		return
	}
	if upload.State != models.StateProcessing {
		// Cancelled or expired between handoff and pickup.
		logger.Debug("Assembly skipped", "upload_id", uploadID, "state", string(upload.State))
		return
	}

	log := logger.With("upload_id", uploadID, "worker", worker, "filename", upload.OriginalName)
	log.Info("Assembly started", "chunks", upload.TotalChunks)

	entry, err := p.assemble(ctx, upload)
	if err != nil {
		p.fail(ctx, upload, err)
		p.metrics.AssemblyFinished(string(fault.KindOf(err)), time.Since(start).Seconds())
		return
	}

	p.metrics.AssemblyFinished("ok", time.Since(start).Seconds())
	log.Info("Assembly finished",
		"entry_id", entry.ID,
		"platform", entry.PlatformID,
		"path", entry.FinalPath,
		"duration_ms", time.Since(start).Milliseconds())
}

// assemble runs the pipeline steps. Any returned error routes to fail().
func (p *Processor) assemble(ctx context.Context, upload *models.Upload) (*models.CatalogEntry, error) {
	chunkPaths := make([]string, upload.TotalChunks)
	for _, c := range upload.Chunks {
		if !c.Received {
			return nil, fault.Newf(fault.KindAssemblyIO, "chunk %d never arrived", c.Index)
		}
		chunkPaths[c.Index] = c.Path
	}

	// The original extension is preserved so archive detection keys off it.
	ext := strings.ToLower(filepath.Ext(upload.OriginalName))
	assembled := p.content.AssembledPath(upload.TempScope) + ext
	if err := p.content.Assemble(ctx, chunkPaths, assembled); err != nil {
		return nil, err
	}

	digest, size, err := p.content.StreamDigest(assembled)
	if err != nil {
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	}
	if size != upload.DeclaredSize {
		return nil, fault.Newf(fault.KindSizeMismatch,
			"assembled %d bytes, declared %d", size, upload.DeclaredSize)
	}
	if upload.DeclaredDigest != "" && digest != upload.DeclaredDigest {
		return nil, fault.Newf(fault.KindDigestMismatch,
			"assembled digest %s does not match declared %s", digest, upload.DeclaredDigest)
	}

	main, err := p.selectMain(ctx, upload, assembled, digest, size)
	if err != nil {
		return nil, err
	}

	return p.finalize(ctx, upload, main)
}

// mainFile is the artifact that actually enters the catalog: the assembled
// upload itself, or the chosen file out of an archive.
type mainFile struct {
	path     string
	name     string // base name without extension
	ext      string
	platform platform.ID
	digest   string
	size     int64
	// archiveFiles lists every member of the source archive, empty for
	// plain uploads. The list is persisted on the entry even though only
	// the main file survives extraction.
	archiveFiles []string
}

// selectMain resolves the catalog artifact. For archives the largest file
// with a recognized extension wins; the member list is kept for the entry,
// the remaining bytes are discarded with the scope.
func (p *Processor) selectMain(ctx context.Context, upload *models.Upload, assembled, digest string, size int64) (*mainFile, error) {
	if !platform.IsArchive(upload.OriginalName) {
		return &mainFile{
			path:     assembled,
			name:     upload.SanitizedName,
			ext:      strings.ToLower(filepath.Ext(upload.OriginalName)),
			platform: platform.ID(upload.DetectedPlatform),
			digest:   digest,
			size:     size,
		}, nil
	}

	extractDir := filepath.Join(p.content.ScopeDir(upload.TempScope), "extract")
	files, err := p.content.ExtractArchive(ctx, assembled, extractDir)
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(files))
	var best *content.ExtractedFile
	for i := range files {
		f := &files[i]
		members = append(members, f.Name)
		if !platform.IsRecognized(f.Name) {
			continue
		}
		if best == nil || f.Size > best.Size {
			best = f
		}
	}
	if best == nil {
		return nil, fault.New(fault.KindNoRecognizedContent, "archive holds no recognizable content")
	}

	id, _ := platform.ClassifyByExtension(best.Name)
	if sizeCap := platform.MaxSize(id); best.Size > sizeCap {
		return nil, fault.Newf(fault.KindOversizeForPlatform,
			"extracted %q is %d bytes, cap for %s is %d", best.Name, best.Size, id, sizeCap)
	}

	innerDigest, innerSize, err := p.content.StreamDigest(best.Path)
	if err != nil {
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	}

	ext := strings.ToLower(filepath.Ext(best.Name))
	name, err := content.SanitizeName(strings.TrimSuffix(best.Name, ext))
	if err != nil {
		return nil, err
	}

	logger.Info("Selected main file from archive",
		"upload_id", upload.ID, "filename", best.Name, "platform", string(id), "size", innerSize)
	return &mainFile{
		path:         best.Path,
		name:         name,
		ext:          ext,
		platform:     id,
		digest:       innerDigest,
		size:         innerSize,
		archiveFiles: members,
	}, nil
}

// finalize probes and parses the header, enriches metadata, arbitrates dedup
// through the catalog's unique digest index, and publishes the file.
func (p *Processor) finalize(ctx context.Context, upload *models.Upload, main *mainFile) (*models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A known duplicate stops here, before enrichment spends provider time.
	// The unique-index insert below still arbitrates concurrent races.
	if exists, err := p.store.EntryExistsByDigest(ctx, main.digest); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err)
	} else if exists {
		return nil, fault.New(fault.KindAlreadyIngested, "content already in catalog")
	}

	spec, ok := platform.Get(main.platform)
	if !ok {
		return nil, fault.Newf(fault.KindNoRecognizedContent, "unknown platform %q", main.platform)
	}

	var warnings []string
	if ok, err := p.content.ProbeSignature(main.path, spec.Family); err != nil {
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	} else if !ok {
		// Extension said one thing, the bytes say another. Ingest proceeds
		// but the doubt is recorded.
		warnings = append(warnings, "signature probe failed for family "+string(spec.Family))
		logger.Warn("Signature probe failed",
			"upload_id", upload.ID, "platform", string(main.platform))
	}

	summary := p.parseHeader(main, spec)

	title := main.name
	if summary != nil && summary.Title != "" {
		title = summary.Title
	}

	var region string
	query := metadata.Query{Title: title, Platform: main.platform, Digest: main.digest}
	if summary != nil {
		query.Region = summary.Region
		region = summary.Region
	}
	meta := p.enricher.Enrich(ctx, query)
	if region == "" {
		region = meta.Region
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	finalPath, err := p.content.FinalPath(main.platform, main.name, main.ext)
	if err != nil {
		return nil, err
	}

	var headerBlob string
	if summary != nil {
		headerBlob = encodeJSON(summary)
	}
	var contentsBlob string
	if len(main.archiveFiles) > 0 {
		contentsBlob = encodeJSON(main.archiveFiles)
	}
	entry := &models.CatalogEntry{
		ContentDigest:   main.digest,
		SanitizedName:   main.name,
		Title:           title,
		PlatformID:      string(main.platform),
		FinalPath:       finalPath,
		Size:            main.size,
		Region:          region,
		HeaderSummary:   headerBlob,
		Metadata:        encodeJSON(meta),
		ArchiveContents: contentsBlob,
		Warnings:        strings.Join(warnings, "; "),
	}

	// The unique index on content_digest arbitrates concurrent duplicates:
	// exactly one insert wins, the loser fails here before touching the
	// library directory.
	entryID, err := p.store.CreateEntry(ctx, entry)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEntry) {
			return nil, fault.New(fault.KindAlreadyIngested, "content already in catalog")
		}
		return nil, fault.Wrap(fault.KindInternal, err)
	}
	entry.ID = entryID

	if err := p.content.PublishFinal(main.path, finalPath); err != nil {
		// Roll the row back so the catalog never points at a missing file.
		if delErr := p.store.DeleteEntry(ctx, entryID); delErr != nil {
			logger.Error("Failed to roll back entry after publish failure",
				"entry_id", entryID, "error", delErr.Error())
		}
		return nil, fault.Wrap(fault.KindAssemblyIO, err)
	}

	err = p.store.TransitionUpload(ctx, upload.ID,
		[]models.UploadState{models.StateProcessing}, models.StateCompleted,
		map[string]any{
			"final_path":         finalPath,
			"entry_id":           entryID,
			"extracted_metadata": entry.Metadata,
		})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err)
	}

	p.releaseScope(upload)
	p.bus.Publish(upload.ID, broadcast.Event{
		Type:           broadcast.EventCompleted,
		FileName:       upload.OriginalName,
		State:          string(models.StateCompleted),
		Progress:       1,
		UploadedChunks: upload.TotalChunks,
		TotalChunks:    upload.TotalChunks,
		EntryID:        entryID,
	})
	return entry, nil
}

// parseHeader decodes the family header; a missing header is not an error.
func (p *Processor) parseHeader(main *mainFile, spec *platform.Spec) *header.Summary {
	f, err := os.Open(main.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	summary, err := header.Parse(spec.Family, f, main.size)
	if err != nil {
		logger.Debug("Header parse failed",
			"platform", string(main.platform), "error", err.Error())
		return nil
	}
	return summary
}

// fail routes a pipeline error: an aborted pipeline defers to the state the
// coordinator already set, anything else transitions to FAILED.
func (p *Processor) fail(ctx context.Context, upload *models.Upload, cause error) {
	// The pipeline ctx is cancelled on abort; use a fresh one for cleanup.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ctx.Err() != nil {
		current, err := p.store.GetUpload(cleanupCtx, upload.ID)
		if err == nil && current.State.IsTerminal() {
			// Cancel/expiry won the race and already emitted the terminal
			// event; only the scope is left to clean.
			p.releaseScope(upload)
			logger.Info("Assembly aborted", "upload_id", upload.ID, "state", string(current.State))
			return
		}
	}

	kind := fault.KindOf(cause)
	detail := fault.DetailOf(cause)
	err := p.store.TransitionUpload(cleanupCtx, upload.ID,
		[]models.UploadState{models.StateProcessing}, models.StateFailed,
		map[string]any{
			"processing_error_kind": string(kind),
			"processing_error":      detail,
		})
	if err != nil {
		logger.Warn("Failure transition lost", "upload_id", upload.ID, "error", err.Error())
		return
	}

	// Failed scopes keep their chunks on disk for diagnosis; the retention
	// sweep reaps them with the row. A dedup loser is the exception: its
	// bytes are already in the catalog, there is nothing to diagnose.
	if kind == fault.KindAlreadyIngested {
		p.releaseScope(upload)
	}
	p.bus.Publish(upload.ID, broadcast.Event{
		Type:           broadcast.EventFailed,
		FileName:       upload.OriginalName,
		State:          string(models.StateFailed),
		UploadedChunks: upload.UploadedChunks,
		TotalChunks:    upload.TotalChunks,
		ErrorKind:      string(kind),
		ErrorDetail:    detail,
	})
	logger.Warn("Assembly failed",
		"upload_id", upload.ID, "error_kind", string(kind), "error", detail)
}

func (p *Processor) releaseScope(upload *models.Upload) {
	if err := p.content.ReleaseScope(upload.TempScope); err != nil {
		logger.Warn("Failed to release scope",
			"upload_id", upload.ID, "scope", upload.TempScope, "error", err.Error())
	}
}

func encodeJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
