// Package maintenance runs the background housekeeping jobs: upload expiry,
// temp space reclamation, platform stats rollup, disk pressure probes, and
// database compaction.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/catalog/models"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/platform"
)

// Janitor is the coordinator surface maintenance drives: expiring overdue
// uploads and reaping terminal rows.
type Janitor interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ReapTerminal(ctx context.Context, cutoff time.Time) (int, error)
}

// Metrics observes maintenance outcomes.
type Metrics interface {
	JobRan(job string, ok bool, seconds float64)
	DiskUsage(mount string, usedPercent float64)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) JobRan(string, bool, float64) {}
func (NopMetrics) DiskUsage(string, float64)    {}

// Config holds job schedules and retention windows. Schedules use the
// standard 5-field cron syntax plus the @-descriptors.
type Config struct {
	ExpirySchedule     string // default */15 * * * *
	ReclaimSchedule    string // default @hourly
	RollupSchedule     string // default @weekly
	DiskProbeSchedule  string // default 0 */6 * * *
	CompactionSchedule string // default @weekly

	// TerminalRetention keeps terminal upload rows queryable before reaping.
	TerminalRetention time.Duration // default 24h
	// ScopeGrace protects freshly created temp dirs from reclamation.
	ScopeGrace time.Duration // default 1h
	// StatsRetention bounds the platform_stats history.
	StatsRetention time.Duration // default 90 days

	// Disk pressure thresholds in percent used.
	DiskWarnPercent  float64 // default 80
	DiskErrorPercent float64 // default 90
}

func (c *Config) applyDefaults() {
	if c.ExpirySchedule == "" {
		c.ExpirySchedule = "*/15 * * * *"
	}
	if c.ReclaimSchedule == "" {
		c.ReclaimSchedule = "@hourly"
	}
	if c.RollupSchedule == "" {
		c.RollupSchedule = "@weekly"
	}
	if c.DiskProbeSchedule == "" {
		c.DiskProbeSchedule = "0 */6 * * *"
	}
	if c.CompactionSchedule == "" {
		c.CompactionSchedule = "@weekly"
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = 24 * time.Hour
	}
	if c.ScopeGrace <= 0 {
		c.ScopeGrace = time.Hour
	}
	if c.StatsRetention <= 0 {
		c.StatsRetention = 90 * 24 * time.Hour
	}
	if c.DiskWarnPercent <= 0 {
		c.DiskWarnPercent = 80
	}
	if c.DiskErrorPercent <= 0 {
		c.DiskErrorPercent = 90
	}
}

// Scheduler wires the jobs onto a cron runner.
type Scheduler struct {
	cfg      Config
	store    *store.GORMStore
	janitor  Janitor
	metrics  Metrics
	tempRoot string
	romRoot  string

	cron *cron.Cron
}

// New creates a scheduler; Start registers and begins the jobs.
func New(cfg Config, st *store.GORMStore, janitor Janitor, tempRoot, romRoot string, metrics Metrics) *Scheduler {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		janitor:  janitor,
		metrics:  metrics,
		tempRoot: tempRoot,
		romRoot:  romRoot,
		cron:     cron.New(),
	}
}

// Start registers every job and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"expiry_sweep", s.cfg.ExpirySchedule, s.ExpirySweep},
		{"temp_reclaim", s.cfg.ReclaimSchedule, s.ReclaimTemp},
		{"stats_rollup", s.cfg.RollupSchedule, s.RollupStats},
		{"disk_probe", s.cfg.DiskProbeSchedule, s.ProbeDisk},
		{"db_compaction", s.cfg.CompactionSchedule, s.CompactDB},
	}

	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			s.runJob(ctx, job.name, job.run)
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.schedule, err)
		}
	}

	s.cron.Start()
	logger.Info("Maintenance scheduler started", "job", "all")
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, run func(context.Context) error) {
	start := time.Now()
	err := run(ctx)
	s.metrics.JobRan(name, err == nil, time.Since(start).Seconds())
	if err != nil {
		logger.Error("Maintenance job failed",
			"job", name, "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Debug("Maintenance job finished",
		"job", name, "duration_ms", time.Since(start).Milliseconds())
}

// ============================================================================
// JOBS
// ============================================================================

// ExpirySweep expires overdue uploads and reaps old terminal rows.
func (s *Scheduler) ExpirySweep(ctx context.Context) error {
	now := time.Now().UTC()
	expired, err := s.janitor.ExpireDue(ctx, now)
	if err != nil {
		return fmt.Errorf("expire due: %w", err)
	}
	reaped, err := s.janitor.ReapTerminal(ctx, now.Add(-s.cfg.TerminalRetention))
	if err != nil {
		return fmt.Errorf("reap terminal: %w", err)
	}
	if expired > 0 || reaped > 0 {
		logger.Info("Expiry sweep", "job", "expiry_sweep", "expired", expired, "reaped", reaped)
	}
	return nil
}

// ReclaimTemp removes temp directories no live upload references. A file lock
// keeps concurrent sweeps (another process, an operator running gc) from
// racing each other; active scopes and anything younger than the grace window
// are left alone.
func (s *Scheduler) ReclaimTemp(ctx context.Context) error {
	removed, _, err := s.reclaimTemp(ctx, false)
	if removed > 0 {
		logger.Info("Reclaimed temp space", "job", "temp_reclaim", "removed", removed)
	}
	return err
}

func (s *Scheduler) reclaimTemp(ctx context.Context, dryRun bool) (removed int, candidates []string, err error) {
	lock := flock.New(filepath.Join(s.tempRoot, ".reclaim.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return 0, nil, fmt.Errorf("acquire reclaim lock: %w", err)
	}
	if !locked {
		logger.Debug("Temp reclamation already running elsewhere", "job", "temp_reclaim")
		return 0, nil, nil
	}
	defer lock.Unlock()

	active, err := s.store.ActiveScopes(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("list active scopes: %w", err)
	}

	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		return 0, nil, err
	}

	cutoff := time.Now().Add(-s.cfg.ScopeGrace)
	for _, entry := range entries {
		if !entry.IsDir() || active[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(s.tempRoot, entry.Name())
		candidates = append(candidates, dir)
		if dryRun {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to reclaim dir", "job", "temp_reclaim", "path", dir, "error", err.Error())
			continue
		}
		removed++
	}
	return removed, candidates, nil
}

// RollupStats snapshots per-platform catalog totals, including whether the
// platform's required BIOS files are present in the library.
func (s *Scheduler) RollupStats(ctx context.Context) error {
	rollups, err := s.store.RollupByPlatform(ctx)
	if err != nil {
		return fmt.Errorf("rollup: %w", err)
	}

	now := time.Now().UTC()
	stats := make([]models.PlatformStat, 0, len(rollups))
	for _, r := range rollups {
		stats = append(stats, models.PlatformStat{
			PlatformID:  r.PlatformID,
			EntryCount:  r.EntryCount,
			TotalBytes:  r.TotalBytes,
			BIOSMissing: s.biosMissing(platform.ID(r.PlatformID)),
			CollectedAt: now,
		})
	}
	if len(stats) == 0 {
		return nil
	}
	return s.store.RecordPlatformStats(ctx, stats)
}

// biosMissing reports whether any required BIOS file is absent from the
// library's bios directory.
func (s *Scheduler) biosMissing(id platform.ID) bool {
	spec, ok := platform.Get(id)
	if !ok || !spec.BIOSRequired {
		return false
	}
	for _, name := range spec.BIOSFiles {
		if _, err := os.Stat(filepath.Join(s.romRoot, "bios", name)); err == nil {
			return false
		}
	}
	return true
}

// ProbeDisk checks fill levels of the temp and library volumes.
func (s *Scheduler) ProbeDisk(_ context.Context) error {
	for _, root := range []string{s.tempRoot, s.romRoot} {
		usage, err := disk.Usage(root)
		if err != nil {
			return fmt.Errorf("disk usage %s: %w", root, err)
		}
		s.metrics.DiskUsage(root, usage.UsedPercent)
		switch {
		case usage.UsedPercent >= s.cfg.DiskErrorPercent:
			logger.Error("Volume critically full",
				"job", "disk_probe", "path", root, "used_percent", usage.UsedPercent)
		case usage.UsedPercent >= s.cfg.DiskWarnPercent:
			logger.Warn("Volume filling up",
				"job", "disk_probe", "path", root, "used_percent", usage.UsedPercent)
		}
	}
	return nil
}

// CompactDB prunes old stats history and compacts the database.
func (s *Scheduler) CompactDB(ctx context.Context) error {
	pruned, err := s.store.PruneStatsBefore(ctx, time.Now().UTC().Add(-s.cfg.StatsRetention))
	if err != nil {
		return fmt.Errorf("prune stats: %w", err)
	}
	if pruned > 0 {
		logger.Info("Pruned stats history", "job", "db_compaction", "rows", pruned)
	}
	return s.store.Compact(ctx)
}

// ============================================================================
// ONE-SHOT GC
// ============================================================================

// GCReport summarizes one garbage-collection pass.
type GCReport struct {
	Expired       int      `json:"expired"`
	Reaped        int      `json:"reaped"`
	ReclaimedDirs int      `json:"reclaimed_dirs"`
	CandidateDirs []string `json:"candidate_dirs,omitempty"`
	StatsPruned   int64    `json:"stats_pruned"`
	Compacted     bool     `json:"compacted"`
}

// RunGC performs expiry, temp reclamation, and compaction in one pass. With
// dryRun set, reclaimable directories are reported but nothing is deleted and
// the database is left untouched.
func (s *Scheduler) RunGC(ctx context.Context, dryRun bool) (*GCReport, error) {
	report := &GCReport{}
	now := time.Now().UTC()

	if !dryRun {
		var err error
		if report.Expired, err = s.janitor.ExpireDue(ctx, now); err != nil {
			return report, fmt.Errorf("expire due: %w", err)
		}
		if report.Reaped, err = s.janitor.ReapTerminal(ctx, now.Add(-s.cfg.TerminalRetention)); err != nil {
			return report, fmt.Errorf("reap terminal: %w", err)
		}
	}

	removed, candidates, err := s.reclaimTemp(ctx, dryRun)
	if err != nil {
		return report, err
	}
	report.ReclaimedDirs = removed
	report.CandidateDirs = candidates

	if !dryRun {
		if report.StatsPruned, err = s.store.PruneStatsBefore(ctx, now.Add(-s.cfg.StatsRetention)); err != nil {
			return report, fmt.Errorf("prune stats: %w", err)
		}
		if err := s.store.Compact(ctx); err != nil {
			return report, fmt.Errorf("compact: %w", err)
		}
		report.Compacted = true
	}
	return report, nil
}
