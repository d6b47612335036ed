package exportmodule

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/exportra/internal/config"
)

// CleanupStats summarizes one sweep.
type CleanupStats struct {
	LastRun         time.Time `json:"last_run"`
	DirsRemoved     int       `json:"dirs_removed"`
	BytesFreed      int64     `json:"bytes_freed"`
	RecordsExpired  int64     `json:"records_expired"`
	SessionsReaped  int       `json:"sessions_reaped"`
	ActiveSkipped   int       `json:"active_skipped"`
	TotalSweeps     int       `json:"total_sweeps"`
	TotalDirsRemove int       `json:"total_dirs_removed"`
}

// CleanupService periodically sweeps abandoned session directories out
// of the temp root, expires old terminal records, and evicts finished
// sessions from the manager's in-memory registry. Directories backed by
// an active session are never touched.
type CleanupService struct {
	logger  hclog.Logger
	cfg     config.ExportConfig
	store   *ExportStore
	manager *Manager

	mu    sync.Mutex
	stats CleanupStats
}

// NewCleanupService creates a cleanup service for the given temp root.
// The manager may be nil when there is no long-lived session registry to
// prune.
func NewCleanupService(logger hclog.Logger, cfg config.ExportConfig, store *ExportStore, manager *Manager) *CleanupService {
	return &CleanupService{
		logger:  logger.Named("cleanup"),
		cfg:     cfg,
		store:   store,
		manager: manager,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (c *CleanupService) Run(ctx context.Context) {
	interval := c.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	c.logger.Info("cleanup service started", "interval", interval, "retention", c.cfg.RetentionAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cleanup service stopped")
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep runs one cleanup pass and returns its stats.
func (c *CleanupService) Sweep() CleanupStats {
	run := CleanupStats{LastRun: time.Now()}
	cutoff := run.LastRun.Add(-c.retention())

	entries, err := os.ReadDir(c.cfg.TmpRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read temp root", "path", c.cfg.TmpRoot, "error", err)
		}
	} else {
		for _, entry := range entries {
			if !entry.IsDir() || !looksLikeSessionDir(entry.Name()) {
				continue
			}
			if c.store.HasActiveRecord(entry.Name()) {
				run.ActiveSkipped++
				continue
			}
			path := filepath.Join(c.cfg.TmpRoot, entry.Name())
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			size := dirSize(path)
			if err := os.RemoveAll(path); err != nil {
				c.logger.Warn("failed to remove session dir", "path", path, "error", err)
				continue
			}
			run.DirsRemoved++
			run.BytesFreed += size
			c.logger.Info("removed abandoned session dir", "path", path, "size", size)
		}
	}

	expired, err := c.store.CleanupExpired(c.retention())
	if err != nil {
		c.logger.Warn("failed to expire session records", "error", err)
	}
	run.RecordsExpired = expired

	if c.manager != nil {
		run.SessionsReaped = c.manager.ReapTerminalSessions(c.retention())
	}

	c.mu.Lock()
	c.stats.LastRun = run.LastRun
	c.stats.DirsRemoved = run.DirsRemoved
	c.stats.BytesFreed = run.BytesFreed
	c.stats.RecordsExpired = run.RecordsExpired
	c.stats.SessionsReaped = run.SessionsReaped
	c.stats.ActiveSkipped = run.ActiveSkipped
	c.stats.TotalSweeps++
	c.stats.TotalDirsRemove += run.DirsRemoved
	c.mu.Unlock()

	return run
}

// GetStats returns cumulative cleanup statistics.
func (c *CleanupService) GetStats() CleanupStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CleanupService) retention() time.Duration {
	if c.cfg.RetentionAge > 0 {
		return c.cfg.RetentionAge
	}
	return 24 * time.Hour
}

// looksLikeSessionDir matches uuid-named session directories so the
// sweep never touches the exports dir or unrelated files under the
// temp root.
func looksLikeSessionDir(name string) bool {
	if len(name) != 36 {
		return false
	}
	return strings.Count(name, "-") == 4
}

func dirSize(path string) int64 {
	var total int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
