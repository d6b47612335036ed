package exportmodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/exportra/internal/config"
	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
	"github.com/mantonx/exportra/internal/timeline"
)

// Encoder is the dispatcher seam. The production implementation shells
// out to ffmpeg; tests substitute a stub.
type Encoder interface {
	CheckAvailability() error
	Encode(ctx context.Context, job *EncodingJob, onProgress func(seconds float64)) (*OutputFile, error)
}

// ExportOptions configures one export run.
type ExportOptions struct {
	// OutputPath is where the finished file lands. Empty selects a path
	// under the manager's exports directory.
	OutputPath string

	// Preset names an output preset; it overrides the configured canvas
	// size and fps, and the snapshot's canvas.
	Preset string

	// Listener receives progress reports for this session.
	Listener ProgressFunc
}

// Manager owns every concurrent export session. Each session gets an
// isolated working directory keyed by its id; sessions share nothing
// mutable.
type Manager struct {
	logger  hclog.Logger
	cfg     config.ExportConfig
	store   *ExportStore
	encoder Encoder

	mu       sync.RWMutex
	sessions map[string]*ExportSession
}

// NewManager creates an export manager.
func NewManager(logger hclog.Logger, cfg config.ExportConfig, store *ExportStore, encoder Encoder) *Manager {
	return &Manager{
		logger:   logger.Named("export-manager"),
		cfg:      cfg,
		store:    store,
		encoder:  encoder,
		sessions: make(map[string]*ExportSession),
	}
}

// StartExport validates capacity, creates the session, and runs the
// pipeline in the background. The returned session exposes Done() for
// callers that want to block.
func (m *Manager) StartExport(ctx context.Context, snapshot *timeline.Snapshot, opts ExportOptions) (*ExportSession, error) {
	m.mu.Lock()
	if m.cfg.MaxConcurrentSessions > 0 {
		active := 0
		for _, s := range m.sessions {
			if !s.State().Terminal() {
				active++
			}
		}
		if active >= m.cfg.MaxConcurrentSessions {
			m.mu.Unlock()
			return nil, experrors.Newf(experrors.ErrorTypeSession, "start export",
				"concurrent session limit reached (%d)", m.cfg.MaxConcurrentSessions)
		}
	}

	session := newExportSession(uuid.New().String(), m.cfg.TmpRoot, opts.Listener, m.logger)
	m.sessions[session.ID] = session
	m.mu.Unlock()

	if err := m.store.CreateRecord(session); err != nil {
		m.logger.Warn("failed to persist session record", "session_id", session.ID, "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	session.setCancel(cancel)

	go m.run(runCtx, session, snapshot, opts)

	m.logger.Info("export started", "session_id", session.ID)
	return session, nil
}

// GetSession returns an active (or recently finished, still in-memory)
// session.
func (m *Manager) GetSession(sessionID string) (*ExportSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, experrors.New(experrors.ErrorTypeSession, "get session", experrors.ErrSessionNotFound).
			WithSession(sessionID)
	}
	return session, nil
}

// CancelSession requests cancellation of an in-flight export.
func (m *Manager) CancelSession(sessionID string) error {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.State().Terminal() {
		return experrors.Newf(experrors.ErrorTypeSession, "cancel session",
			"session %s already %s", sessionID, session.State())
	}
	session.Cancel()
	return nil
}

// ListSessions returns all in-memory sessions.
func (m *Manager) ListSessions() []*ExportSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ExportSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Store exposes the record store for read-side consumers.
func (m *Manager) Store() *ExportStore {
	return m.store
}

// ReapTerminalSessions drops finished sessions from the in-memory
// registry once they have been terminal for olderThan. Their database
// records are untouched; history stays queryable through the store.
func (m *Manager) ReapTerminalSessions(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		s.mu.RLock()
		terminal := s.state.Terminal()
		ended := s.endTime
		s.mu.RUnlock()
		if terminal && !ended.IsZero() && !ended.After(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("reaped terminal sessions", "count", removed)
	}
	return removed
}

// run drives one session through the pipeline:
// Analyzing -> (CopyReady | Rendering) -> Encoding -> Completed, with
// Failed reachable everywhere and cleanup guaranteed on every exit.
func (m *Manager) run(ctx context.Context, session *ExportSession, snapshot *timeline.Snapshot, opts ExportOptions) {
	defer cancelOf(session)
	started := time.Now()

	fail := func(err error) {
		session.fail(err)
		m.store.MarkFailed(session.ID, errorKind(err), err.Error())
		session.cleanup(m.cfg.RetainFramesOnFailure)
		session.progress.report(StateFailed, session.progress.current(), err.Error())
		session.finish()
	}

	// Analyzing
	if err := session.transition(StateAnalyzing); err != nil {
		fail(err)
		return
	}
	m.store.UpdateState(session.ID, StateAnalyzing)
	session.progress.report(StateAnalyzing, percentAnalyzing, "analyzing timeline")

	if err := session.prepareDirs(); err != nil {
		fail(err)
		return
	}

	plan, err := ResolvePlan(snapshot)
	if err != nil {
		fail(err)
		return
	}
	session.setPlan(plan)
	m.store.SetPlan(session.ID, plan)
	m.logger.Info("plan resolved",
		"session_id", session.ID,
		"direct_copy", plan.CanUseDirectCopy,
		"total_duration", plan.TotalDurationSeconds,
		"reason", plan.Reason)

	if err := preflight(m.cfg.TmpRoot, m.cfg.MinFreeDiskMB, m.logger); err != nil {
		fail(err)
		return
	}

	renderFPS := m.cfg.FPS
	canvasW, canvasH := m.cfg.Width, m.cfg.Height
	forceSize := false
	if opts.Preset != "" {
		preset, ok := PresetByName(opts.Preset)
		if !ok {
			fail(experrors.Newf(experrors.ErrorTypeConfiguration, "resolve preset",
				"unknown output preset %q", opts.Preset).WithSession(session.ID))
			return
		}
		renderFPS = preset.FPS
		canvasW, canvasH = preset.Width, preset.Height
		forceSize = true
		m.logger.Info("output preset selected",
			"session_id", session.ID, "preset", preset.Name,
			"width", canvasW, "height", canvasH, "fps", renderFPS)
	}

	// A preset pins the output canvas, which rules out stream copy even
	// when the timeline itself would allow it.
	useCopy := plan.CanUseDirectCopy && !forceSize

	result := &ExportResult{SessionID: session.ID, UsedCopyMode: useCopy}
	job := &EncodingJob{
		TotalDurationSeconds: plan.TotalDurationSeconds,
		Width:                snapshot.Width,
		Height:               snapshot.Height,
		OutputPath:           filepath.Join(session.outDir, "output.mp4"),
	}
	if forceSize {
		job.Width, job.Height = canvasW, canvasH
	}

	if useCopy {
		// CopyReady: no frame step, sources go straight to the encoder.
		if err := session.transition(StateCopyReady); err != nil {
			fail(err)
			return
		}
		m.store.UpdateState(session.ID, StateCopyReady)
		session.progress.report(StateCopyReady, percentRenderEnd, "stream copy eligible")

		job.Mode = EncodingModeCopy
		job.SourcePaths = plan.SourcePaths
	} else {
		// Rendering: everything that cannot stream-copy goes through the
		// frame pipeline, including timelines with no local video media.
		if err := session.transition(StateRendering); err != nil {
			fail(err)
			return
		}
		m.store.UpdateState(session.ID, StateRendering)
		session.progress.report(StateRendering, percentRenderStart, "rendering frames")

		compositor, err := NewCompositor(m.logger, CompositorOptions{
			FPS:         renderFPS,
			Width:       canvasW,
			Height:      canvasH,
			FrameFormat: m.cfg.FrameFormat,
			SeekTimeout: m.cfg.SeekTimeout,
			ForceSize:   forceSize,
		})
		if err != nil {
			fail(err)
			return
		}

		stats, err := compositor.Render(ctx, plan, snapshot, session.frameDir, func(done, total int) {
			pct := renderPercent(done, total)
			session.progress.report(StateRendering, pct, fmt.Sprintf("rendered %d/%d frames", done, total))
			m.store.SetProgress(session.ID, pct)
		})
		if stats != nil {
			result.FrameCount = stats.FrameCount
			result.FramesWritten = stats.FramesWritten
			result.SeekWarnings = stats.SeekWarnings
		}
		if err != nil {
			fail(err)
			return
		}

		job.Mode = EncodingModeRender
		job.FrameDir = session.frameDir
		job.FramePattern = compositor.FramePattern()
		job.FPS = renderFPS
		job.AudioTracks = plan.AudioTracks
	}

	// Encoding
	if err := session.transition(StateEncoding); err != nil {
		fail(err)
		return
	}
	m.store.UpdateState(session.ID, StateEncoding)
	session.progress.report(StateEncoding, percentEncodeStart, "encoding output")

	output, err := m.encoder.Encode(ctx, job, func(seconds float64) {
		session.progress.report(StateEncoding, encodePercent(seconds, plan.TotalDurationSeconds), "encoding output")
	})
	if err != nil {
		fail(err)
		return
	}

	// Move the output out of the working directory before cleanup.
	finalPath := opts.OutputPath
	if finalPath == "" {
		finalPath = filepath.Join(m.exportsDir(), session.ID+filepath.Ext(output.Path))
	}
	if err := moveFile(output.Path, finalPath); err != nil {
		fail(experrors.New(experrors.ErrorTypeSession, "move output", err).WithSession(session.ID))
		return
	}
	output.Path = finalPath
	result.Output = output
	result.Elapsed = time.Since(started)

	if err := session.transition(StateCompleted); err != nil {
		fail(err)
		return
	}
	session.complete(result)
	m.store.MarkCompleted(session.ID, result)
	session.cleanup(false)
	session.progress.report(StateCompleted, percentDone, "export complete")
	session.finish()

	m.logger.Info("export completed",
		"session_id", session.ID,
		"output", finalPath,
		"copy_mode", result.UsedCopyMode,
		"frames", result.FramesWritten,
		"seek_warnings", result.SeekWarnings,
		"elapsed", result.Elapsed)
}

// exportsDir is where finished outputs land when the caller gives no
// explicit destination; it survives session cleanup.
func (m *Manager) exportsDir() string {
	dir := filepath.Join(m.cfg.TmpRoot, "exports")
	os.MkdirAll(dir, 0755)
	return dir
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile streams src into dst. Outputs can be gigabytes, so the
// cross-device fallback never buffers the whole file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// errorKind maps an error to its taxonomy name for the session record.
func errorKind(err error) string {
	if errors.Is(err, experrors.ErrCancelled) {
		return "cancelled"
	}
	var ee *experrors.ExportError
	if errors.As(err, &ee) {
		return string(ee.Type)
	}
	return "internal"
}

func cancelOf(session *ExportSession) {
	session.mu.RLock()
	cancel := session.cancel
	session.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
