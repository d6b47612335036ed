package exportmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
)

// SessionState is one node of the export lifecycle state machine.
type SessionState string

const (
	StateCreated   SessionState = "created"
	StateAnalyzing SessionState = "analyzing"
	StateCopyReady SessionState = "copy_ready"
	StateRendering SessionState = "rendering"
	StateEncoding  SessionState = "encoding"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

// validTransitions is the full transition table. Failed is reachable from
// every non-terminal state; nothing leaves a terminal state.
var validTransitions = map[SessionState][]SessionState{
	StateCreated:   {StateAnalyzing, StateFailed},
	StateAnalyzing: {StateCopyReady, StateRendering, StateFailed},
	StateCopyReady: {StateEncoding, StateFailed},
	StateRendering: {StateEncoding, StateFailed},
	StateEncoding:  {StateCompleted, StateFailed},
	StateCompleted: {},
	StateFailed:    {},
}

// Terminal reports whether the state ends the session.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ExportSession owns the lifecycle of a single export: its working
// directory, frame directory, the one resolved plan, and cleanup. The
// plan's canUseDirectCopy/totalDuration pair flows from resolver through
// compositor to dispatcher by pointer so the stages can never disagree.
type ExportSession struct {
	ID string

	mu        sync.RWMutex
	state     SessionState
	plan      *ExportPlan
	result    *ExportResult
	err       error
	startTime time.Time
	endTime   time.Time

	workDir  string
	frameDir string
	outDir   string

	progress *progressTracker
	cancel   context.CancelFunc
	done     chan struct{}

	logger hclog.Logger
}

func newExportSession(id, tmpRoot string, listener ProgressFunc, logger hclog.Logger) *ExportSession {
	workDir := filepath.Join(tmpRoot, id)
	return &ExportSession{
		ID:        id,
		state:     StateCreated,
		startTime: time.Now(),
		workDir:   workDir,
		frameDir:  filepath.Join(workDir, "frames"),
		outDir:    filepath.Join(workDir, "output"),
		progress:  newProgressTracker(id, listener),
		done:      make(chan struct{}),
		logger:    logger.Named("session").With("session_id", id),
	}
}

// prepareDirs creates the session's scoped working directories.
func (s *ExportSession) prepareDirs() error {
	for _, dir := range []string{s.workDir, s.frameDir, s.outDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return experrors.New(experrors.ErrorTypeSession, "prepare directories", err).WithSession(s.ID)
		}
	}
	return nil
}

// transition moves the session to the next state, enforcing the
// transition table. An illegal move is a programmer error and fails the
// session rather than corrupting it.
func (s *ExportSession) transition(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			s.state = to
			s.logger.Info("session state changed", "from", from, "to", to)
			return nil
		}
	}
	return experrors.New(experrors.ErrorTypeSession, "transition",
		fmt.Errorf("%w: %s -> %s", experrors.ErrInvalidTransition, from, to)).WithSession(s.ID)
}

// fail moves the session to Failed from any non-terminal state and
// records the cause. Calling fail on an already-terminal session keeps
// the first error.
func (s *ExportSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.logger.Error("session failed", "state", s.state, "error", err)
	s.state = StateFailed
	s.err = err
	s.endTime = time.Now()
}

// complete records a successful result.
func (s *ExportSession) complete(result *ExportResult) {
	s.mu.Lock()
	s.result = result
	s.endTime = time.Now()
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *ExportSession) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Plan returns the resolved export plan, nil before analysis completes.
func (s *ExportSession) Plan() *ExportPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// Result returns the terminal result, nil unless Completed.
func (s *ExportSession) Result() *ExportResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Err returns the terminal error, nil unless Failed.
func (s *ExportSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Progress returns the last reported progress percent.
func (s *ExportSession) Progress() int {
	return s.progress.current()
}

// Done returns a channel closed when the session reaches a terminal state.
func (s *ExportSession) Done() <-chan struct{} {
	return s.done
}

// Cancel requests cancellation. The pipeline observes it between frames
// and fails the session through the normal cleanup path.
func (s *ExportSession) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (s *ExportSession) setPlan(plan *ExportPlan) {
	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()
}

func (s *ExportSession) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// cleanup removes the session's working directory. When retainFrames is
// set and the session failed, the frame directory is kept for diagnostics
// and only the rest of the working directory is removed.
func (s *ExportSession) cleanup(retainFrames bool) {
	keepFrames := retainFrames && s.State() == StateFailed

	if !keepFrames {
		if err := os.RemoveAll(s.workDir); err != nil {
			s.logger.Warn("failed to remove working directory", "path", s.workDir, "error", err)
		}
		return
	}

	// Keep frames, drop everything else under the working directory.
	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(s.workDir, entry.Name())
		if path == s.frameDir {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove session entry", "path", path, "error", err)
		}
	}
	s.logger.Info("frame directory retained for diagnostics", "path", s.frameDir)
}

// finish closes the done channel exactly once.
func (s *ExportSession) finish() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
