package exportmodule

import (
	"sync"
)

// ProgressReport is a notification-only snapshot of export progress.
// Percent is monotonically non-decreasing for the life of a session.
type ProgressReport struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Percent   int          `json:"percent"`
	Message   string       `json:"message"`
}

// ProgressFunc receives progress reports. Implementations must not block;
// the pipeline calls them inline between frames.
type ProgressFunc func(ProgressReport)

// Stage percent bands. Rendering dominates wall time so it gets the bulk
// of the bar; copy-mode exports jump straight to the encoding band.
const (
	percentAnalyzing     = 2
	percentRenderStart   = 5
	percentRenderEnd     = 75
	percentEncodeStart   = 75
	percentEncodeEnd     = 99
	percentDone          = 100
)

// progressTracker enforces monotonic progress and fans reports out to an
// optional listener.
type progressTracker struct {
	mu        sync.Mutex
	sessionID string
	percent   int
	listener  ProgressFunc
}

func newProgressTracker(sessionID string, listener ProgressFunc) *progressTracker {
	return &progressTracker{sessionID: sessionID, listener: listener}
}

// report publishes a progress update, never letting percent move backward.
func (p *progressTracker) report(state SessionState, percent int, message string) {
	p.mu.Lock()
	if percent < p.percent {
		percent = p.percent
	}
	if percent > percentDone {
		percent = percentDone
	}
	p.percent = percent
	listener := p.listener
	report := ProgressReport{
		SessionID: p.sessionID,
		State:     state,
		Percent:   percent,
		Message:   message,
	}
	p.mu.Unlock()

	if listener != nil {
		listener(report)
	}
}

// current returns the last published percent.
func (p *progressTracker) current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// renderPercent maps frames done to the rendering band.
func renderPercent(done, total int) int {
	if total <= 0 {
		return percentRenderStart
	}
	return percentRenderStart + (percentRenderEnd-percentRenderStart)*done/total
}

// encodePercent maps encoded seconds to the encoding band.
func encodePercent(doneSeconds, totalSeconds float64) int {
	if totalSeconds <= 0 {
		return percentEncodeStart
	}
	frac := doneSeconds / totalSeconds
	if frac > 1 {
		frac = 1
	}
	return percentEncodeStart + int(float64(percentEncodeEnd-percentEncodeStart)*frac)
}
