// Package exportmodule implements the timeline export pipeline: strategy
// resolution, frame compositing, and external encoder dispatch, owned per
// run by an export session.
package exportmodule

import (
	"time"

	"github.com/mantonx/exportra/internal/timeline"
)

// ExportPlan is the resolved, immutable decision record for one export
// run. It is computed exactly once by ResolvePlan and handed by pointer
// through compositor and dispatcher; no downstream stage recomputes or
// overrides any field.
type ExportPlan struct {
	CanUseDirectCopy bool `json:"can_use_direct_copy"`

	// TotalDurationSeconds is the authoritative duration for the whole
	// export, computed from the snapshot and carried unchanged into the
	// encoding job.
	TotalDurationSeconds float64 `json:"total_duration_seconds"`

	// Reason is a human-readable justification, diagnostics only.
	Reason string `json:"reason"`

	// Per-condition diagnostics from strategy resolution.
	VideoElementCount      int  `json:"video_element_count"`
	HasOverlappingVideos   bool `json:"has_overlapping_videos"`
	HasImageElements       bool `json:"has_image_elements"`
	HasTextElements        bool `json:"has_text_elements"`
	HasStickerElements     bool `json:"has_sticker_elements"`
	HasEffects             bool `json:"has_effects"`
	AllVideosHaveLocalPath bool `json:"all_videos_have_local_path"`
	HasVisualContent       bool `json:"has_visual_content"`

	// SourcePaths holds the original video files in timeline order when
	// CanUseDirectCopy is true.
	SourcePaths []string `json:"source_paths,omitempty"`

	// AudioTracks holds every audio contribution for render-mode muxing.
	AudioTracks []AudioTrack `json:"audio_tracks,omitempty"`
}

// RequiresFrameRendering reports whether the export must go through the
// frame pipeline. It is derived from CanUseDirectCopy, never stored as a
// second flag: a timeline with any visual content either stream-copies or
// renders, there is no third state and no independently drifting boolean.
func (p *ExportPlan) RequiresFrameRendering() bool {
	return p.HasVisualContent && !p.CanUseDirectCopy
}

// AudioTrack is one audio contribution to the final mux.
type AudioTrack struct {
	Path string `json:"path"`

	// Offset is where on the output timeline the audio starts.
	Offset float64 `json:"offset"`

	// TrimStart skips into the source before playback starts.
	TrimStart float64 `json:"trim_start"`

	// Duration is the on-timeline play length after trimming.
	Duration float64 `json:"duration"`
}

// FrameRequest describes one frame of the render loop. It is built at the
// top of an iteration, consumed to produce a single raster image, and
// discarded; requests are never retained across iterations.
type FrameRequest struct {
	Index     int
	Timestamp float64
	Active    []timeline.PlacedElement
}

// EncodingMode selects how the dispatcher feeds the external encoder.
type EncodingMode string

const (
	// EncodingModeCopy concatenates original source files without
	// re-encoding pixel data.
	EncodingModeCopy EncodingMode = "copy"
	// EncodingModeRender encodes a rendered frame sequence.
	EncodingModeRender EncodingMode = "render"
)

// EncodingJob is the input bundle handed to the encoding dispatcher.
// Render-mode jobs must carry the plan's TotalDurationSeconds explicitly;
// the dispatcher rejects jobs without it rather than letting the encoder
// fall back to a guessed duration.
type EncodingJob struct {
	Mode EncodingMode

	// Copy mode
	SourcePaths []string

	// Render mode
	FrameDir             string
	FramePattern         string // e.g. frame-%04d.png
	FPS                  int
	TotalDurationSeconds float64

	AudioTracks []AudioTrack
	Width       int
	Height      int
	OutputPath  string
}

// OutputFile describes the muxed result returned to the host application.
type OutputFile struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

// ExportResult is the terminal report for a session.
type ExportResult struct {
	SessionID     string        `json:"session_id"`
	Output        *OutputFile   `json:"output,omitempty"`
	UsedCopyMode  bool          `json:"used_copy_mode"`
	FrameCount    int           `json:"frame_count"`
	FramesWritten int           `json:"frames_written"`
	SeekWarnings  int           `json:"seek_warnings"`
	Elapsed       time.Duration `json:"elapsed"`
}
