// Package timeline defines the read-only snapshot of an edited timeline
// that the export pipeline consumes. The snapshot is produced by the host
// application at export start and is never mutated by the pipeline.
package timeline

import (
	"image/color"
)

// TrackKind identifies what a track holds
type TrackKind string

const (
	TrackKindVideo   TrackKind = "video"
	TrackKindAudio   TrackKind = "audio"
	TrackKindText    TrackKind = "text"
	TrackKindSticker TrackKind = "sticker"
	TrackKindEffect  TrackKind = "effect"
)

// ElementKind identifies what a single element draws
type ElementKind string

const (
	ElementKindVideo   ElementKind = "video"
	ElementKindAudio   ElementKind = "audio"
	ElementKindImage   ElementKind = "image"
	ElementKindText    ElementKind = "text"
	ElementKindSticker ElementKind = "sticker"
)

// EffectKind identifies a filter applied to the composited frame
type EffectKind string

const (
	EffectBrightness EffectKind = "brightness"
	EffectContrast   EffectKind = "contrast"
	EffectSaturation EffectKind = "saturation"
	EffectGrayscale  EffectKind = "grayscale"
	EffectBlur       EffectKind = "blur"
)

// Effect is one entry in an element's filter chain. Amount semantics are
// per-kind: brightness/contrast/saturation are multipliers around 1.0,
// blur is a radius in pixels, grayscale ignores the amount.
type Effect struct {
	Kind   EffectKind `json:"kind"`
	Amount float64    `json:"amount"`
}

// TextStyle describes how a text element is rasterized
type TextStyle struct {
	Content  string `json:"content"`
	FontSize float64 `json:"font_size"`
	Bold     bool   `json:"bold"`
	Color    RGBA   `json:"color"`
}

// RGBA is a JSON-friendly color value
type RGBA struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// ToColor converts to the standard library color type
func (c RGBA) ToColor() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// Element is a single clip, image, text block or sticker placed on a
// track. Times are seconds on the output timeline; TrimStart/TrimEnd cut
// into the source media without moving the element.
type Element struct {
	ID        string      `json:"id"`
	Kind      ElementKind `json:"kind"`
	StartTime float64     `json:"start_time"`
	Duration  float64     `json:"duration"`
	TrimStart float64     `json:"trim_start"`
	TrimEnd   float64     `json:"trim_end"`

	// Media reference for video/audio/image/sticker kinds
	MediaID string `json:"media_id,omitempty"`

	// Placement on the output canvas, pixels. A zero-size rectangle means
	// the element fills the canvas.
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`

	// Opacity in [0,1]; 0 is treated as fully opaque (unset).
	Opacity  float64 `json:"opacity,omitempty"`
	Rotation float64 `json:"rotation,omitempty"` // degrees, clockwise

	Text    *TextStyle `json:"text,omitempty"`
	Effects []Effect   `json:"effects,omitempty"`
	Hidden  bool       `json:"hidden,omitempty"`
	Muted   bool       `json:"muted,omitempty"`
}

// EffectiveDuration returns the element's on-timeline duration after
// trimming has been applied.
func (e *Element) EffectiveDuration() float64 {
	d := e.Duration - e.TrimStart - e.TrimEnd
	if d < 0 {
		return 0
	}
	return d
}

// EndTime returns the instant the element stops contributing to the
// output timeline.
func (e *Element) EndTime() float64 {
	return e.StartTime + e.EffectiveDuration()
}

// ActiveAt reports whether the element covers the given output timestamp.
// The interval is half-open: [StartTime, EndTime).
func (e *Element) ActiveAt(t float64) bool {
	return t >= e.StartTime && t < e.EndTime()
}

// IsVisual reports whether the element paints pixels. Unknown kinds are
// treated as visual so the planner falls back to the rendering path
// rather than silently dropping them.
func (e *Element) IsVisual() bool {
	switch e.Kind {
	case ElementKindAudio:
		return false
	default:
		return true
	}
}

// Track is an ordered lane of non-overlapping elements. Track order in
// the snapshot is paint order: later tracks composite above earlier ones.
type Track struct {
	ID       string    `json:"id"`
	Kind     TrackKind `json:"kind"`
	Elements []Element `json:"elements"`
	Muted    bool      `json:"muted,omitempty"`
}

// MediaDescriptor describes a media library entry referenced by elements.
type MediaDescriptor struct {
	ID             string  `json:"id"`
	LocalPath      string  `json:"local_path,omitempty"`
	SourceDuration float64 `json:"source_duration"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	FPS            float64 `json:"fps,omitempty"`
}

// HasLocalPath reports whether the media is backed by a file on disk.
// Remote-only media (e.g. a generated clip that was never downloaded)
// cannot be stream-copied and forces frame rendering.
func (m *MediaDescriptor) HasLocalPath() bool {
	return m.LocalPath != ""
}

// Snapshot is the immutable view of the timeline at export start.
type Snapshot struct {
	Tracks []Track                    `json:"tracks"`
	Media  map[string]MediaDescriptor `json:"media"`

	// Output canvas size, pixels
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MediaFor resolves an element's media descriptor, if any.
func (s *Snapshot) MediaFor(e *Element) (*MediaDescriptor, bool) {
	if e.MediaID == "" {
		return nil, false
	}
	m, ok := s.Media[e.MediaID]
	if !ok {
		return nil, false
	}
	return &m, true
}

// VisualElements yields every visible, non-audio element with its track
// index (z-order). Hidden elements and elements on muted tracks are
// excluded from compositing but still count for planning.
func (s *Snapshot) VisualElements() []PlacedElement {
	var out []PlacedElement
	for ti := range s.Tracks {
		track := &s.Tracks[ti]
		if track.Kind == TrackKindAudio {
			continue
		}
		for ei := range track.Elements {
			el := &track.Elements[ei]
			if !el.IsVisual() {
				continue
			}
			out = append(out, PlacedElement{Element: el, TrackIndex: ti})
		}
	}
	return out
}

// AudioElements yields every audio-contributing element: elements on audio
// tracks plus unmuted video elements (video clips carry their own audio).
func (s *Snapshot) AudioElements() []PlacedElement {
	var out []PlacedElement
	for ti := range s.Tracks {
		track := &s.Tracks[ti]
		for ei := range track.Elements {
			el := &track.Elements[ei]
			switch {
			case el.Kind == ElementKindAudio && !track.Muted && !el.Muted:
				out = append(out, PlacedElement{Element: el, TrackIndex: ti})
			case el.Kind == ElementKindVideo && !el.Muted:
				out = append(out, PlacedElement{Element: el, TrackIndex: ti})
			}
		}
	}
	return out
}

// PlacedElement pairs an element with the index of the track holding it.
type PlacedElement struct {
	Element    *Element
	TrackIndex int
}
