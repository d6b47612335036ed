package exportmodule

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/chai2010/webp"
	"github.com/hashicorp/go-hclog"

	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
	"github.com/mantonx/exportra/internal/timeline"
)

// progressEvery bounds how often the compositor reports progress during
// a render; reporting every frame would flood slow transports.
const progressEvery = 30

// CompositorOptions configures a frame compositor.
type CompositorOptions struct {
	FPS         int
	Width       int
	Height      int
	FrameFormat string // png or webp
	SeekTimeout time.Duration

	// ForceSize makes Width/Height win over the snapshot's canvas size,
	// used when an output preset was requested.
	ForceSize bool
}

// Compositor walks the output timeline at fixed frame intervals, resolves
// the active visual layers at each instant, composites them onto a raster
// surface, and persists one image per frame. Frames are produced in strict
// index order; only the current frame is live in memory.
type Compositor struct {
	logger hclog.Logger
	opts   CompositorOptions
	text   *textRasterizer
}

// RenderStats is the compositor's report for one render.
type RenderStats struct {
	FrameCount    int
	FramesWritten int
	SeekWarnings  int
}

// NewCompositor creates a frame compositor.
func NewCompositor(logger hclog.Logger, opts CompositorOptions) (*Compositor, error) {
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("compositor: fps must be positive, got %d", opts.FPS)
	}
	if opts.FrameFormat == "" {
		opts.FrameFormat = "png"
	}
	if opts.SeekTimeout <= 0 {
		opts.SeekTimeout = 500 * time.Millisecond
	}

	text, err := newTextRasterizer()
	if err != nil {
		return nil, err
	}

	return &Compositor{
		logger: logger.Named("compositor"),
		opts:   opts,
		text:   text,
	}, nil
}

// FrameCount returns the number of frames a render of the given duration
// produces: ceil(duration * fps).
func (c *Compositor) FrameCount(totalDurationSeconds float64) int {
	return int(math.Ceil(totalDurationSeconds * float64(c.opts.FPS)))
}

// FramePattern returns the printf pattern of persisted frame file names.
func (c *Compositor) FramePattern() string {
	return "frame-%04d." + c.opts.FrameFormat
}

// Render produces the full frame sequence for the plan into frameDir.
// Cancellation is checked once per frame; a cancelled render returns
// ErrCancelled with whatever frames were already written still on disk
// for the session's cleanup path to remove.
func (c *Compositor) Render(ctx context.Context, plan *ExportPlan, snapshot *timeline.Snapshot, frameDir string, onProgress func(done, total int)) (*RenderStats, error) {
	width, height := snapshot.Width, snapshot.Height
	if c.opts.ForceSize || width <= 0 || height <= 0 {
		width, height = c.opts.Width, c.opts.Height
	}

	stats := &RenderStats{FrameCount: c.FrameCount(plan.TotalDurationSeconds)}
	c.logger.Info("starting render",
		"frame_count", stats.FrameCount,
		"fps", c.opts.FPS,
		"size", fmt.Sprintf("%dx%d", width, height),
		"duration", plan.TotalDurationSeconds)

	sources := make(map[string]*videoSource)
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()
	images := newImageCache()

	frame := image.NewRGBA(image.Rect(0, 0, width, height))

	for index := 0; index < stats.FrameCount; index++ {
		select {
		case <-ctx.Done():
			return stats, experrors.New(experrors.ErrorTypeSession, "render", experrors.ErrCancelled).
				WithContext("last_completed_frame", index-1)
		default:
		}

		req := FrameRequest{
			Index:     index,
			Timestamp: float64(index) / float64(c.opts.FPS),
			Active:    c.activeElementsAt(snapshot, float64(index)/float64(c.opts.FPS)),
		}

		fillBackground(frame, color.Black)
		for _, placed := range req.Active {
			if err := c.drawElement(frame, snapshot, placed, req.Timestamp, sources, images, stats); err != nil {
				return stats, err
			}
		}

		path := filepath.Join(frameDir, fmt.Sprintf(c.FramePattern(), index))
		if err := c.persistFrame(path, frame); err != nil {
			return stats, experrors.New(experrors.ErrorTypeFrameWrite, "persist frame", err).
				WithContext("frame_index", index)
		}
		stats.FramesWritten++

		if onProgress != nil && (index%progressEvery == 0 || index == stats.FrameCount-1) {
			onProgress(index+1, stats.FrameCount)
		}
	}

	if stats.FramesWritten != stats.FrameCount {
		return stats, experrors.Newf(experrors.ErrorTypeInternal, "render",
			"wrote %d frames, expected %d", stats.FramesWritten, stats.FrameCount)
	}

	c.logger.Info("render complete",
		"frames", stats.FramesWritten,
		"seek_warnings", stats.SeekWarnings)
	return stats, nil
}

// activeElementsAt resolves the visible layers covering the timestamp, in
// track paint order: later tracks composite above earlier ones.
func (c *Compositor) activeElementsAt(snapshot *timeline.Snapshot, t float64) []timeline.PlacedElement {
	var active []timeline.PlacedElement
	for _, placed := range snapshot.VisualElements() {
		if placed.Element.Hidden {
			continue
		}
		if placed.Element.ActiveAt(t) {
			active = append(active, placed)
		}
	}
	return active
}

func (c *Compositor) drawElement(frame *image.RGBA, snapshot *timeline.Snapshot, placed timeline.PlacedElement, timestamp float64, sources map[string]*videoSource, images *imageCache, stats *RenderStats) error {
	el := placed.Element

	switch el.Kind {
	case timeline.ElementKindVideo:
		media, ok := snapshot.MediaFor(el)
		if !ok || !media.HasLocalPath() {
			// Remote-only media renders as a black layer; the plan already
			// routed this timeline away from stream copy.
			break
		}
		src, exists := sources[el.MediaID]
		if !exists {
			opened, err := openVideoSource(media.LocalPath, c.opts.SeekTimeout, c.logger)
			if err != nil {
				return experrors.New(experrors.ErrorTypeInternal, "open video source", err)
			}
			sources[el.MediaID] = opened
			src = opened
		}

		local := timestamp - el.StartTime + el.TrimStart
		img, converged, err := src.FrameAt(local)
		if err != nil {
			return experrors.New(experrors.ErrorTypeInternal, "decode video frame", err)
		}
		if !converged {
			stats.SeekWarnings++
		}
		drawLayer(frame, img, el)

	case timeline.ElementKindImage, timeline.ElementKindSticker:
		media, ok := snapshot.MediaFor(el)
		if !ok || !media.HasLocalPath() {
			break
		}
		img, err := images.get(el.MediaID, media.LocalPath)
		if err != nil {
			return experrors.New(experrors.ErrorTypeInternal, "decode image", err)
		}
		drawLayer(frame, img, el)

	case timeline.ElementKindText:
		if err := c.text.draw(frame, el); err != nil {
			return experrors.New(experrors.ErrorTypeInternal, "rasterize text", err)
		}
	}

	if len(el.Effects) > 0 {
		applyEffects(frame, layerRect(el, frame.Bounds().Dx(), frame.Bounds().Dy()), el.Effects)
	}
	return nil
}

func (c *Compositor) persistFrame(path string, frame *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch c.opts.FrameFormat {
	case "webp":
		err = webp.Encode(f, frame, &webp.Options{Lossless: true})
	default:
		err = png.Encode(f, frame)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
