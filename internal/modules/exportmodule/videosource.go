package exportmodule

import (
	"fmt"
	"image"
	"time"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/hashicorp/go-hclog"
)

// videoSource wraps a sequential video decoder with timestamp-targeted
// seeking. Decoding is forward-only: seeking ahead reads frames until the
// decoder clock reaches the target, seeking backward reopens the source.
// A seek that does not converge within the configured deadline falls back
// to the nearest reached frame; the compositor records a warning and
// keeps going rather than aborting a long render over one frame.
type videoSource struct {
	path        string
	video       *vidio.Video
	frame       *image.RGBA
	frameIdx    int // index of the frame currently in the buffer, -1 before the first read
	seekTimeout time.Duration
	logger      hclog.Logger
}

func openVideoSource(path string, seekTimeout time.Duration, logger hclog.Logger) (*videoSource, error) {
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %s: %w", path, err)
	}

	src := &videoSource{
		path:        path,
		video:       video,
		frameIdx:    -1,
		seekTimeout: seekTimeout,
		logger:      logger,
	}
	if err := src.bindBuffer(); err != nil {
		video.Close()
		return nil, err
	}
	return src, nil
}

// bindBuffer points the decoder at an RGBA image so decoded frames land
// directly in a drawable surface.
func (s *videoSource) bindBuffer() error {
	s.frame = image.NewRGBA(image.Rect(0, 0, s.video.Width(), s.video.Height()))
	if err := s.video.SetFrameBuffer(s.frame.Pix); err != nil {
		return fmt.Errorf("failed to bind frame buffer for %s: %w", s.path, err)
	}
	return nil
}

// FrameAt positions the decoder at the media-local timestamp and returns
// the decoded frame. converged is false when the deadline expired and the
// nearest reached frame was used instead.
func (s *videoSource) FrameAt(target float64) (img image.Image, converged bool, err error) {
	fps := s.video.FPS()
	if fps <= 0 {
		fps = 30
	}
	targetIdx := int(target * fps)
	if max := s.video.Frames() - 1; targetIdx > max {
		targetIdx = max
	}
	if targetIdx < 0 {
		targetIdx = 0
	}

	// Backward seek: the decoder cannot rewind, reopen from the start.
	if targetIdx < s.frameIdx {
		if err := s.reopen(); err != nil {
			return nil, false, err
		}
	}

	deadline := time.Now().Add(s.seekTimeout)
	for s.frameIdx < targetIdx {
		if !s.video.Read() {
			// Source exhausted before the target: hold the last frame.
			if s.frameIdx < 0 {
				return nil, false, fmt.Errorf("video source %s produced no frames", s.path)
			}
			return s.frame, false, nil
		}
		s.frameIdx++

		if time.Now().After(deadline) && s.frameIdx < targetIdx {
			s.logger.Warn("seek did not converge within deadline, using nearest reached frame",
				"path", s.path,
				"target_frame", targetIdx,
				"reached_frame", s.frameIdx)
			return s.frame, false, nil
		}
	}

	return s.frame, true, nil
}

func (s *videoSource) reopen() error {
	s.video.Close()
	video, err := vidio.NewVideo(s.path)
	if err != nil {
		return fmt.Errorf("failed to reopen video source %s: %w", s.path, err)
	}
	s.video = video
	s.frameIdx = -1
	return s.bindBuffer()
}

// Close releases the decoder.
func (s *videoSource) Close() {
	if s.video != nil {
		s.video.Close()
	}
}
