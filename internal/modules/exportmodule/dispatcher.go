package exportmodule

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
)

// stderrTailLines bounds how much encoder output is kept for diagnostics.
const stderrTailLines = 48

// Dispatcher invokes the external encoder. It is stateless across jobs;
// one session invokes it at most once.
type Dispatcher struct {
	logger     hclog.Logger
	ffmpegPath string
}

// NewDispatcher creates an encoding dispatcher
func NewDispatcher(logger hclog.Logger, ffmpegPath string) *Dispatcher {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Dispatcher{
		logger:     logger.Named("dispatcher"),
		ffmpegPath: ffmpegPath,
	}
}

// CheckAvailability verifies that the encoder binary exists and runs.
func (d *Dispatcher) CheckAvailability() error {
	out, err := exec.Command(d.ffmpegPath, "-version").Output()
	if err != nil {
		return experrors.New(experrors.ErrorTypeEncodeInvocation, "check availability",
			fmt.Errorf("%w: %s: %v", experrors.ErrEncoderUnavailable, d.ffmpegPath, err))
	}
	if !strings.Contains(string(out), "ffmpeg version") {
		return experrors.Newf(experrors.ErrorTypeEncodeInvocation, "check availability",
			"binary at %s is not ffmpeg", d.ffmpegPath)
	}
	return nil
}

// Encode runs the external encoder for the given job and returns the
// output file. onProgress, when non-nil, receives encoded output seconds
// as the encoder reports them.
func (d *Dispatcher) Encode(ctx context.Context, job *EncodingJob, onProgress func(seconds float64)) (*OutputFile, error) {
	if err := d.validateJob(job); err != nil {
		return nil, err
	}

	var args []string
	var err error
	switch job.Mode {
	case EncodingModeCopy:
		args, err = d.buildCopyArgs(job)
	case EncodingModeRender:
		args = d.buildRenderArgs(job)
	}
	if err != nil {
		return nil, err
	}

	d.logger.Info("starting encoder",
		"mode", job.Mode,
		"output", job.OutputPath,
		"duration", job.TotalDurationSeconds,
		"args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, experrors.New(experrors.ErrorTypeEncodeInvocation, "create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, experrors.New(experrors.ErrorTypeEncodeInvocation, "start encoder",
			fmt.Errorf("%w: %v", experrors.ErrEncoderUnavailable, err))
	}

	tail := d.monitorEncoder(stderr, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, experrors.New(experrors.ErrorTypeEncodeInvocation, "encode", experrors.ErrCancelled)
		}
		return nil, experrors.New(experrors.ErrorTypeEncodeInvocation, "encode", err).
			WithContext("stderr", strings.Join(tail, "\n"))
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return nil, experrors.New(experrors.ErrorTypeEncodeInvocation, "stat output",
			fmt.Errorf("encoder exited cleanly but produced no output: %w", err))
	}

	d.logger.Info("encoding complete", "output", job.OutputPath, "size", info.Size())

	return &OutputFile{
		Path:     job.OutputPath,
		Size:     info.Size(),
		Duration: job.TotalDurationSeconds,
	}, nil
}

// validateJob rejects misconfigured jobs before any process is spawned.
// Dispatching render mode without the plan's duration, or against an
// empty frame directory, is a programmer error and fails here with a
// named error instead of surfacing as encoder noise.
func (d *Dispatcher) validateJob(job *EncodingJob) error {
	if job.OutputPath == "" {
		return experrors.Newf(experrors.ErrorTypeConfiguration, "validate job", "no output path")
	}

	switch job.Mode {
	case EncodingModeCopy:
		if len(job.SourcePaths) == 0 {
			return experrors.New(experrors.ErrorTypeConfiguration, "validate job", experrors.ErrNoSources)
		}
		for _, src := range job.SourcePaths {
			if _, err := os.Stat(src); err != nil {
				return experrors.New(experrors.ErrorTypeConfiguration, "validate job",
					fmt.Errorf("source not accessible: %w", err))
			}
		}

	case EncodingModeRender:
		if job.TotalDurationSeconds <= 0 {
			return experrors.New(experrors.ErrorTypeConfiguration, "validate job", experrors.ErrMissingDuration)
		}
		if job.FPS <= 0 {
			return experrors.Newf(experrors.ErrorTypeConfiguration, "validate job", "fps must be positive, got %d", job.FPS)
		}
		if job.FrameDir == "" || job.FramePattern == "" {
			return experrors.Newf(experrors.ErrorTypeConfiguration, "validate job", "render mode without frame directory")
		}
		n, err := countFrameFiles(job.FrameDir)
		if err != nil {
			return experrors.New(experrors.ErrorTypeConfiguration, "validate job", err)
		}
		if n == 0 {
			return experrors.New(experrors.ErrorTypeConfiguration, "validate job", experrors.ErrNoFrames)
		}

	default:
		return experrors.Newf(experrors.ErrorTypeConfiguration, "validate job", "unknown encoding mode %q", job.Mode)
	}

	return nil
}

// buildCopyArgs builds a stream-copy invocation over the original source
// files. Multiple sources go through the concat demuxer; pixel data is
// never re-encoded.
func (d *Dispatcher) buildCopyArgs(job *EncodingJob) ([]string, error) {
	args := []string{"-y", "-hide_banner", "-nostats", "-progress", "pipe:2"}

	if len(job.SourcePaths) == 1 {
		args = append(args, "-i", job.SourcePaths[0])
	} else {
		listPath := filepath.Join(filepath.Dir(job.OutputPath), "concat.txt")
		var sb strings.Builder
		for _, src := range job.SourcePaths {
			// concat demuxer quoting: single quotes with '\'' escapes
			sb.WriteString("file '")
			sb.WriteString(strings.ReplaceAll(src, "'", `'\''`))
			sb.WriteString("'\n")
		}
		if err := os.WriteFile(listPath, []byte(sb.String()), 0644); err != nil {
			return nil, experrors.New(experrors.ErrorTypeEncodeInvocation, "write concat list", err)
		}
		args = append(args, "-f", "concat", "-safe", "0", "-i", listPath)
	}

	args = append(args, "-c", "copy", job.OutputPath)
	return args, nil
}

// buildRenderArgs builds the frame-sequence encode. fps and the plan's
// total duration are always passed explicitly; the encoder never falls
// back to a default duration.
func (d *Dispatcher) buildRenderArgs(job *EncodingJob) []string {
	args := []string{"-y", "-hide_banner", "-nostats", "-progress", "pipe:2"}

	// Input 0: the frame sequence
	args = append(args,
		"-framerate", strconv.Itoa(job.FPS),
		"-i", filepath.Join(job.FrameDir, job.FramePattern),
	)

	// Inputs 1..n: audio tracks, trimmed at the input stage
	for _, track := range job.AudioTracks {
		if track.TrimStart > 0 {
			args = append(args, "-ss", formatSeconds(track.TrimStart))
		}
		args = append(args, "-t", formatSeconds(track.Duration), "-i", track.Path)
	}

	// Audio mix: delay each track to its timeline offset, then mix.
	if len(job.AudioTracks) > 0 {
		var filter strings.Builder
		var labels []string
		for i, track := range job.AudioTracks {
			delayMs := int(track.Offset * 1000)
			label := fmt.Sprintf("a%d", i)
			fmt.Fprintf(&filter, "[%d:a]adelay=%d:all=1[%s];", i+1, delayMs, label)
			labels = append(labels, "["+label+"]")
		}
		fmt.Fprintf(&filter, "%samix=inputs=%d:duration=longest:normalize=0[aout]",
			strings.Join(labels, ""), len(job.AudioTracks))
		args = append(args,
			"-filter_complex", filter.String(),
			"-map", "0:v", "-map", "[aout]",
			"-c:a", "aac", "-b:a", "192k",
		)
	} else {
		args = append(args, "-map", "0:v")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(job.FPS),
		"-t", formatSeconds(job.TotalDurationSeconds),
		job.OutputPath,
	)
	return args
}

// monitorEncoder consumes encoder stderr, forwarding -progress key=value
// updates and keeping a bounded tail for diagnostics. Returns after the
// stream closes.
func (d *Dispatcher) monitorEncoder(stderr io.Reader, onProgress func(float64)) []string {
	progressRegex := regexp.MustCompile(`^(\w+)=\s*(\S+)`)
	var tail []string

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}

		m := progressRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] == "out_time_us" && onProgress != nil {
			if us, err := strconv.ParseInt(m[2], 10, 64); err == nil {
				onProgress(float64(us) / 1e6)
			}
		}
	}
	return tail
}

// countFrameFiles counts regular files in the frame directory.
func countFrameFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read frame directory: %w", err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			n++
		}
	}
	return n, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}
