package exportmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(hclog.NewNullLogger(), "ffmpeg")
}

func makeFrameDir(t *testing.T, count int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame-%04d.png", i))
		require.NoError(t, os.WriteFile(path, []byte("frame"), 0644))
	}
	return dir
}

func TestValidateJobCopyWithoutSources(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{Mode: EncodingModeCopy, OutputPath: "/tmp/out.mp4"}

	err := d.validateJob(job)
	require.Error(t, err)
	assert.ErrorIs(t, err, experrors.ErrNoSources)
}

func TestValidateJobCopyMissingSource(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:        EncodingModeCopy,
		SourcePaths: []string{filepath.Join(t.TempDir(), "missing.mp4")},
		OutputPath:  "/tmp/out.mp4",
	}

	err := d.validateJob(job)
	require.Error(t, err)

	var ee *experrors.ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, experrors.ErrorTypeConfiguration, ee.Type)
}

func TestValidateJobRenderWithoutDuration(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:         EncodingModeRender,
		FrameDir:     makeFrameDir(t, 3),
		FramePattern: "frame-%04d.png",
		FPS:          30,
		OutputPath:   "/tmp/out.mp4",
	}

	err := d.validateJob(job)
	require.Error(t, err)
	assert.ErrorIs(t, err, experrors.ErrMissingDuration)
}

func TestValidateJobRenderEmptyFrameDir(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:                 EncodingModeRender,
		FrameDir:             t.TempDir(),
		FramePattern:         "frame-%04d.png",
		FPS:                  30,
		TotalDurationSeconds: 2,
		OutputPath:           "/tmp/out.mp4",
	}

	err := d.validateJob(job)
	require.Error(t, err)
	assert.ErrorIs(t, err, experrors.ErrNoFrames)
}

func TestValidateJobRenderAccepts(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:                 EncodingModeRender,
		FrameDir:             makeFrameDir(t, 3),
		FramePattern:         "frame-%04d.png",
		FPS:                  30,
		TotalDurationSeconds: 0.1,
		OutputPath:           "/tmp/out.mp4",
	}

	assert.NoError(t, d.validateJob(job))
}

func TestValidateJobUnknownMode(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{Mode: "transmute", OutputPath: "/tmp/out.mp4"}
	assert.Error(t, d.validateJob(job))
}

func TestBuildCopyArgsSingleSource(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:        EncodingModeCopy,
		SourcePaths: []string{"/media/a.mp4"},
		OutputPath:  "/tmp/out.mp4",
	}

	args, err := d.buildCopyArgs(job)
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i /media/a.mp4")
	assert.Contains(t, joined, "-c copy")
	assert.NotContains(t, joined, "concat")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestBuildCopyArgsConcatList(t *testing.T) {
	d := testDispatcher()
	outDir := t.TempDir()
	job := &EncodingJob{
		Mode:        EncodingModeCopy,
		SourcePaths: []string{"/media/a.mp4", "/media/it's.mp4"},
		OutputPath:  filepath.Join(outDir, "out.mp4"),
	}

	args, err := d.buildCopyArgs(job)
	require.NoError(t, err)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f concat")
	assert.Contains(t, joined, "-safe 0")
	assert.Contains(t, joined, "-c copy")

	list, err := os.ReadFile(filepath.Join(outDir, "concat.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(list), "file '/media/a.mp4'")
	// single quotes in paths survive the demuxer quoting
	assert.Contains(t, string(list), `file '/media/it'\''s.mp4'`)
}

func TestBuildRenderArgsCarriesDurationAndFPS(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:                 EncodingModeRender,
		FrameDir:             "/work/frames",
		FramePattern:         "frame-%04d.png",
		FPS:                  30,
		TotalDurationSeconds: 6.04167,
		OutputPath:           "/work/out/output.mp4",
	}

	args := d.buildRenderArgs(job)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-framerate 30")
	assert.Contains(t, joined, "-i /work/frames/frame-%04d.png")
	assert.Contains(t, joined, "-r 30")
	assert.Contains(t, joined, "-t 6.041670")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-pix_fmt yuv420p")
	assert.Contains(t, joined, "-map 0:v")
	assert.NotContains(t, joined, "amix")
}

func TestBuildRenderArgsMixesAudioTracks(t *testing.T) {
	d := testDispatcher()
	job := &EncodingJob{
		Mode:                 EncodingModeRender,
		FrameDir:             "/work/frames",
		FramePattern:         "frame-%04d.png",
		FPS:                  24,
		TotalDurationSeconds: 10,
		OutputPath:           "/work/out/output.mp4",
		AudioTracks: []AudioTrack{
			{Path: "/media/song.mp3", Offset: 2.5, Duration: 5},
			{Path: "/media/voice.wav", Offset: 0, TrimStart: 1, Duration: 3},
		},
	}

	args := d.buildRenderArgs(job)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /media/song.mp3")
	assert.Contains(t, joined, "-i /media/voice.wav")
	assert.Contains(t, joined, "-ss 1.000000")
	assert.Contains(t, joined, "adelay=2500:all=1")
	assert.Contains(t, joined, "amix=inputs=2:duration=longest:normalize=0[aout]")
	assert.Contains(t, joined, "-map [aout]")
	assert.Contains(t, joined, "-c:a aac")
}

func TestMonitorEncoderParsesProgress(t *testing.T) {
	d := testDispatcher()
	stderr := strings.NewReader(strings.Join([]string{
		"frame=  120 fps= 30",
		"out_time_us=2000000",
		"speed=1.5x",
		"out_time_us=4500000",
		"progress=end",
	}, "\n"))

	var seen []float64
	tail := d.monitorEncoder(stderr, func(seconds float64) {
		seen = append(seen, seconds)
	})

	assert.Equal(t, []float64{2.0, 4.5}, seen)
	assert.Len(t, tail, 5)
}

func TestMonitorEncoderBoundsTail(t *testing.T) {
	d := testDispatcher()
	var lines []string
	for i := 0; i < stderrTailLines*3; i++ {
		lines = append(lines, "noise line")
	}
	tail := d.monitorEncoder(strings.NewReader(strings.Join(lines, "\n")), nil)
	assert.Len(t, tail, stderrTailLines)
}
