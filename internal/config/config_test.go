package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30, cfg.Export.FPS)
	assert.Equal(t, 1920, cfg.Export.Width)
	assert.Equal(t, 1080, cfg.Export.Height)
	assert.Equal(t, "png", cfg.Export.FrameFormat)
	assert.Equal(t, "ffmpeg", cfg.Export.FFmpegPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Export.SeekTimeout)
	assert.False(t, cfg.Export.RetainFramesOnFailure)
	assert.NotEmpty(t, cfg.Export.TmpRoot)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Export.FPS, cfg.Export.FPS)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exportra.yaml")
	data := []byte(`
server:
  port: 9100
export:
  fps: 60
  frame_format: webp
  retain_frames_on_failure: true
  seek_timeout: 250ms
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Export.FPS)
	assert.Equal(t, "webp", cfg.Export.FrameFormat)
	assert.True(t, cfg.Export.RetainFramesOnFailure)
	assert.Equal(t, 250*time.Millisecond, cfg.Export.SeekTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset fields keep defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exportra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("export:\n  fps: 60\n"), 0644))

	t.Setenv("EXPORTRA_FPS", "24")
	t.Setenv("EXPORTRA_FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("EXPORTRA_RETAIN_FRAMES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Export.FPS)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Export.FFmpegPath)
	assert.True(t, cfg.Export.RetainFramesOnFailure)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exportra.yaml")

	require.NoError(t, os.WriteFile(path, []byte("export:\n  fps: 0\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("export:\n  frame_format: tiff\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
