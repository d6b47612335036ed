package exportmodule

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetByName(t *testing.T) {
	p, ok := PresetByName("youtube-1080p")
	require.True(t, ok)
	assert.Equal(t, 1920, p.Width)
	assert.Equal(t, 1080, p.Height)
	assert.Equal(t, 30, p.FPS)

	_, ok = PresetByName("laserdisc")
	assert.False(t, ok)
}

func TestPresetsSortedAndValid(t *testing.T) {
	presets := Presets()
	require.NotEmpty(t, presets)

	assert.True(t, sort.SliceIsSorted(presets, func(i, j int) bool {
		return presets[i].Name < presets[j].Name
	}))
	for _, p := range presets {
		assert.NotEmpty(t, p.Name)
		assert.Positive(t, p.Width, p.Name)
		assert.Positive(t, p.Height, p.Name)
		assert.Positive(t, p.FPS, p.Name)
	}
}
