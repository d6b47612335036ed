package exportmodule

import (
	"sort"
)

// OutputPreset is a named output canvas configuration for common
// publishing targets. A preset overrides both the configured defaults and
// the snapshot's canvas size.
type OutputPreset struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

var outputPresets = map[string]OutputPreset{
	"youtube-1080p":   {Name: "youtube-1080p", Width: 1920, Height: 1080, FPS: 30},
	"youtube-4k":      {Name: "youtube-4k", Width: 3840, Height: 2160, FPS: 30},
	"youtube-shorts":  {Name: "youtube-shorts", Width: 1080, Height: 1920, FPS: 30},
	"instagram-feed":  {Name: "instagram-feed", Width: 1080, Height: 1080, FPS: 30},
	"instagram-story": {Name: "instagram-story", Width: 1080, Height: 1920, FPS: 30},
	"tiktok":          {Name: "tiktok", Width: 1080, Height: 1920, FPS: 30},
	"twitter":         {Name: "twitter", Width: 1280, Height: 720, FPS: 30},
}

// PresetByName looks up a named output preset.
func PresetByName(name string) (OutputPreset, bool) {
	p, ok := outputPresets[name]
	return p, ok
}

// Presets returns all output presets sorted by name.
func Presets() []OutputPreset {
	out := make([]OutputPreset, 0, len(outputPresets))
	for _, p := range outputPresets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
