package exportmodule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mantonx/exportra/internal/timeline"
	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
)

// minTotalDuration is the floor applied to the resolved export duration.
// An effectively empty timeline still produces a single frame rather than
// a zero-length encode the encoder would reject.
const minTotalDuration = 1.0 / 120.0

// ResolvePlan inspects the snapshot and produces the export plan. It is a
// pure function over the snapshot: no I/O beyond reading media descriptor
// flags, and re-running it on an unchanged snapshot yields an identical
// plan. Semantic anomalies degrade to the rendering path; only
// structurally invalid snapshots return an error.
func ResolvePlan(snapshot *timeline.Snapshot) (*ExportPlan, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, experrors.New(experrors.ErrorTypeAnalysis, "resolve plan", err)
	}

	plan := &ExportPlan{AllVideosHaveLocalPath: true}

	type videoSpan struct {
		start, end float64
		path       string
	}
	var videos []videoSpan

	for _, placed := range snapshot.VisualElements() {
		el := placed.Element
		if el.EffectiveDuration() <= 0 {
			continue
		}
		plan.HasVisualContent = true
		if len(el.Effects) > 0 {
			plan.HasEffects = true
		}

		switch el.Kind {
		case timeline.ElementKindVideo:
			plan.VideoElementCount++
			media, ok := snapshot.MediaFor(el)
			if !ok || !media.HasLocalPath() {
				plan.AllVideosHaveLocalPath = false
				videos = append(videos, videoSpan{start: el.StartTime, end: el.EndTime()})
			} else {
				videos = append(videos, videoSpan{start: el.StartTime, end: el.EndTime(), path: media.LocalPath})
			}
		case timeline.ElementKindImage:
			plan.HasImageElements = true
		case timeline.ElementKindText:
			plan.HasTextElements = true
		case timeline.ElementKindSticker:
			plan.HasStickerElements = true
		default:
			// Unknown visual kinds force rendering rather than being
			// silently ignored.
			plan.HasImageElements = true
		}
	}

	// Overlap among video elements across tracks. Within one track the
	// snapshot invariant already forbids overlap.
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].start == videos[j].start {
			return videos[i].end < videos[j].end
		}
		return videos[i].start < videos[j].start
	})
	for i := 1; i < len(videos); i++ {
		if videos[i].start < videos[i-1].end {
			plan.HasOverlappingVideos = true
			break
		}
	}

	plan.CanUseDirectCopy = plan.VideoElementCount >= 1 &&
		!plan.HasOverlappingVideos &&
		!plan.HasImageElements &&
		!plan.HasTextElements &&
		!plan.HasStickerElements &&
		!plan.HasEffects &&
		plan.AllVideosHaveLocalPath

	if plan.CanUseDirectCopy {
		for _, v := range videos {
			plan.SourcePaths = append(plan.SourcePaths, v.path)
		}
	}

	plan.TotalDurationSeconds = resolveTotalDuration(snapshot)
	plan.AudioTracks = resolveAudioTracks(snapshot)
	plan.Reason = buildReason(plan)

	return plan, nil
}

// resolveTotalDuration computes the authoritative export duration: the
// latest end time over every element, visual or audio, floored to a
// positive minimum.
func resolveTotalDuration(snapshot *timeline.Snapshot) float64 {
	total := 0.0
	for ti := range snapshot.Tracks {
		for ei := range snapshot.Tracks[ti].Elements {
			if end := snapshot.Tracks[ti].Elements[ei].EndTime(); end > total {
				total = end
			}
		}
	}
	if total < minTotalDuration {
		total = minTotalDuration
	}
	return total
}

// resolveAudioTracks collects every audio contribution with a resolvable
// local file. Audio without a local path is skipped; the export still
// succeeds with the remaining tracks.
func resolveAudioTracks(snapshot *timeline.Snapshot) []AudioTrack {
	var tracks []AudioTrack
	for _, placed := range snapshot.AudioElements() {
		el := placed.Element
		if el.EffectiveDuration() <= 0 {
			continue
		}
		media, ok := snapshot.MediaFor(el)
		if !ok || !media.HasLocalPath() {
			continue
		}
		tracks = append(tracks, AudioTrack{
			Path:      media.LocalPath,
			Offset:    el.StartTime,
			TrimStart: el.TrimStart,
			Duration:  el.EffectiveDuration(),
		})
	}
	return tracks
}

func buildReason(plan *ExportPlan) string {
	if plan.CanUseDirectCopy {
		return fmt.Sprintf("stream copy: %d non-overlapping video clip(s), no overlays, all sources local", plan.VideoElementCount)
	}
	if !plan.HasVisualContent {
		return "no visual content"
	}

	var reasons []string
	if plan.VideoElementCount == 0 {
		reasons = append(reasons, "no video elements")
	}
	if plan.HasOverlappingVideos {
		reasons = append(reasons, "overlapping video elements")
	}
	if plan.HasImageElements {
		reasons = append(reasons, "image elements present")
	}
	if plan.HasTextElements {
		reasons = append(reasons, "text elements present")
	}
	if plan.HasStickerElements {
		reasons = append(reasons, "sticker elements present")
	}
	if plan.HasEffects {
		reasons = append(reasons, "effects present")
	}
	if !plan.AllVideosHaveLocalPath {
		reasons = append(reasons, "video media without local file")
	}
	return "frame rendering required: " + strings.Join(reasons, ", ")
}
