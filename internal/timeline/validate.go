package timeline

import (
	"fmt"
)

// Validate checks the snapshot for structural problems that make any
// export impossible. Semantic anomalies (a media id with no local path,
// an element kind the planner does not recognize) are NOT errors here;
// the planner degrades to the rendering path for those. Validate only
// rejects input the pipeline cannot reason about at all.
func (s *Snapshot) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("snapshot: canvas size %dx%d is not positive", s.Width, s.Height)
	}

	for ti := range s.Tracks {
		track := &s.Tracks[ti]
		if track.ID == "" {
			return fmt.Errorf("snapshot: track %d has no id", ti)
		}
		for ei := range track.Elements {
			el := &track.Elements[ei]
			if el.ID == "" {
				return fmt.Errorf("snapshot: track %s element %d has no id", track.ID, ei)
			}
			if el.StartTime < 0 {
				return fmt.Errorf("snapshot: element %s has negative start time %f", el.ID, el.StartTime)
			}
			if el.Duration < 0 || el.TrimStart < 0 || el.TrimEnd < 0 {
				return fmt.Errorf("snapshot: element %s has negative duration or trim", el.ID)
			}
			if mediaKind(el.Kind) {
				if el.MediaID == "" {
					return fmt.Errorf("snapshot: element %s (%s) references no media", el.ID, el.Kind)
				}
				if _, ok := s.Media[el.MediaID]; !ok {
					return fmt.Errorf("snapshot: element %s references unknown media %q", el.ID, el.MediaID)
				}
			}
			if el.Kind == ElementKindText && (el.Text == nil || el.Text.Content == "") {
				return fmt.Errorf("snapshot: text element %s has no content", el.ID)
			}
		}

		// Elements within one track must not overlap after trimming.
		// Cross-track overlap is legal and simply forces rendering.
		for ei := 1; ei < len(track.Elements); ei++ {
			prev := &track.Elements[ei-1]
			cur := &track.Elements[ei]
			if cur.StartTime < prev.EndTime() && prev.EffectiveDuration() > 0 && cur.EffectiveDuration() > 0 {
				return fmt.Errorf("snapshot: elements %s and %s overlap on track %s", prev.ID, cur.ID, track.ID)
			}
		}
	}

	return nil
}

func mediaKind(k ElementKind) bool {
	switch k {
	case ElementKindVideo, ElementKindAudio, ElementKindImage, ElementKindSticker:
		return true
	}
	return false
}
