// Package actions implements the Action Agent (C4): turns either a scene
// array (preferred) or a raw screenshot batch (legacy fallback) into
// persisted Action rows. Grounded on
// original_source/backend/agents/action_agent.py's ActionAgent, which
// exposes the same two entry points (extract_and_save_actions_from_scenes,
// extract_and_save_actions) sharing the resolve-hashes/calculate-timestamp
// logic this package generalizes into a single code path parameterized by
// an Input sum type.
package actions

import (
	"time"

	"rewind/internal/perception"
	"rewind/internal/scenes"
)

// Input is the sum type spec.md §4.4 describes: exactly one of FromScenes
// or FromScreenshots is populated, selecting the scene-based (preferred) or
// image-based (legacy) extraction path.
type Input struct {
	scenes      []scenes.Scene
	screenshots []perception.RawRecord
}

// FromScenes builds an Input for the preferred, scene-based path.
func FromScenes(s []scenes.Scene) Input {
	return Input{scenes: s}
}

// FromScreenshots builds an Input for the legacy image-based path. Only
// KindScreenshot records should be passed; any other kind is ignored by the
// extractor. The filter runs once here rather than per-index lookup.
func FromScreenshots(records []perception.RawRecord) Input {
	out := make([]perception.RawRecord, 0, len(records))
	for _, r := range records {
		if r.Kind == perception.KindScreenshot {
			out = append(out, r)
		}
	}
	return Input{screenshots: out}
}

// IsSceneBased reports which arm of the sum type is populated.
func (in Input) IsSceneBased() bool { return in.scenes != nil }

func (in Input) sceneCount() int {
	return len(in.scenes)
}

// referenceTimestamp returns the timestamp of the i-th element along
// whichever arm of the sum type is populated.
func (in Input) referenceTimestamp(i int) time.Time {
	if in.IsSceneBased() {
		return in.scenes[i].Timestamp
	}
	return in.screenshots[i].Timestamp
}

func (in Input) referenceHash(i int) string {
	if in.IsSceneBased() {
		return in.scenes[i].ScreenshotHash
	}
	return in.screenshots[i].Hash
}

// earliestOverall returns the earliest timestamp across every element
// along whichever arm is populated, used as the first timestamp fallback.
func (in Input) earliestOverall() (time.Time, bool) {
	n := in.length()
	if n == 0 {
		return time.Time{}, false
	}
	earliest := in.referenceTimestamp(0)
	for i := 1; i < n; i++ {
		if t := in.referenceTimestamp(i); t.Before(earliest) {
			earliest = t
		}
	}
	return earliest, true
}

func (in Input) length() int {
	if in.IsSceneBased() {
		return len(in.scenes)
	}
	return len(in.screenshots)
}
