// Package scenes implements the Raw→Scene Agent (C3): one multimodal LLM
// call that turns a batch of buffered screenshots into structured scene
// descriptions. Grounded on original_source/backend/agents/raw_agent.py's
// RawAgent, generalized from Python dicts to typed Go values.
//
// Scenes are never persisted (spec.md §4.3) — Extract returns them directly
// to the caller (C4/C7/C8), which consume the text fields without ever
// sending the underlying image bytes to the LLM a second time.
package scenes

import "time"

// Scene is an in-memory structured description of a single screenshot
// (spec.md §2.2). It is never written to a database row.
type Scene struct {
	ScreenshotIndex    int       `json:"screenshot_index"`
	ScreenshotHash     string    `json:"screenshot_hash"`
	Timestamp          time.Time `json:"timestamp"`
	VisualSummary      string    `json:"visual_summary"`
	DetectedText       string    `json:"detected_text"`
	UIElements         string    `json:"ui_elements"`
	ApplicationContext string    `json:"application_context"`
	InferredActivity   string    `json:"inferred_activity"`
	FocusAreas         string    `json:"focus_areas"`
}

// rawScene is the shape the LLM is asked to return for each array element;
// ScreenshotIndex is the only field the model supplies that Extract
// validates before trusting the rest.
type rawScene struct {
	ScreenshotIndex    int    `json:"screenshot_index"`
	VisualSummary      string `json:"visual_summary"`
	DetectedText       string `json:"detected_text"`
	UIElements         string `json:"ui_elements"`
	ApplicationContext string `json:"application_context"`
	InferredActivity   string `json:"inferred_activity"`
	FocusAreas         string `json:"focus_areas"`
}

// sceneResponse is the strict JSON schema requested from the LLM
// (spec.md §4.3 step 3).
type sceneResponse struct {
	Scenes []rawScene `json:"scenes"`
}
