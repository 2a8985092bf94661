package tasks

import "encoding/json"

// ---
// QUEUE DEFINITIONS
// ---
const (
	// QueueScript is the pipeline entry point: generate script and title.
	QueueScript = "q_script"

	// QueueVoiceover synthesizes the narration and its word timings.
	QueueVoiceover = "q_voiceover"

	// QueueScenes generates one image prompt per scene.
	QueueScenes = "q_scenes"

	// QueueSceneImage generates and stores the image of a single scene.
	QueueSceneImage = "q_scene_image"

	// QueueRender composites the final video.
	QueueRender = "q_render"
)

// All lists every pipeline queue in stage order.
var All = []string{QueueScript, QueueVoiceover, QueueScenes, QueueSceneImage, QueueRender}

// ---
// TASK PAYLOADS
// ---
// These are the structs that will be JSON-marshalled and sent to Redis.

// ScriptTaskPayload is the payload for QueueScript
type ScriptTaskPayload struct {
	VideoID string `json:"video_id"`
}

// VoiceoverTaskPayload is the payload for QueueVoiceover
type VoiceoverTaskPayload struct {
	VideoID string `json:"video_id"`
	Script  string `json:"script"`
}

// ScenesTaskPayload is the payload for QueueScenes
type ScenesTaskPayload struct {
	VideoID  string `json:"video_id"`
	Script   string `json:"script"`
	Theme    string `json:"theme"`
	ArtStyle string `json:"art_style"`
}

// SceneImageTaskPayload is the payload for QueueSceneImage
type SceneImageTaskPayload struct {
	VideoID     string `json:"video_id"`
	SceneID     string `json:"scene_id"`
	ImagePrompt string `json:"image_prompt"`
}

// RenderTaskPayload is the payload for QueueRender
type RenderTaskPayload struct {
	VideoID string `json:"video_id"`
}

// ---
// HELPER FUNCTIONS
// ---

// Marshal creates a JSON payload for a task.
func Marshal(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Envelope wraps a payload with its delivery bookkeeping while it sits in a
// queue.
type Envelope struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Attempt  int             `json:"attempt"`
	Payload  json.RawMessage `json:"payload"`
	LastErr  string          `json:"last_error,omitempty"`
	Enqueued int64           `json:"enqueued_at"`
}
