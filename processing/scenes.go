package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSceneParse is returned when scene generation output is malformed or has
// the wrong number of scenes.
var ErrSceneParse = errors.New("scene output could not be parsed")

const (
	// ShortScriptWords is the word count below which a script gets
	// ShortScriptScenes scenes instead of LongScriptScenes.
	ShortScriptWords  = 100
	ShortScriptScenes = 3
	LongScriptScenes  = 10
)

// SceneCount derives the number of scenes from a script's word count.
func SceneCount(script string) int {
	if WordCount(script) < ShortScriptWords {
		return ShortScriptScenes
	}
	return LongScriptScenes
}

var artStylePrompts = map[string]string{
	"collage":         "collage style, layered mixed-media aesthetic, paper cutouts, textured elements, artistic composition",
	"cinematic":       "cinematic style, film-like quality, dramatic lighting, cinematic composition, movie aesthetic",
	"digital-art":     "modern digital art style, digital illustration, vibrant colors, contemporary art",
	"neon-futuristic": "neon futuristic style, cyberpunk aesthetic, neon lights, futuristic urban environment, vibrant neon colors",
	"comic-book":      "comic book style, bold lines, vibrant colors, stylized illustration, comic art aesthetic",
	"playground":      "playground style, bright and playful cartoon aesthetic, cheerful colors, fun and energetic",
	"4k-realistic":    "ultra-realistic 4K style, photorealistic, high detail, professional photography quality",
	"cartoon":         "cartoon style, classic animation, expressive characters, vibrant colors, animated aesthetic",
	"kawaii":          "kawaii style, cute Japanese aesthetic, pastel colors, adorable characters, soft and sweet",
	"anime":           "anime style, Japanese animation aesthetic, expressive eyes, vibrant colors, anime art",
	"line-art":        "line art style, minimalist black and white line drawings, clean lines, simple elegant",
	"japanese-ink":    "Japanese ink painting style, sumi-e aesthetic, black and red ink, traditional Japanese art",
}

// DefaultArtStyle is used for unknown or empty art style ids.
const DefaultArtStyle = "consistent art style"

// ArtStylePrompt maps an art style id to its prompt fragment.
func ArtStylePrompt(id string) string {
	if p, ok := artStylePrompts[id]; ok {
		return p
	}
	return DefaultArtStyle
}

// KnownArtStyle reports whether id has a dedicated prompt fragment.
func KnownArtStyle(id string) bool {
	_, ok := artStylePrompts[id]
	return ok
}

// ScenePrompt is one generated scene.
type ScenePrompt struct {
	SceneIndex  int    `json:"sceneIndex" jsonschema_description:"Zero-based position of the scene in the video"`
	ImagePrompt string `json:"image_prompt" jsonschema_description:"A detailed image generation prompt for this scene"`
}

// SceneList is the structured output for scene generation.
type SceneList struct {
	Scenes []ScenePrompt `json:"scenes" jsonschema_description:"The scenes of the video in order"`
}

var sceneListSchema = GenerateSchema[SceneList]()

// GenerateScenePrompts asks for exactly count image prompts in the given art
// style. Output that cannot be parsed or has the wrong count wraps
// ErrSceneParse.
func (g *Generator) GenerateScenePrompts(ctx context.Context, script, theme, artStyle string, count int) ([]ScenePrompt, error) {
	style := ArtStylePrompt(artStyle)

	prompt := fmt.Sprintf(`Based on this video script and theme, generate %d detailed scenes for a short vertical video.

Script: %s
Theme: %s
Art Style: %s

For each scene, create a detailed image prompt that includes:
- The specified art style: %s
- Color theme and vibe matching the art style
- Camera/animation style
- What's happening in the scene
- Who is doing what (if applicable)
- Background and foreground details
- Overall atmosphere and mood

IMPORTANT: All scenes must consistently use the %s art style throughout.

Respond in JSON format with this structure:
{
  "scenes": [
    {"sceneIndex": 0, "image_prompt": "detailed description here"},
    {"sceneIndex": 1, "image_prompt": "detailed description here"}
  ]
}
The "scenes" array must contain exactly %d items.`,
		count, script, theme, style, style, style, count)

	rawResponse, err := g.getStructuredResponse(ctx, "video_scenes", prompt, sceneListSchema)
	if err != nil {
		return nil, fmt.Errorf("generate scenes: %w", err)
	}
	return ParseScenes(rawResponse, count)
}

// ParseScenes decodes scene generation output, either a {"scenes": [...]}
// object or a bare array, optionally inside a code fence. Scene indexes are
// reassigned to array positions.
func ParseScenes(text string, count int) ([]ScenePrompt, error) {
	body := stripCodeFences(text)

	var scenes []ScenePrompt
	if strings.HasPrefix(body, "[") {
		if err := decodeJSON(body, &scenes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSceneParse, err)
		}
	} else {
		var list SceneList
		if err := decodeJSON(body, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSceneParse, err)
		}
		scenes = list.Scenes
	}

	if len(scenes) != count {
		return nil, fmt.Errorf("%w: expected %d scenes, got %d", ErrSceneParse, count, len(scenes))
	}
	for i := range scenes {
		scenes[i].SceneIndex = i
		scenes[i].ImagePrompt = strings.TrimSpace(scenes[i].ImagePrompt)
		if scenes[i].ImagePrompt == "" {
			return nil, fmt.Errorf("%w: scene %d has an empty prompt", ErrSceneParse, i)
		}
	}
	return scenes, nil
}
