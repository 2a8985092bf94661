package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// MaxTitleWords caps the length of a generated title.
const MaxTitleWords = 10

// TitleResponse represents the JSON response from OpenAI
type TitleResponse struct {
	Title string `json:"title" jsonschema_description:"A short, catchy title for the video, fewer than 10 words, no punctuation"`
}

// titleResponseSchema is the cached schema
var titleResponseSchema = GenerateSchema[TitleResponse]()

// GenerateTitle calls OpenAI to generate a short title for a video theme.
func (g *Generator) GenerateTitle(ctx context.Context, theme string) (string, error) {
	prompt := fmt.Sprintf(`Generate a short, catchy title (less than 10 words, no punctuation) for a video about: %s.

Respond in JSON format with this structure:
{
  "title": "your generated title here"
}`, theme)

	rawResponse, err := g.getStructuredResponse(ctx, "video_title", prompt, titleResponseSchema)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	var titleResp TitleResponse
	if err := json.Unmarshal([]byte(rawResponse), &titleResp); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI JSON response: %w", err)
	}

	title := CleanTitle(titleResp.Title)
	if title == "" {
		return "", fmt.Errorf("OpenAI returned empty title")
	}
	return title, nil
}

// CleanTitle drops punctuation and keeps at most MaxTitleWords words.
func CleanTitle(title string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			return r
		}
		return -1
	}, title)

	words := strings.Fields(stripped)
	if len(words) > MaxTitleWords {
		words = words[:MaxTitleWords]
	}
	return strings.Join(words, " ")
}
