package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/drewmudry/instashorts-pipeline/captions"
)

// EmojiWord attaches an emoji to the word at Index.
type EmojiWord struct {
	Index int    `json:"index" jsonschema_description:"Zero-based index of the word in the list"`
	Word  string `json:"word" jsonschema_description:"The word itself"`
	Emoji string `json:"emoji" jsonschema_description:"A single emoji for the word"`
}

// EmojiResponse is the structured output for emoji enrichment.
type EmojiResponse struct {
	EmojiWords []EmojiWord `json:"emojiWords" jsonschema_description:"8 to 12 key words with an emoji each"`
}

var emojiResponseSchema = GenerateSchema[EmojiResponse]()

// AddEmojis asks for 8-12 salient words to decorate with an emoji. On any
// failure the original words are returned alongside the error so callers can
// carry on without enrichment.
func (g *Generator) AddEmojis(ctx context.Context, words []captions.Word, script, theme string) ([]captions.Word, error) {
	if len(words) == 0 {
		return words, nil
	}

	var list strings.Builder
	for i, w := range words {
		fmt.Fprintf(&list, "%d: %q (%.2fs - %.2fs)\n", i, w.Word, w.Start, w.End)
	}

	prompt := fmt.Sprintf(`Given this video script and list of words, identify 8-12 key words that would benefit from an emoji visualization. Choose words that are:

1. Nouns, verbs, or important concepts
2. Would have a clear, relevant emoji
3. Spread throughout the script (not all clustered together)
4. Enhance understanding and engagement

Script: %s
Theme: %s

Words with timing:

%s
Respond in JSON format with this structure:
{
  "emojiWords": [
    {"index": 5, "word": "Caesar", "emoji": "👑"}
  ]
}

Choose emojis that are culturally universal, relevant to the word meaning, visually distinct from each other and a single emoji each.`,
		script, theme, list.String())

	rawResponse, err := g.getStructuredResponse(ctx, "emoji_words", prompt, emojiResponseSchema)
	if err != nil {
		return words, fmt.Errorf("add emojis: %w", err)
	}
	return ApplyEmojis(words, rawResponse)
}

// ApplyEmojis decodes an emoji enrichment response and returns a copy of
// words with emojis attached. Out of range indexes are ignored. On a decode
// error the input words are returned unchanged.
func ApplyEmojis(words []captions.Word, text string) ([]captions.Word, error) {
	var resp EmojiResponse
	if err := decodeJSON(text, &resp); err != nil {
		return words, fmt.Errorf("parse emoji response: %w", err)
	}

	out := make([]captions.Word, len(words))
	copy(out, words)
	for _, ew := range resp.EmojiWords {
		if ew.Index < 0 || ew.Index >= len(out) || ew.Emoji == "" {
			continue
		}
		out[ew.Index].Emoji = ew.Emoji
	}
	return out, nil
}
