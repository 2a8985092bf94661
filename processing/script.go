package processing

import (
	"context"
	"fmt"
	"strings"
)

// GenerateScript writes a short one-paragraph narration for a theme.
func (g *Generator) GenerateScript(ctx context.Context, theme string) (string, error) {
	prompt := fmt.Sprintf(`Write a compelling 1 paragraph script for a short video about: %s. Make it engaging, clear, and suitable for a short-form video format. The script should be in paragraph format and should not have any voice changes or other formatting. Be slightly poetic in a way that the listener can appreciate a conclusive story or theme by the end of the script.
The script should be approximately 50 words long.

IMPORTANT STYLE RULES:
- Use simple, direct language. Avoid dashes, em-dashes, or compound words with hyphens.
- Write in short, clear sentences. Avoid complex nested phrases.
- No parenthetical asides or interjections with dashes.
- Keep the flow natural and conversational, not overly literary or academic.
- Use straightforward sentence structure without excessive punctuation.`, theme)

	script, err := g.getTextResponse(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	return script, nil
}

// GenerateTopic picks one specific sub-topic for a series' broad theme.
func (g *Generator) GenerateTopic(ctx context.Context, theme string) (string, error) {
	prompt := fmt.Sprintf(`You are an assistant for a video generation app.
A user has a video Series with the main theme: "%s".
Generate one new, specific, and interesting sub-topic for a 1-minute video about this theme.

For example, if the theme is 'Ancient Rome', a good sub-topic is 'The invention of Roman concrete' or 'The life of a Legionary'.
If the theme is 'Psychology Facts', a good sub-topic is 'The Dunning-Kruger Effect' or 'What is Cognitive Dissonance'.

Return ONLY the new sub-topic text, nothing else.`, theme)

	topic, err := g.getTextResponse(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate topic: %w", err)
	}
	topic = strings.Trim(strings.TrimSpace(topic), `"'`)
	if topic == "" {
		return "", fmt.Errorf("OpenAI returned empty topic")
	}
	return topic, nil
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
