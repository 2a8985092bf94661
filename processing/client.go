package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// Generator produces every piece of text the pipeline needs from OpenAI.
type Generator struct {
	client openai.Client
	model  openai.ChatModel
	log    *zap.Logger
}

// NewGenerator builds a Generator. Extra request options (base URL, retries)
// are passed through to the OpenAI client.
func NewGenerator(apiKey, model string, log *zap.Logger, opts ...option.RequestOption) *Generator {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Generator{
		client: openai.NewClient(opts...),
		model:  openai.ChatModel(model),
		log:    log.Named("processing"),
	}
}

// GenerateSchema generates a JSON schema for structured outputs
func GenerateSchema[T any]() interface{} {
	// Structured Outputs uses a subset of JSON schema
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// getStructuredResponse calls the chat API with JSON schema enforcement and
// returns the raw JSON content.
func (g *Generator) getStructuredResponse(ctx context.Context, name, prompt string, schema interface{}) (string, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String("Structured data response"),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	chatCompletion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: g.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	raw, err := firstContent(chatCompletion)
	if err != nil {
		return "", err
	}
	g.log.Debug("OpenAI structured response", zap.String("schema", name), zap.String("content", raw))
	return raw, nil
}

// getTextResponse calls the chat API for free-form text.
func (g *Generator) getTextResponse(ctx context.Context, prompt string) (string, error) {
	chatCompletion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: g.model,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	return firstContent(chatCompletion)
}

func firstContent(chatCompletion *openai.ChatCompletion) (string, error) {
	if len(chatCompletion.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	raw := strings.TrimSpace(chatCompletion.Choices[0].Message.Content)
	if raw == "" {
		return "", fmt.Errorf("OpenAI returned empty response. Finish reason: %s", chatCompletion.Choices[0].FinishReason)
	}
	return raw, nil
}

// stripCodeFences removes a surrounding ``` or ```json fence.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		text = text[4:]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func decodeJSON(text string, v interface{}) error {
	return json.Unmarshal([]byte(stripCodeFences(text)), v)
}
