// Package ai fronts the hosted text-generation API for the two operations
// the app needs: free-text expense parsing and spending insights. Both
// responses are schema-constrained JSON that is still validated defensively,
// never trusted blindly.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Generator is the single capability this package needs from the model
// provider: one prompt plus a target JSON schema in, raw text out. The
// concrete Gemini client satisfies it; tests inject doubles.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// GeminiGenerator is the genai-backed Generator.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator builds a Gemini client for the given API key. An empty
// model selects DefaultModelName.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiGenerator: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// disabledGenerator always fails, which the service layer turns into its
// degraded responses. Used when no API key is configured.
type disabledGenerator struct{}

func (disabledGenerator) GenerateJSON(context.Context, string, *genai.Schema) (string, error) {
	return "", errors.New("ai: no API key configured")
}

// Disabled returns a Generator for deployments without model access.
func Disabled() Generator {
	return disabledGenerator{}
}

// GenerateJSON sends the prompt with a JSON response constraint and returns
// the raw model text.
func (g *GeminiGenerator) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return "", fmt.Errorf("GenerateJSON: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenerateJSON: empty response from model")
	}
	return text, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk if the model
// ignored the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// If there's still junk around the JSON object, keep only from the
	// first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
