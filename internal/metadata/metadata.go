// Package metadata generates a title, summary, and topic tags for a finished
// transcript through an OpenAI-compatible chat endpoint. Metadata is
// best-effort: any failure here degrades the job, it never fails it.
package metadata

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Zipties/voicestack2/internal/services"
)

const systemPrompt = `You are a transcription assistant. Given a transcript, produce JSON with exactly these keys:
"title": a short descriptive title (at most 10 words),
"summary": a 2-3 sentence summary,
"tags": an array of 3-7 lowercase topic tags.
Respond with JSON only.`

// transcriptCharLimit bounds the prompt so local models with small contexts
// still fit the full request.
const transcriptCharLimit = 12000

// Result is the generated transcript metadata.
type Result struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// Generator produces transcript metadata via the LLM client.
type Generator struct {
	client *Client
}

// NewGenerator builds a metadata generator over the given client.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// Generate asks the model for title, summary, and tags for the transcript.
func (g *Generator) Generate(ctx context.Context, transcript string) (Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Result{}, services.Wrap(services.ErrValidation, "metadata", "generate", "transcript is empty", nil)
	}
	if len(transcript) > transcriptCharLimit {
		cut := transcriptCharLimit
		// Back up to a rune boundary so truncation never splits a character.
		for cut > 0 && !utf8.RuneStart(transcript[cut]) {
			cut--
		}
		transcript = transcript[:cut]
	}

	content, err := g.client.CompleteJSON(ctx, systemPrompt, transcript)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "metadata", "generate", "completion failed", err)
	}

	var result Result
	if err := DecodeLLMJSON(content, &result); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "metadata", "generate",
			fmt.Sprintf("unparseable model output: %v", err), nil)
	}

	result.Title = strings.TrimSpace(result.Title)
	result.Summary = strings.TrimSpace(result.Summary)
	cleaned := result.Tags[:0]
	for _, tag := range result.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	result.Tags = cleaned
	return result, nil
}
