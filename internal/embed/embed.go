// Package embed extracts one voice embedding per diarization turn using an
// external speaker-embedding command.
package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Zipties/voicestack2/internal/services"
)

// TurnEmbedding is the voice vector extracted from one diarization turn.
type TurnEmbedding struct {
	Speaker string    `json:"speaker"`
	Start   float64   `json:"start"`
	End     float64   `json:"end"`
	Vector  []float64 `json:"embedding"`
}

// Duration returns the turn length in seconds.
func (e TurnEmbedding) Duration() float64 {
	return e.End - e.Start
}

type payload struct {
	Embeddings []TurnEmbedding `json:"embeddings"`
}

// Config holds embedder settings.
type Config struct {
	Command string
}

// Service invokes the embedding binary.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates an embedding service with the given configuration.
func NewService(cfg Config) *Service {
	if cfg.Command == "" {
		cfg.Command = "uvx"
	}
	return &Service{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Extract computes one embedding per diarization turn. turnsPath is the
// diarizer JSON so the embedder can cut audio per turn; the result carries
// the turns in recording order, each with its label, bounds, and vector.
func (s *Service) Extract(ctx context.Context, wavPath, turnsPath, outputPath string) ([]TurnEmbedding, error) {
	if wavPath == "" || turnsPath == "" {
		return nil, services.Wrap(services.ErrValidation, "embed", "extract", "audio and turns paths required", nil)
	}

	args := []string{
		"speaker-embed",
		"--audio", wavPath,
		"--turns", turnsPath,
		"--output", outputPath,
	}
	if err := s.run(ctx, s.cfg.Command, args...); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "embed", "extract", "embedder failed", err)
	}
	return LoadEmbeddings(outputPath)
}

// LoadEmbeddings decodes an embedder JSON file.
func LoadEmbeddings(jsonPath string) ([]TurnEmbedding, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read embeddings json: %w", err)
	}
	var decoded payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse embeddings json: %w", err)
	}
	return decoded.Embeddings, nil
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
