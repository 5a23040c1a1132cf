// Package diarize segments audio into speaker turns using an external
// diarization command. Diarization needs a Hugging Face token for the
// pyannote models; without one the pipeline degrades to a single unattributed
// transcript rather than failing the job.
package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Zipties/voicestack2/internal/services"
)

// Turn is one contiguous span attributed to a diarization-local label such as
// SPEAKER_00. Labels reset per recording; they carry no cross-job identity.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Duration returns the turn length in seconds.
func (t Turn) Duration() float64 {
	return t.End - t.Start
}

type payload struct {
	Turns []Turn `json:"turns"`
}

// Config holds diarizer settings.
type Config struct {
	Command string
	HFToken string
}

// Service invokes the diarization binary.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a diarization service with the given configuration.
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

// Reconfigure returns a service with the given settings that shares this
// service's command runner. Used when persisted settings override the static
// configuration per job.
func (s *Service) Reconfigure(cfg Config) *Service {
	next := NewService(cfg)
	next.commandRunner = s.commandRunner
	return next
}

// Available reports whether diarization can run at all.
func (s *Service) Available() bool {
	return s.cfg.HFToken != ""
}

// Diarize runs speaker segmentation over the prepared WAV and writes its
// turn list to outputPath.
func (s *Service) Diarize(ctx context.Context, wavPath, outputPath string) ([]Turn, error) {
	if wavPath == "" {
		return nil, services.Wrap(services.ErrValidation, "diarize", "diarize", "audio path required", nil)
	}
	if !s.Available() {
		return nil, services.Wrap(services.ErrConfiguration, "diarize", "diarize", "huggingface token not configured", nil)
	}

	args := []string{
		"pyannote-diarize",
		"--audio", wavPath,
		"--output", outputPath,
		"--hf-token", s.cfg.HFToken,
	}
	if err := s.run(ctx, s.cfg.Command, args...); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "diarize", "diarize", "diarizer failed", err)
	}
	return LoadTurns(outputPath)
}

// LoadTurns decodes a diarizer JSON file.
func LoadTurns(jsonPath string) ([]Turn, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read diarization json: %w", err)
	}
	var decoded payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse diarization json: %w", err)
	}
	return decoded.Turns, nil
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
