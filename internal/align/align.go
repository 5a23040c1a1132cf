// Package align refines recognizer output with a forced-alignment pass,
// producing per-word timings accurate enough for speaker attribution.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Zipties/voicestack2/internal/asr"
	"github.com/Zipties/voicestack2/internal/services"
)

// Result is the decoded aligner output: the recognizer's segments with
// corrected word timings plus the flattened word list.
type Result struct {
	Segments []asr.Segment `json:"segments"`
	Words    []asr.Word    `json:"word_segments"`
}

// Config holds aligner settings.
type Config struct {
	Command string
}

// Service invokes the alignment binary.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates an alignment service with the given configuration.
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

// Align feeds the audio and recognized segments to the aligner and decodes
// the refined timings. segmentsPath is the recognizer JSON; the aligner
// writes its output next to it.
func (s *Service) Align(ctx context.Context, wavPath, segmentsPath, lang string) (Result, error) {
	if wavPath == "" || segmentsPath == "" {
		return Result{}, services.Wrap(services.ErrValidation, "align", "align", "audio and segments paths required", nil)
	}

	outputPath := alignedPath(segmentsPath)
	args := []string{
		"whisperx-align",
		"--audio", wavPath,
		"--segments", segmentsPath,
		"--output", outputPath,
	}
	if lang != "" {
		args = append(args, "--language", lang)
	}

	if err := s.run(ctx, s.cfg.Command, args...); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "align", "align", "aligner failed", err)
	}
	return LoadResult(outputPath)
}

// LoadResult decodes an aligner JSON file.
func LoadResult(jsonPath string) (Result, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Result{}, fmt.Errorf("read aligned json: %w", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("parse aligned json: %w", err)
	}
	if len(result.Words) == 0 {
		result.Words = flattenWords(result.Segments)
	}
	return result, nil
}

func alignedPath(segmentsPath string) string {
	dir := filepath.Dir(segmentsPath)
	base := strings.TrimSuffix(filepath.Base(segmentsPath), filepath.Ext(segmentsPath))
	return filepath.Join(dir, base+".aligned.json")
}

func flattenWords(segments []asr.Segment) []asr.Word {
	var words []asr.Word
	for _, segment := range segments {
		words = append(words, segment.Words...)
	}
	return words
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
