// Package asr runs whisper-family speech recognition through an external
// command and decodes its JSON transcript output.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"github.com/Zipties/voicestack2/internal/services"
)

// Word is a single recognized word with timing.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score,omitempty"`
}

// Segment is one recognized span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the decoded recognizer output.
type Result struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Config holds recognizer settings.
type Config struct {
	Command     string
	Model       string
	ComputeType string
}

// Service invokes the recognizer binary.
type Service struct {
	cfg           Config
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a recognition service with the given configuration.
func NewService(cfg Config) *Service {
	if cfg.Command == "" {
		cfg.Command = "uvx"
	}
	if cfg.Model == "" {
		cfg.Model = "base"
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

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

// Transcribe runs recognition over a prepared WAV and returns the decoded
// segments. langHint narrows detection when provided; the recognizer
// auto-detects otherwise.
func (s *Service) Transcribe(ctx context.Context, wavPath, outputDir, langHint string) (Result, error) {
	if wavPath == "" {
		return Result{}, services.Wrap(services.ErrValidation, "asr", "transcribe", "audio path required", nil)
	}
	if outputDir == "" {
		outputDir = filepath.Dir(wavPath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	args := []string{
		"whisperx",
		wavPath,
		"--model", s.cfg.Model,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--no_align",
	}
	if s.cfg.ComputeType != "" {
		args = append(args, "--compute_type", s.cfg.ComputeType)
	}
	if code := NormalizeLanguage(langHint); code != "" {
		args = append(args, "--language", code)
	}

	if err := s.run(ctx, s.cfg.Command, args...); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "asr", "transcribe", "recognizer failed", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	return LoadResult(filepath.Join(outputDir, baseName+".json"))
}

// LoadResult decodes a recognizer JSON file.
func LoadResult(jsonPath string) (Result, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Result{}, fmt.Errorf("read transcript json: %w", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("parse transcript json: %w", err)
	}
	return result, nil
}

// Text concatenates segment text into the full transcript.
func (r Result) Text() string {
	var parts []string
	for _, segment := range r.Segments {
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeLanguage reduces a language hint such as "en-US" or "deu" to its
// ISO 639-1 base code. Unparseable hints yield "" so the recognizer falls
// back to auto-detection.
func NormalizeLanguage(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
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
