// Package media wraps ffmpeg and ffprobe for audio preprocessing: container
// inspection, loudness-normalized WAV extraction for the recognition stages,
// and compressed archival of the source audio.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Zipties/voicestack2/internal/services"
)

// Loudnorm targets for speech. The normalized WAV is what every downstream
// model consumes, so these values stay fixed rather than configurable.
const (
	loudnormFilter = "loudnorm=I=-16:TP=-1.5:LRA=11"
	wavSampleRate  = "16000"
	opusBitrate    = "24k"
)

// Service provides ffmpeg-backed audio preparation.
type Service struct {
	ffmpegBinary  string
	ffprobeBinary string
	commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewService creates a media service using the given binaries.
func NewService(ffmpegBinary, ffprobeBinary string) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Service{
		ffmpegBinary:  ffmpegBinary,
		ffprobeBinary: ffprobeBinary,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	s.commandRunner = runner
}

// NormalizeToWAV extracts the first audio stream, applies loudness
// normalization, and writes a mono 16 kHz PCM WAV suitable for the
// recognition models.
func (s *Service) NormalizeToWAV(ctx context.Context, source, dest string) error {
	if source == "" {
		return services.Wrap(services.ErrValidation, "media", "normalize", "source path required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("normalize: ensure output dir: %w", err)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", source,
		"-vn",
		"-af", loudnormFilter,
		"-ar", wavSampleRate,
		"-ac", "1",
		"-c:a", "pcm_s16le",
		dest,
	}
	if _, err := s.runOutput(ctx, s.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "media", "normalize", "ffmpeg loudnorm failed", err)
	}
	return nil
}

// ArchiveOpus writes a compressed archival copy of the source audio.
func (s *Service) ArchiveOpus(ctx context.Context, source, dest string) error {
	if source == "" {
		return services.Wrap(services.ErrValidation, "media", "archive", "source path required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("archive: ensure output dir: %w", err)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", source,
		"-vn",
		"-c:a", "libopus",
		"-b:a", opusBitrate,
		dest,
	}
	if _, err := s.runOutput(ctx, s.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "media", "archive", "ffmpeg opus encode failed", err)
	}
	return nil
}

func (s *Service) runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}
