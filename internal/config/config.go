package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for the worker daemon.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	ArtifactsDir string `toml:"artifacts_dir"`
	ArchiveDir   string `toml:"archive_dir"`
	LogDir       string `toml:"log_dir"`
}

// ASR contains speech recognition engine settings.
type ASR struct {
	Command     string `toml:"command"`
	Model       string `toml:"model"`
	ComputeType string `toml:"compute_type"`
}

// Align contains forced alignment engine settings.
type Align struct {
	Command string `toml:"command"`
}

// Diarize contains speaker diarization engine settings.
type Diarize struct {
	Command string `toml:"command"`
	// HFToken is the Hugging Face credential required by the diarization
	// model. When empty the diarization stage is skipped and the job
	// degrades to a single-speaker transcript.
	HFToken string `toml:"hf_token"`
}

// Embed contains speaker embedding extractor settings.
type Embed struct {
	Command string `toml:"command"`
}

// Speakers contains identity resolution thresholds.
type Speakers struct {
	// MatchThreshold is the minimum cosine similarity for assigning a turn
	// to an existing speaker.
	MatchThreshold float64 `toml:"match_threshold"`
	// MinTurnSeconds is the shortest diarization turn that still gets an
	// embedding extracted.
	MinTurnSeconds float64 `toml:"min_turn_seconds"`
}

// GPULock contains exclusive accelerator lock timing.
type GPULock struct {
	Name           string `toml:"name"`
	LeaseSeconds   int    `toml:"lease_seconds"`
	WaitSeconds    int    `toml:"wait_seconds"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
}

// LLM contains connection settings for the metadata generation model.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains daemon timing and worker pool sizing.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes per-job step logs older than this many days at
	// daemon startup. Zero disables pruning.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for VoiceStack.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact, archive, and log directories
//   - ASR / Align / Diarize / Embed: external engine adapters
//   - Speakers: identity resolution thresholds
//   - GPULock: exclusive accelerator lock timing
//   - LLM: metadata enrichment connection settings
//   - Workflow: worker pool sizing and polling intervals
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	ASR      ASR      `toml:"asr"`
	Align    Align    `toml:"align"`
	Diarize  Diarize  `toml:"diarize"`
	Embed    Embed    `toml:"embed"`
	Speakers Speakers `toml:"speakers"`
	GPULock  GPULock  `toml:"gpu_lock"`
	LLM      LLM      `toml:"llm"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voicestack/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. A missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/voicestack/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voicestack.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactsDir, c.Paths.ArchiveDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ArtifactDir returns the artifact directory for one job.
func (c *Config) ArtifactDir(jobID string) string {
	return filepath.Join(c.Paths.ArtifactsDir, jobID)
}

// FFmpegBinary returns the ffmpeg executable name used for audio preprocessing.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves ~ and relative segments into an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
