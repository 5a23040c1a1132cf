package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngines()
	c.normalizeGPULock()
	c.normalizeLLM()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactsDir) == "" {
		c.Paths.ArtifactsDir = defaultArtifactsDir
	}
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArchiveDir) == "" {
		c.Paths.ArchiveDir = defaultArchiveDir
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngines() {
	if strings.TrimSpace(c.ASR.Command) == "" {
		c.ASR.Command = defaultASRCommand
	}
	if strings.TrimSpace(c.ASR.Model) == "" {
		c.ASR.Model = os.Getenv("WHISPER_MODEL")
	}
	if strings.TrimSpace(c.ASR.Model) == "" {
		c.ASR.Model = defaultASRModel
	}
	if strings.TrimSpace(c.ASR.ComputeType) == "" {
		c.ASR.ComputeType = defaultASRComputeType
	}
	if strings.TrimSpace(c.Align.Command) == "" {
		c.Align.Command = defaultAlignCommand
	}
	if strings.TrimSpace(c.Diarize.Command) == "" {
		c.Diarize.Command = defaultDiarizeCommand
	}
	if c.Diarize.HFToken == "" {
		c.Diarize.HFToken = os.Getenv("HF_TOKEN")
	}
	if strings.TrimSpace(c.Embed.Command) == "" {
		c.Embed.Command = defaultEmbedCommand
	}
	if c.Speakers.MatchThreshold == 0 {
		c.Speakers.MatchThreshold = defaultMatchThreshold
	}
	if c.Speakers.MinTurnSeconds == 0 {
		c.Speakers.MinTurnSeconds = defaultMinTurnSeconds
	}
}

func (c *Config) normalizeGPULock() {
	if strings.TrimSpace(c.GPULock.Name) == "" {
		c.GPULock.Name = defaultGPULockName
	}
	if c.GPULock.LeaseSeconds <= 0 {
		c.GPULock.LeaseSeconds = defaultGPULeaseSeconds
	}
	if c.GPULock.WaitSeconds <= 0 {
		c.GPULock.WaitSeconds = defaultGPUWaitSeconds
	}
	if c.GPULock.PollIntervalMS <= 0 {
		c.GPULock.PollIntervalMS = defaultGPUPollIntervalMS
	}
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
