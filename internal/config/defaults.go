package config

const (
	defaultDataDir            = "~/.local/share/voicestack"
	defaultArtifactsDir       = "~/.local/share/voicestack/artifacts"
	defaultArchiveDir         = "~/.local/share/voicestack/archival"
	defaultLogDir             = "~/.local/share/voicestack/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
	defaultASRCommand         = "uvx"
	defaultASRModel           = "base"
	defaultASRComputeType     = "float32"
	defaultAlignCommand       = "uvx"
	defaultDiarizeCommand     = "uvx"
	defaultEmbedCommand       = "uvx"
	defaultMatchThreshold     = 0.3
	defaultMinTurnSeconds     = 0.5
	defaultGPULockName        = "gpu_lock"
	defaultGPULeaseSeconds    = 300
	defaultGPUWaitSeconds     = 300
	defaultGPUPollIntervalMS  = 1000
	defaultLLMBaseURL         = "http://localhost:1234/v1/chat/completions"
	defaultLLMModel           = "local-model"
	defaultLLMTimeoutSeconds  = 60
	defaultWorkers            = 2
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ArtifactsDir: defaultArtifactsDir,
			ArchiveDir:   defaultArchiveDir,
			LogDir:       defaultLogDir,
		},
		ASR: ASR{
			Command:     defaultASRCommand,
			Model:       defaultASRModel,
			ComputeType: defaultASRComputeType,
		},
		Align: Align{
			Command: defaultAlignCommand,
		},
		Diarize: Diarize{
			Command: defaultDiarizeCommand,
		},
		Embed: Embed{
			Command: defaultEmbedCommand,
		},
		Speakers: Speakers{
			MatchThreshold: defaultMatchThreshold,
			MinTurnSeconds: defaultMinTurnSeconds,
		},
		GPULock: GPULock{
			Name:           defaultGPULockName,
			LeaseSeconds:   defaultGPULeaseSeconds,
			WaitSeconds:    defaultGPUWaitSeconds,
			PollIntervalMS: defaultGPUPollIntervalMS,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
