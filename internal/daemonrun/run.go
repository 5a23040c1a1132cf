// Package daemonrun hosts the daemon process loop shared by the voicestackd
// binary and the CLI's daemon command.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Zipties/voicestack2/internal/config"
	"github.com/Zipties/voicestack2/internal/daemon"
	"github.com/Zipties/voicestack2/internal/logging"
	"github.com/Zipties/voicestack2/internal/store"
	"github.com/Zipties/voicestack2/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the daemon and blocks until the context is cancelled or a
// termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "*_pipeline.log"},
	)

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	workflowManager := workflow.NewManager(cfg, st, logger)
	d, err := daemon.New(cfg, st, logger, workflowManager)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("daemon shutting down")
	return nil
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("dependency snapshot",
		logging.Bool("ffmpeg_available", binaryAvailable(cfg.FFmpegBinary())),
		logging.Bool("ffprobe_available", binaryAvailable(cfg.FFprobeBinary())),
		logging.Bool("asr_runner_available", binaryAvailable(cfg.ASR.Command)),
		logging.Bool("hf_token_present", strings.TrimSpace(cfg.Diarize.HFToken) != ""),
		logging.Bool("llm_configured", strings.TrimSpace(cfg.LLM.BaseURL) != ""),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
