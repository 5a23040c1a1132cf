// Package pipeline runs one transcription job through its stages: audio
// preparation, recognition, alignment, diarization, speaker resolution,
// persistence, metadata, and artifact finalization. Fatal stages fail the
// job; degradable stages log, note the step log, and let the job finish
// without their output.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Zipties/voicestack2/internal/align"
	"github.com/Zipties/voicestack2/internal/artifacts"
	"github.com/Zipties/voicestack2/internal/asr"
	"github.com/Zipties/voicestack2/internal/config"
	"github.com/Zipties/voicestack2/internal/diarize"
	"github.com/Zipties/voicestack2/internal/embed"
	"github.com/Zipties/voicestack2/internal/gpulock"
	"github.com/Zipties/voicestack2/internal/logging"
	"github.com/Zipties/voicestack2/internal/media"
	"github.com/Zipties/voicestack2/internal/metadata"
	"github.com/Zipties/voicestack2/internal/services"
	"github.com/Zipties/voicestack2/internal/speakers"
	"github.com/Zipties/voicestack2/internal/store"
)

// Progress checkpoints per stage. Values only move forward; the store
// enforces monotonicity for stale writers.
const (
	ProgressSetup    = 0
	ProgressAudio    = 10
	ProgressASR      = 40
	ProgressAlign    = 55
	ProgressDiarize  = 70
	ProgressResolve  = 80
	ProgressPersist  = 90
	ProgressMetadata = 95
	ProgressDone     = 100
)

// ErrCancelled reports that the job was cancelled between stages. The worker
// treats it as a clean stop, not a failure.
var ErrCancelled = errors.New("job cancelled")

// Params are per-job overrides carried in the job's params JSON.
type Params struct {
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Pipeline executes jobs against a shared store and GPU lock. The external
// tool services are exported so tests can install command runners.
type Pipeline struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger

	Media    *media.Service
	ASR      *asr.Service
	Align    *align.Service
	Diarize  *diarize.Service
	Embed    *embed.Service
	Metadata *metadata.Generator
	Lock     *gpulock.Lock
}

// New wires a pipeline from configuration. The metadata generator is only
// attached when an LLM endpoint is configured.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Pipeline{
		cfg:    cfg,
		store:  st,
		logger: logger,
		Media:  media.NewService(cfg.FFmpegBinary(), cfg.FFprobeBinary()),
		ASR: asr.NewService(asr.Config{
			Command:     cfg.ASR.Command,
			Model:       cfg.ASR.Model,
			ComputeType: cfg.ASR.ComputeType,
		}),
		Align:   align.NewService(align.Config{Command: cfg.Align.Command}),
		Diarize: diarize.NewService(diarize.Config{Command: cfg.Diarize.Command, HFToken: cfg.Diarize.HFToken}),
		Embed:   embed.NewService(embed.Config{Command: cfg.Embed.Command}),
		Lock: gpulock.New(st.DB(), cfg.GPULock.Name,
			time.Duration(cfg.GPULock.LeaseSeconds)*time.Second,
			gpulock.WithPollInterval(time.Duration(cfg.GPULock.PollIntervalMS)*time.Millisecond)),
	}
	if cfg.LLM.BaseURL != "" && cfg.LLM.Model != "" {
		client := metadata.NewClient(metadata.ClientConfig{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		})
		p.Metadata = metadata.NewGenerator(client)
	}
	return p
}

// run-scoped state threaded through the stages of one job. The recognizer,
// diarizer, and resolver live here rather than on the Pipeline because
// persisted settings and job params can override their configuration, and
// workers run jobs concurrently.
type jobRun struct {
	job         *store.Job
	asset       *store.Asset
	params      Params
	artifactDir string
	stepLog     *artifacts.StepLog
	logger      *slog.Logger

	asrSvc     *asr.Service
	diarizeSvc *diarize.Service
	resolver   *speakers.Resolver

	wavPath    string
	asrResult  asr.Result
	words      []speakers.AttributedWord
	turns      []diarize.Turn
	resolution speakers.Resolution
	transcript *store.Transcript
	segments   []store.Segment
}

// Run executes the full stage sequence for one claimed job. The returned
// error is nil for completed jobs, ErrCancelled for clean stops, and the
// fatal stage error otherwise (the job is already marked FAILED).
func (p *Pipeline) Run(ctx context.Context, job *store.Job) error {
	ctx = services.WithJobID(ctx, job.ID)
	run := &jobRun{
		job:         job,
		artifactDir: p.cfg.ArtifactDir(job.ID),
		logger:      p.logger.With(logging.String(logging.FieldJobID, job.ID)),
	}

	if err := p.setup(ctx, run); err != nil {
		return p.fail(ctx, run, "setup", err)
	}
	defer run.stepLog.Close()

	type stage struct {
		name       string
		progress   int
		degradable bool
		needsGPU   bool
		fn         func(context.Context, *jobRun) error
	}
	stages := []stage{
		{"audio", ProgressAudio, false, false, p.prepareAudio},
		{"asr", ProgressASR, false, true, p.transcribe},
		{"align", ProgressAlign, false, true, p.alignWords},
		{"diarize", ProgressDiarize, true, true, p.diarizeAndMap},
		{"resolve", ProgressResolve, true, true, p.resolveSpeakers},
		{"persist", ProgressPersist, false, false, p.persist},
		{"metadata", ProgressMetadata, true, false, p.generateMetadata},
	}

	var lease *gpulock.Lease
	releaseLease := func() {
		if lease != nil {
			if err := lease.Release(ctx); err != nil {
				run.logger.Warn("gpu lease release failed", logging.Error(err))
			}
			lease = nil
		}
	}
	defer releaseLease()

	for _, st := range stages {
		if err := p.checkCancelled(ctx, run); err != nil {
			return err
		}

		if st.needsGPU && lease == nil {
			run.stepLog.Step("waiting for gpu")
			var err error
			lease, err = p.Lock.Acquire(ctx, time.Duration(p.cfg.GPULock.WaitSeconds)*time.Second)
			if err != nil {
				return p.fail(ctx, run, st.name, err)
			}
			run.stepLog.Step("gpu acquired (token %s)", lease.Token)
		}
		if !st.needsGPU {
			releaseLease()
		}

		run.stepLog.Step("stage %s started", st.name)
		err := st.fn(ctx, run)
		if err != nil {
			if st.degradable {
				run.stepLog.Step("stage %s degraded: %v", st.name, err)
				run.logger.Warn("stage degraded",
					logging.String(logging.FieldStage, st.name), logging.Error(err))
			} else {
				return p.fail(ctx, run, st.name, err)
			}
		} else {
			run.stepLog.Step("stage %s finished", st.name)
		}

		if err := p.store.SetJobProgress(ctx, run.job.ID, st.progress); err != nil {
			run.logger.Warn("progress update failed", logging.Error(err))
		}
	}
	releaseLease()

	if err := p.finalize(ctx, run); err != nil {
		return p.fail(ctx, run, "finalize", err)
	}

	ok, err := p.store.MarkJobSucceeded(ctx, run.job.ID)
	if err != nil {
		return p.fail(ctx, run, "finalize", err)
	}
	if !ok {
		// Cancelled (or otherwise no longer RUNNING) while finalizing.
		run.stepLog.Step("job no longer running at completion; leaving status untouched")
		return ErrCancelled
	}
	run.stepLog.Step("job completed")
	run.logger.Info("job completed", logging.Int("progress", ProgressDone))
	return nil
}

func (p *Pipeline) setup(ctx context.Context, run *jobRun) error {
	asset, err := p.store.GetAssetByJob(ctx, run.job.ID)
	if err != nil {
		return err
	}
	if asset == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "setup", "job has no asset", nil)
	}
	run.asset = asset

	if run.job.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(run.job.ParamsJSON), &run.params); err != nil {
			return services.Wrap(services.ErrValidation, "pipeline", "setup", "bad job params", err)
		}
	}
	p.applySettings(ctx, run)

	stepLog, err := artifacts.OpenStepLog(p.cfg.Paths.LogDir, run.job.ID)
	if err != nil {
		return err
	}
	run.stepLog = stepLog
	if err := p.store.SetJobLogPath(ctx, run.job.ID, stepLog.Path()); err != nil {
		return err
	}
	stepLog.Step("job started (source %s)", asset.SourcePath)
	return nil
}

// applySettings layers persisted engine settings and per-job params over the
// static configuration.
func (p *Pipeline) applySettings(ctx context.Context, run *jobRun) {
	settings, err := p.store.GetSettings(ctx)
	if err != nil {
		run.logger.Warn("settings load failed", logging.Error(err))
		settings = nil
	}
	model := p.cfg.ASR.Model
	computeType := p.cfg.ASR.ComputeType
	hfToken := p.cfg.Diarize.HFToken
	threshold := p.cfg.Speakers.MatchThreshold
	minTurn := p.cfg.Speakers.MinTurnSeconds
	if settings != nil {
		if settings.WhisperModel != "" {
			model = settings.WhisperModel
		}
		if settings.ComputeType != "" {
			computeType = settings.ComputeType
		}
		if settings.HFToken != "" {
			hfToken = settings.HFToken
		}
		if settings.MatchThreshold > 0 {
			threshold = settings.MatchThreshold
		}
		if settings.MinTurnSeconds > 0 {
			minTurn = settings.MinTurnSeconds
		}
	}
	if run.params.Model != "" {
		model = run.params.Model
	}

	run.asrSvc = p.ASR.Reconfigure(asr.Config{Command: p.cfg.ASR.Command, Model: model, ComputeType: computeType})
	run.diarizeSvc = p.Diarize.Reconfigure(diarize.Config{Command: p.cfg.Diarize.Command, HFToken: hfToken})
	run.resolver = speakers.NewResolver(p.store, threshold, minTurn,
		logging.NewComponentLogger(p.logger, "speakers"))
}

func (p *Pipeline) prepareAudio(ctx context.Context, run *jobRun) error {
	probe, err := p.Media.Probe(ctx, run.asset.SourcePath)
	if err != nil {
		return err
	}
	if probe.AudioStreamCount() == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "audio", "source has no audio stream", nil)
	}

	run.wavPath = filepath.Join(run.artifactDir, "audio.wav")
	if err := p.Media.NormalizeToWAV(ctx, run.asset.SourcePath, run.wavPath); err != nil {
		return err
	}

	archivePath := filepath.Join(p.cfg.Paths.ArchiveDir, run.job.ID+".opus")
	if err := p.Media.ArchiveOpus(ctx, run.asset.SourcePath, archivePath); err != nil {
		return err
	}

	stream := probe.FirstAudioStream()
	if err := p.store.UpdateAssetProbe(ctx, run.asset.ID,
		probe.DurationSeconds(), stream.SampleRateHz(), stream.Channels); err != nil {
		return err
	}
	return p.store.SetAssetArchivalPath(ctx, run.asset.ID, archivePath)
}

func (p *Pipeline) transcribe(ctx context.Context, run *jobRun) error {
	result, err := run.asrSvc.Transcribe(ctx, run.wavPath, run.artifactDir, run.params.Language)
	if err != nil {
		return err
	}
	if len(result.Segments) == 0 {
		return services.Wrap(services.ErrExternalTool, "pipeline", "asr", "recognizer produced no segments", nil)
	}
	run.asrResult = result
	_, err = artifacts.WriteJSON(run.artifactDir, "asr.json", result)
	return err
}

func (p *Pipeline) alignWords(ctx context.Context, run *jobRun) error {
	segmentsPath := filepath.Join(run.artifactDir, "audio.json")
	result, err := p.Align.Align(ctx, run.wavPath, segmentsPath, run.asrResult.Language)
	if err != nil {
		return err
	}
	if len(result.Segments) > 0 {
		run.asrResult.Segments = result.Segments
	}
	words := result.Words
	if len(words) == 0 {
		for _, segment := range run.asrResult.Segments {
			words = append(words, segment.Words...)
		}
	}
	run.words = speakers.MapWordsToTurns(words, nil)
	_, err = artifacts.WriteJSON(run.artifactDir, "aligned.json", result)
	return err
}

func (p *Pipeline) diarizeAndMap(ctx context.Context, run *jobRun) error {
	if !run.diarizeSvc.Available() {
		return services.Wrap(services.ErrConfiguration, "pipeline", "diarize", "no huggingface token; skipping attribution", nil)
	}
	turnsPath := filepath.Join(run.artifactDir, "diarization.json")
	turns, err := run.diarizeSvc.Diarize(ctx, run.wavPath, turnsPath)
	if err != nil {
		return err
	}
	run.turns = turns

	var words []asr.Word
	for _, word := range run.words {
		words = append(words, word.Word)
	}
	run.words = speakers.MapWordsToTurns(words, turns)
	_, err = artifacts.WriteJSON(run.artifactDir, "word_speakers.json", run.words)
	return err
}

func (p *Pipeline) resolveSpeakers(ctx context.Context, run *jobRun) error {
	if len(run.turns) == 0 {
		return services.Wrap(services.ErrConfiguration, "pipeline", "resolve", "no diarization turns; skipping identity resolution", nil)
	}
	turnsPath := filepath.Join(run.artifactDir, "diarization.json")
	embeddingsPath := filepath.Join(run.artifactDir, "embeddings.json")
	embeddings, err := p.Embed.Extract(ctx, run.wavPath, turnsPath, embeddingsPath)
	if err != nil {
		return err
	}

	resolution, err := run.resolver.Resolve(ctx, embeddings)
	if err != nil {
		return err
	}
	run.resolution = resolution
	return nil
}

func (p *Pipeline) persist(ctx context.Context, run *jobRun) error {
	transcript, err := p.store.CreateTranscript(ctx, run.asset.ID, run.asrResult.Text())
	if err != nil {
		return err
	}
	run.transcript = transcript

	segments := make([]store.Segment, 0, len(run.asrResult.Segments))
	for _, segment := range run.asrResult.Segments {
		wordsInSpan := speakers.WordsInSpan(run.words, segment.Start, segment.End)
		label := speakers.SegmentLabel(wordsInSpan)

		speakerID := ""
		if label != speakers.UnknownSpeaker {
			speakerID = run.resolution.SpeakerIDs[label]
		}

		timingsJSON := ""
		if len(segment.Words) > 0 {
			encoded, err := json.Marshal(segment.Words)
			if err != nil {
				return fmt.Errorf("encode word timings: %w", err)
			}
			timingsJSON = string(encoded)
		}
		segments = append(segments, store.Segment{
			TranscriptID:    transcript.ID,
			Start:           segment.Start,
			End:             segment.End,
			Text:            segment.Text,
			WordTimingsJSON: timingsJSON,
			SpeakerID:       speakerID,
			OriginalLabel:   originalLabel(label),
		})
	}
	run.segments = segments
	return p.store.ReplaceSegments(ctx, transcript.ID, segments)
}

func originalLabel(label string) string {
	if label == speakers.UnknownSpeaker {
		return ""
	}
	return label
}

func (p *Pipeline) generateMetadata(ctx context.Context, run *jobRun) error {
	if p.Metadata == nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "metadata", "no llm configured; skipping metadata", nil)
	}
	result, err := p.Metadata.Generate(ctx, run.asrResult.Text())
	if err != nil {
		return err
	}
	if err := p.store.UpdateTranscriptMetadata(ctx, run.transcript.ID, result.Title, result.Summary); err != nil {
		return err
	}
	run.transcript.Title = result.Title
	run.transcript.Summary = result.Summary
	return p.store.ReplaceTags(ctx, run.transcript.ID, result.Tags, "llm")
}

// finalize renders the final transcript artifacts from persisted state.
func (p *Pipeline) finalize(ctx context.Context, run *jobRun) error {
	names, err := p.speakerNames(ctx, run.segments)
	if err != nil {
		return err
	}

	rendered := make([]artifacts.TranscriptSegment, 0, len(run.segments))
	for _, segment := range run.segments {
		speaker := speakers.UnknownSpeaker
		if segment.SpeakerID != "" {
			speaker = names[segment.SpeakerID]
		} else if len(run.turns) == 0 {
			// No diarization ran; leave lines unattributed instead of
			// labeling everything Unknown.
			speaker = ""
		}
		rendered = append(rendered, artifacts.TranscriptSegment{
			Start:   segment.Start,
			End:     segment.End,
			Speaker: speaker,
			Text:    segment.Text,
		})
	}

	var tags []string
	stored, err := p.store.ListTags(ctx, run.transcript.ID)
	if err != nil {
		return err
	}
	for _, tag := range stored {
		tags = append(tags, tag.Tag)
	}

	doc := artifacts.TranscriptDocument{
		JobID:    run.job.ID,
		Title:    run.transcript.Title,
		Summary:  run.transcript.Summary,
		Tags:     tags,
		Language: run.asrResult.Language,
		Text:     run.asrResult.Text(),
		Segments: rendered,
	}
	if _, err := artifacts.WriteJSON(run.artifactDir, "transcript.json", doc); err != nil {
		return err
	}
	if _, err := artifacts.WriteText(run.artifactDir, rendered); err != nil {
		return err
	}
	if _, err := artifacts.WriteSRT(run.artifactDir, rendered); err != nil {
		return err
	}
	_, err = artifacts.WriteVTT(run.artifactDir, rendered)
	return err
}

func (p *Pipeline) speakerNames(ctx context.Context, segments []store.Segment) (map[string]string, error) {
	names := make(map[string]string)
	for _, segment := range segments {
		if segment.SpeakerID == "" {
			continue
		}
		if _, ok := names[segment.SpeakerID]; ok {
			continue
		}
		speaker, err := p.store.GetSpeaker(ctx, segment.SpeakerID)
		if err != nil {
			return nil, err
		}
		if speaker != nil {
			names[segment.SpeakerID] = speaker.Name
		} else {
			names[segment.SpeakerID] = speakers.UnknownSpeaker
		}
	}
	return names, nil
}

// checkCancelled reloads the job and stops the run when it is no longer
// RUNNING.
func (p *Pipeline) checkCancelled(ctx context.Context, run *jobRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := p.store.GetJob(ctx, run.job.ID)
	if err != nil {
		return err
	}
	if current == nil || current.Status != store.StatusRunning {
		run.stepLog.Step("job cancelled; stopping")
		return ErrCancelled
	}
	return nil
}

// fail marks the job FAILED with a trimmed message and records forensics in
// the step log.
func (p *Pipeline) fail(ctx context.Context, run *jobRun, stageName string, err error) error {
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if run.stepLog != nil {
		run.stepLog.Failure(stageName, err)
	}
	run.logger.Error("stage failed",
		logging.String(logging.FieldStage, stageName), logging.Error(err))
	if markErr := p.store.MarkJobFailed(ctx, run.job.ID, services.Message(err)); markErr != nil {
		run.logger.Error("failed to mark job failed", logging.Error(markErr))
	}
	return err
}

