package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Zipties/voicestack2/internal/config"
	"github.com/Zipties/voicestack2/internal/pipeline"
	"github.com/Zipties/voicestack2/internal/store"
	"github.com/Zipties/voicestack2/internal/testsupport"
)

const probeJSON = `{
    "streams": [{"index": 0, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2}],
    "format": {"duration": "6.0"}
}`

const asrJSON = `{
    "language": "en",
    "segments": [
        {"start": 0.0, "end": 2.0, "text": "hello there", "words": [
            {"word": "hello", "start": 0.2, "end": 0.8},
            {"word": "there", "start": 1.0, "end": 1.8}
        ]},
        {"start": 2.0, "end": 4.0, "text": "good morning", "words": [
            {"word": "good", "start": 2.2, "end": 2.8},
            {"word": "morning", "start": 3.0, "end": 3.8}
        ]}
    ]
}`

const turnsJSON = `{"turns": [
    {"start": 0.0, "end": 2.0, "speaker": "SPEAKER_00"},
    {"start": 2.0, "end": 4.0, "speaker": "SPEAKER_01"}
]}`

const embeddingsJSON = `{"embeddings": [
    {"speaker": "SPEAKER_00", "start": 0.0, "end": 2.0, "embedding": [1, 0, 0]},
    {"speaker": "SPEAKER_01", "start": 2.0, "end": 4.0, "embedding": [0, 1, 0]}
]}`

func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// newTestPipeline wires a pipeline whose external tools are faked: ffprobe
// and the recognizer family write canned JSON, ffmpeg is a no-op.
func newTestPipeline(t *testing.T, cfg *config.Config, st *store.Store) *pipeline.Pipeline {
	t.Helper()
	cfg.LLM.BaseURL = ""

	p := pipeline.New(cfg, st, nil)
	p.Media.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if strings.Contains(name, "ffprobe") {
			return []byte(probeJSON), nil
		}
		return nil, nil
	})
	p.ASR.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		outputDir := argValue(args, "--output_dir")
		return os.WriteFile(filepath.Join(outputDir, "audio.json"), []byte(asrJSON), 0o644)
	})
	p.Align.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		// Echo the recognizer output as the aligned result.
		data, err := os.ReadFile(argValue(args, "--segments"))
		if err != nil {
			return err
		}
		return os.WriteFile(argValue(args, "--output"), data, 0o644)
	})
	p.Diarize.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return os.WriteFile(argValue(args, "--output"), []byte(turnsJSON), 0o644)
	})
	p.Embed.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return os.WriteFile(argValue(args, "--output"), []byte(embeddingsJSON), 0o644)
	})
	return p
}

func claim(t *testing.T, st *store.Store) *store.Job {
	t.Helper()
	job, err := st.ClaimNextQueued(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	if job == nil {
		t.Fatal("no job to claim")
	}
	return job
}

func TestRunAttributesSpeakers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithHFToken("hf_test"))
	st := testsupport.MustOpenStore(t, cfg)
	p := newTestPipeline(t, cfg, st)

	ctx := context.Background()
	testsupport.NewJob(t, st, "/media/interview.mp4")
	job := claim(t, st)

	if err := p.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != store.StatusSucceeded || final.Progress != 100 {
		t.Fatalf("unexpected final state: %s at %d (%s)", final.Status, final.Progress, final.ErrorMessage)
	}

	asset, err := st.GetAssetByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetAssetByJob: %v", err)
	}
	if asset.Duration != 6.0 || asset.SampleRate != 48000 || asset.Channels != 2 {
		t.Fatalf("probe not persisted: %#v", asset)
	}
	if asset.ArchivalPath == "" {
		t.Fatal("expected archival path")
	}

	transcript, err := st.GetTranscriptByAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("GetTranscriptByAsset: %v", err)
	}
	if transcript.RawText != "hello there good morning" {
		t.Fatalf("unexpected transcript text: %q", transcript.RawText)
	}

	segments, err := st.ListSegments(ctx, transcript.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].SpeakerID == "" || segments[1].SpeakerID == "" {
		t.Fatalf("expected speaker attribution: %#v", segments)
	}
	if segments[0].SpeakerID == segments[1].SpeakerID {
		t.Fatal("expected distinct speakers per segment")
	}
	if segments[0].OriginalLabel != "SPEAKER_00" {
		t.Fatalf("unexpected original label: %q", segments[0].OriginalLabel)
	}

	text, err := os.ReadFile(filepath.Join(cfg.ArtifactDir(job.ID), "transcript.txt"))
	if err != nil {
		t.Fatalf("read transcript.txt: %v", err)
	}
	if !strings.Contains(string(text), "Speaker A: hello there") {
		t.Fatalf("expected attributed text, got:\n%s", text)
	}
	if !strings.Contains(string(text), "Speaker B: good morning") {
		t.Fatalf("expected second speaker, got:\n%s", text)
	}

	for _, name := range []string{"transcript.json", "transcript.srt", "transcript.vtt", "asr.json", "aligned.json"} {
		if _, err := os.Stat(filepath.Join(cfg.ArtifactDir(job.ID), name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
}

func TestRunDegradesWithoutDiarizationToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	p := newTestPipeline(t, cfg, st)

	ctx := context.Background()
	testsupport.NewJob(t, st, "/media/talk.mp4")
	job := claim(t, st)

	if err := p.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != store.StatusSucceeded || final.Progress != 100 {
		t.Fatalf("expected degraded success, got %s at %d", final.Status, final.Progress)
	}

	asset, _ := st.GetAssetByJob(ctx, job.ID)
	transcript, err := st.GetTranscriptByAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("GetTranscriptByAsset: %v", err)
	}
	segments, err := st.ListSegments(ctx, transcript.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	for _, segment := range segments {
		if segment.SpeakerID != "" {
			t.Fatalf("expected unattributed segments, got %#v", segment)
		}
	}

	speakersList, err := st.ListSpeakers(ctx)
	if err != nil {
		t.Fatalf("ListSpeakers: %v", err)
	}
	if len(speakersList) != 0 {
		t.Fatalf("expected no enrollments, got %d", len(speakersList))
	}

	// Unattributed transcripts carry no speaker prefixes.
	text, err := os.ReadFile(filepath.Join(cfg.ArtifactDir(job.ID), "transcript.txt"))
	if err != nil {
		t.Fatalf("read transcript.txt: %v", err)
	}
	if strings.Contains(string(text), "Unknown:") || strings.Contains(string(text), "Speaker A:") {
		t.Fatalf("unexpected attribution:\n%s", text)
	}

	logData, err := os.ReadFile(final.LogPath)
	if err != nil {
		t.Fatalf("read step log: %v", err)
	}
	if !strings.Contains(string(logData), "stage diarize degraded") {
		t.Fatalf("expected degradation note in step log:\n%s", logData)
	}
}

func TestRunFailsJobOnRecognizerError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	p := newTestPipeline(t, cfg, st)
	p.ASR.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("model download failed")
	})

	ctx := context.Background()
	testsupport.NewJob(t, st, "/media/talk.mp4")
	job := claim(t, st)

	if err := p.Run(ctx, job); err == nil {
		t.Fatal("expected run to fail")
	}

	final, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != store.StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Fatal("expected an error message")
	}
	if final.Progress == 100 {
		t.Fatal("failed job must not reach 100")
	}

	logData, err := os.ReadFile(final.LogPath)
	if err != nil {
		t.Fatalf("read step log: %v", err)
	}
	if !strings.Contains(string(logData), "FAILED asr") {
		t.Fatalf("expected failure line in step log:\n%s", logData)
	}
}

func TestRunStopsWhenJobCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	p := newTestPipeline(t, cfg, st)

	ctx := context.Background()
	testsupport.NewJob(t, st, "/media/talk.mp4")
	job := claim(t, st)

	// Cancel after audio: the recognizer runner flips the job underneath the
	// pipeline, and the next between-stage check must stop the run.
	p.ASR.WithCommandRunner(func(runCtx context.Context, name string, args ...string) error {
		if _, err := st.CancelJob(ctx, job.ID); err != nil {
			return err
		}
		outputDir := argValue(args, "--output_dir")
		return os.WriteFile(filepath.Join(outputDir, "audio.json"), []byte(asrJSON), 0o644)
	})

	err := p.Run(ctx, job)
	if !errors.Is(err, pipeline.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	final, getErr := st.GetJob(ctx, job.ID)
	if getErr != nil {
		t.Fatalf("GetJob: %v", getErr)
	}
	if final.Status != store.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", final.Status)
	}
}

func TestRunReleasesGPULockOnFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	p := newTestPipeline(t, cfg, st)
	p.ASR.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("boom")
	})

	ctx := context.Background()
	testsupport.NewJob(t, st, "/media/a.mp4")
	job := claim(t, st)
	if err := p.Run(ctx, job); err == nil {
		t.Fatal("expected failure")
	}

	// The lease must be free for the next job.
	var leases int
	row := st.DB().QueryRowContext(ctx, `SELECT COUNT(1) FROM resource_leases`)
	if err := row.Scan(&leases); err != nil {
		t.Fatalf("count leases: %v", err)
	}
	if leases != 0 {
		t.Fatalf("expected released lease, found %d rows", leases)
	}
}

func TestRunHonorsPersistedSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	p := newTestPipeline(t, cfg, st)

	ctx := context.Background()
	if err := st.SaveSettings(ctx, store.Settings{WhisperModel: "large-v3"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	var seenModel string
	p.ASR.WithCommandRunner(func(runCtx context.Context, name string, args ...string) error {
		seenModel = argValue(args, "--model")
		outputDir := argValue(args, "--output_dir")
		return os.WriteFile(filepath.Join(outputDir, "audio.json"), []byte(asrJSON), 0o644)
	})

	testsupport.NewJob(t, st, "/media/a.mp4")
	job := claim(t, st)
	if err := p.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenModel != "large-v3" {
		t.Fatalf("expected persisted model override, recognizer saw %q", seenModel)
	}
}
