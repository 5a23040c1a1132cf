package asr_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Zipties/voicestack2/internal/asr"
)

func TestTranscribeDecodesRecognizerOutput(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "audio.wav")

	svc := asr.NewService(asr.Config{Model: "large-v3"})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		payload := `{
            "language": "en",
            "segments": [
                {"start": 0.0, "end": 1.2, "text": " hello there ", "words": [
                    {"word": "hello", "start": 0.0, "end": 0.5},
                    {"word": "there", "start": 0.6, "end": 1.2}
                ]},
                {"start": 1.3, "end": 2.0, "text": "general"}
            ]
        }`
		return os.WriteFile(filepath.Join(dir, "audio.json"), []byte(payload), 0o644)
	})

	result, err := svc.Transcribe(context.Background(), wavPath, dir, "en-US")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Language != "en" {
		t.Fatalf("unexpected language: %q", result.Language)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
	if len(result.Segments[0].Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(result.Segments[0].Words))
	}
	if got := result.Text(); got != "hello there general" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestTranscribePassesLanguageHint(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "audio.wav")

	var captured []string
	svc := asr.NewService(asr.Config{})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		captured = args
		return os.WriteFile(filepath.Join(dir, "audio.json"), []byte(`{"segments": []}`), 0o644)
	})

	if _, err := svc.Transcribe(context.Background(), wavPath, dir, "de-DE"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	found := false
	for i, arg := range captured {
		if arg == "--language" && i+1 < len(captured) && captured[i+1] == "de" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected --language de in args, got %v", captured)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		hint string
		want string
	}{
		{"en", "en"},
		{"en-US", "en"},
		{"deu", "de"},
		{"", ""},
		{"not-a-language!!", ""},
	}
	for _, tc := range cases {
		if got := asr.NormalizeLanguage(tc.hint); got != tc.want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", tc.hint, got, tc.want)
		}
	}
}

func TestTranscribeRequiresAudioPath(t *testing.T) {
	svc := asr.NewService(asr.Config{})
	if _, err := svc.Transcribe(context.Background(), "", "", ""); err == nil {
		t.Fatal("expected error for missing audio path")
	}
}
