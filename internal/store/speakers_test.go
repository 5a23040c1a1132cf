package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/Zipties/voicestack2/internal/store"
	"github.com/Zipties/voicestack2/internal/testsupport"
)

func TestRegistryEnrollAndMatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var speakerID string
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		existing, err := tx.ListEmbeddings()
		if err != nil {
			return err
		}
		if len(existing) != 0 {
			t.Fatalf("expected empty registry, got %d embeddings", len(existing))
		}
		speakerID, err = tx.CreateSpeaker("Speaker A", "SPEAKER_00")
		if err != nil {
			return err
		}
		return tx.AddEmbedding(speakerID, []float64{0.1, 0.2, 0.3})
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	err = st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		embeddings, err := tx.ListEmbeddings()
		if err != nil {
			return err
		}
		if len(embeddings) != 1 {
			t.Fatalf("expected 1 embedding, got %d", len(embeddings))
		}
		if embeddings[0].SpeakerID != speakerID {
			t.Fatalf("embedding owned by %s, want %s", embeddings[0].SpeakerID, speakerID)
		}
		if len(embeddings[0].Vector) != 3 || embeddings[0].Vector[1] != 0.2 {
			t.Fatalf("unexpected vector: %v", embeddings[0].Vector)
		}
		return tx.RaiseConfidence(speakerID, 0.71)
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	speaker, err := st.GetSpeaker(ctx, speakerID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	if speaker == nil || speaker.Name != "Speaker A" {
		t.Fatalf("unexpected speaker: %#v", speaker)
	}
	if speaker.MatchConfidence == nil || *speaker.MatchConfidence != 0.71 {
		t.Fatalf("unexpected confidence: %#v", speaker.MatchConfidence)
	}
}

func TestRaiseConfidenceKeepsMaximum(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var speakerID string
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		var err error
		speakerID, err = tx.CreateSpeaker("Speaker A", "SPEAKER_00")
		if err != nil {
			return err
		}
		if err := tx.RaiseConfidence(speakerID, 0.8); err != nil {
			return err
		}
		// A weaker later match must not lower the stored value.
		return tx.RaiseConfidence(speakerID, 0.4)
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	speaker, err := st.GetSpeaker(ctx, speakerID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	if speaker.MatchConfidence == nil || *speaker.MatchConfidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %#v", speaker.MatchConfidence)
	}
}

func TestRegistryRollbackOnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	wantErr := context.Canceled
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		if _, err := tx.CreateSpeaker("Phantom", "SPEAKER_09"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected callback error, got %v", err)
	}

	speakers, err := st.ListSpeakers(ctx)
	if err != nil {
		t.Fatalf("ListSpeakers: %v", err)
	}
	if len(speakers) != 0 {
		t.Fatalf("expected rollback to drop speaker, got %#v", speakers)
	}
}

func TestRenameSpeakerMarksTrusted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var speakerID string
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		var err error
		speakerID, err = tx.CreateSpeaker("Speaker A", "SPEAKER_00")
		return err
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	if err := st.RenameSpeaker(ctx, speakerID, "Alice Example"); err != nil {
		t.Fatalf("RenameSpeaker: %v", err)
	}
	speaker, err := st.GetSpeaker(ctx, speakerID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	if speaker.Name != "Alice Example" || !speaker.Trusted {
		t.Fatalf("unexpected speaker after rename: %#v", speaker)
	}

	if err := st.RenameSpeaker(ctx, "missing", "Nobody"); err == nil {
		t.Fatal("expected error renaming unknown speaker")
	}
}

func TestMergeSpeakers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var targetID, sourceID string
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		var err error
		targetID, err = tx.CreateSpeaker("Speaker A", "SPEAKER_00")
		if err != nil {
			return err
		}
		if err := tx.AddEmbedding(targetID, []float64{1, 0}); err != nil {
			return err
		}
		if err := tx.RaiseConfidence(targetID, 0.5); err != nil {
			return err
		}
		sourceID, err = tx.CreateSpeaker("Speaker B", "SPEAKER_01")
		if err != nil {
			return err
		}
		if err := tx.AddEmbedding(sourceID, []float64{0, 1}); err != nil {
			return err
		}
		return tx.RaiseConfidence(sourceID, 0.9)
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	job := testsupport.NewJob(t, st, "/media/a.wav")
	asset, err := st.GetAssetByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetAssetByJob: %v", err)
	}
	transcript, err := st.CreateTranscript(ctx, asset.ID, "text")
	if err != nil {
		t.Fatalf("CreateTranscript: %v", err)
	}
	segments := []store.Segment{
		{Start: 0, End: 1, Text: "one", SpeakerID: sourceID},
		{Start: 1, End: 2, Text: "two", SpeakerID: targetID},
	}
	if err := st.ReplaceSegments(ctx, transcript.ID, segments); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	if err := st.MergeSpeakers(ctx, targetID, sourceID); err != nil {
		t.Fatalf("MergeSpeakers: %v", err)
	}

	if missing, err := st.GetSpeaker(ctx, sourceID); err != nil || missing != nil {
		t.Fatalf("expected source speaker deleted, got %#v err %v", missing, err)
	}
	target, err := st.GetSpeaker(ctx, targetID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	if target.MatchConfidence == nil || *target.MatchConfidence != 0.9 {
		t.Fatalf("expected merged confidence 0.9, got %#v", target.MatchConfidence)
	}
	// The target was created first, so its own first-observation label stays.
	if target.OriginalLabel != "SPEAKER_00" {
		t.Fatalf("expected original label SPEAKER_00, got %q", target.OriginalLabel)
	}

	stored, err := st.ListSegments(ctx, transcript.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	for _, segment := range stored {
		if segment.SpeakerID != targetID {
			t.Fatalf("segment still owned by %s", segment.SpeakerID)
		}
	}

	err = st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		embeddings, err := tx.ListEmbeddings()
		if err != nil {
			return err
		}
		if len(embeddings) != 2 {
			t.Fatalf("expected 2 embeddings after merge, got %d", len(embeddings))
		}
		for _, embedding := range embeddings {
			if embedding.SpeakerID != targetID {
				t.Fatalf("embedding still owned by %s", embedding.SpeakerID)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	if err := st.MergeSpeakers(ctx, targetID, targetID); err == nil {
		t.Fatal("expected self-merge to fail")
	}
}

func TestMergeSpeakersKeepsOlderLabelAndNullConfidence(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var sourceID, targetID string
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		var err error
		sourceID, err = tx.CreateSpeaker("Speaker A", "SPEAKER_00")
		if err != nil {
			return err
		}
		// Distinct created_at so the source is unambiguously older.
		time.Sleep(5 * time.Millisecond)
		targetID, err = tx.CreateSpeaker("Speaker B", "SPEAKER_01")
		return err
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	if err := st.MergeSpeakers(ctx, targetID, sourceID); err != nil {
		t.Fatalf("MergeSpeakers: %v", err)
	}

	target, err := st.GetSpeaker(ctx, targetID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	// The merged identity was first observed as the older speaker's label.
	if target.OriginalLabel != "SPEAKER_00" {
		t.Fatalf("expected original label SPEAKER_00, got %q", target.OriginalLabel)
	}
	// Neither speaker ever matched, so the merge must not invent a score.
	if target.MatchConfidence != nil {
		t.Fatalf("expected no confidence after merge, got %#v", target.MatchConfidence)
	}
}
