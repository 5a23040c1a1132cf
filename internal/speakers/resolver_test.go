package speakers_test

import (
	"context"
	"testing"

	"github.com/Zipties/voicestack2/internal/embed"
	"github.com/Zipties/voicestack2/internal/speakers"
	"github.com/Zipties/voicestack2/internal/store"
	"github.com/Zipties/voicestack2/internal/testsupport"
)

func turn(label string, start, end float64, vector ...float64) embed.TurnEmbedding {
	return embed.TurnEmbedding{Speaker: label, Start: start, End: end, Vector: vector}
}

func TestResolveEnrollsNewSpeakers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := speakers.NewResolver(st, 0.3, 0.5, nil)

	ctx := context.Background()
	resolution, err := resolver.Resolve(ctx, []embed.TurnEmbedding{
		turn("SPEAKER_00", 0, 3, 1, 0, 0),
		turn("SPEAKER_01", 3, 6, 0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolution.SpeakerIDs) != 2 {
		t.Fatalf("expected 2 bindings, got %#v", resolution.SpeakerIDs)
	}
	if len(resolution.Enrolled) != 2 {
		t.Fatalf("expected 2 enrollments, got %#v", resolution.Enrolled)
	}

	all, err := st.ListSpeakers(ctx)
	if err != nil {
		t.Fatalf("ListSpeakers: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 speakers, got %d", len(all))
	}
	if all[0].Name != "Speaker A" || all[1].Name != "Speaker B" {
		t.Fatalf("unexpected names: %q, %q", all[0].Name, all[1].Name)
	}
}

func TestResolveNamesFollowLabelNotRegistrySize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := speakers.NewResolver(st, 0.3, 0.5, nil)

	// Seed the registry with an unrelated voice.
	ctx := context.Background()
	var seededID string
	err := st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		var err error
		seededID, err = tx.CreateSpeaker("Speaker A", "SPEAKER_00")
		if err != nil {
			return err
		}
		return tx.AddEmbedding(seededID, []float64{0, 0, 1})
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}

	// A non-matching SPEAKER_00 in a later recording still enrolls as
	// "Speaker A": the name comes from the label, not from how many speakers
	// the registry already holds.
	resolution, err := resolver.Resolve(ctx, []embed.TurnEmbedding{
		turn("SPEAKER_00", 0, 3, 1, 0, 0),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	newID := resolution.SpeakerIDs["SPEAKER_00"]
	if newID == "" || newID == seededID {
		t.Fatalf("expected a fresh enrollment, got %q", newID)
	}
	enrolled, err := st.GetSpeaker(ctx, newID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	if enrolled.Name != "Speaker A" {
		t.Fatalf("expected label-derived name Speaker A, got %q", enrolled.Name)
	}
}

func TestResolveMatchesReturningSpeaker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := speakers.NewResolver(st, 0.3, 0.5, nil)

	ctx := context.Background()
	first, err := resolver.Resolve(ctx, []embed.TurnEmbedding{
		turn("SPEAKER_00", 0, 3, 1, 0, 0),
	})
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	firstID := first.SpeakerIDs["SPEAKER_00"]

	// Same voice, slightly drifted embedding, new recording.
	second, err := resolver.Resolve(ctx, []embed.TurnEmbedding{
		turn("SPEAKER_00", 0, 4, 0.95, 0.05, 0),
	})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.SpeakerIDs["SPEAKER_00"] != firstID {
		t.Fatalf("expected rebinding to %s, got %s", firstID, second.SpeakerIDs["SPEAKER_00"])
	}
	if len(second.Enrolled) != 0 {
		t.Fatalf("expected no new enrollment, got %#v", second.Enrolled)
	}
	if second.Confidence["SPEAKER_00"] < 0.3 {
		t.Fatalf("expected confidence above threshold, got %v", second.Confidence["SPEAKER_00"])
	}

	speaker, err := st.GetSpeaker(ctx, firstID)
	if err != nil {
		t.Fatalf("GetSpeaker: %v", err)
	}
	if speaker.MatchConfidence == nil || *speaker.MatchConfidence < 0.3 {
		t.Fatalf("expected recorded confidence, got %#v", speaker.MatchConfidence)
	}
}

func TestResolveDistinguishesWithinOneRecording(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := speakers.NewResolver(st, 0.3, 0.5, nil)

	// Two orthogonal voices in the same recording must become two speakers,
	// not collapse into one.
	resolution, err := resolver.Resolve(context.Background(), []embed.TurnEmbedding{
		turn("SPEAKER_00", 0, 3, 1, 0, 0),
		turn("SPEAKER_01", 3, 6, 0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolution.SpeakerIDs["SPEAKER_00"] == resolution.SpeakerIDs["SPEAKER_01"] {
		t.Fatal("expected distinct speakers for orthogonal voices")
	}
}

func TestResolveAccumulatesOneEmbeddingPerTurn(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := speakers.NewResolver(st, 0.3, 0.5, nil)

	ctx := context.Background()
	resolution, err := resolver.Resolve(ctx, []embed.TurnEmbedding{
		turn("SPEAKER_00", 0, 3, 1, 0, 0),
		turn("SPEAKER_00", 5, 9, 0.95, 0.05, 0),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolution.Enrolled) != 1 {
		t.Fatalf("expected one enrollment for the label, got %#v", resolution.Enrolled)
	}
	boundID := resolution.SpeakerIDs["SPEAKER_00"]

	// The second turn matches the first turn's fresh enrollment, so both
	// vectors end up on one speaker.
	err = st.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		embeddings, err := tx.ListEmbeddings()
		if err != nil {
			return err
		}
		if len(embeddings) != 2 {
			t.Fatalf("expected 2 embeddings, got %d", len(embeddings))
		}
		for _, embedding := range embeddings {
			if embedding.SpeakerID != boundID {
				t.Fatalf("embedding owned by %s, want %s", embedding.SpeakerID, boundID)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRegistry: %v", err)
	}
}

func TestResolveSkipsShortAndEmptyTurns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := speakers.NewResolver(st, 0.3, 0.5, nil)

	resolution, err := resolver.Resolve(context.Background(), []embed.TurnEmbedding{
		// SPEAKER_00 totals 0.8s but no single turn reaches the minimum.
		turn("SPEAKER_00", 0, 0.3, 1, 0, 0),
		turn("SPEAKER_00", 0.5, 1.0, 1, 0, 0),
		turn("SPEAKER_01", 1, 4, 0, 1, 0),
		turn("SPEAKER_02", 4, 6),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := resolution.SpeakerIDs["SPEAKER_00"]; ok {
		t.Fatal("expected label with only short turns to be skipped")
	}
	if _, ok := resolution.SpeakerIDs["SPEAKER_02"]; ok {
		t.Fatal("expected empty embedding to be skipped")
	}
	if _, ok := resolution.SpeakerIDs["SPEAKER_01"]; !ok {
		t.Fatal("expected eligible turn to resolve")
	}
}

func TestNameForLabel(t *testing.T) {
	cases := []struct {
		label string
		want  string
	}{
		{"SPEAKER_00", "Speaker A"},
		{"SPEAKER_01", "Speaker B"},
		{"SPEAKER_07", "Speaker H"},
		{"SPEAKER_27", "Speaker AB"},
		{"SPEAKER_XX", "SPEAKER_XX"},
		{"narrator", "narrator"},
	}
	for _, tc := range cases {
		if got := speakers.NameForLabel(tc.label); got != tc.want {
			t.Errorf("NameForLabel(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "Speaker A"},
		{1, "Speaker B"},
		{25, "Speaker Z"},
		{26, "Speaker AA"},
		{27, "Speaker AB"},
	}
	for _, tc := range cases {
		if got := speakers.DisplayName(tc.n); got != tc.want {
			t.Errorf("DisplayName(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestCosine(t *testing.T) {
	if got := speakers.Cosine([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Fatalf("identical vectors: got %v", got)
	}
	if got := speakers.Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: got %v", got)
	}
	if got := speakers.Cosine([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Fatalf("zero vector: got %v", got)
	}
	if got := speakers.Cosine([]float64{1, 0}, []float64{1}); got != 0 {
		t.Fatalf("mismatched dimensions: got %v", got)
	}
}
