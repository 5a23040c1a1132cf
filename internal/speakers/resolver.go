// Package speakers resolves diarization-local labels to durable speaker
// identities. Labels such as SPEAKER_00 reset every recording; the resolver
// matches each turn's voice embedding against the registry and binds the
// turn's label to an existing speaker or enrolls a new one.
package speakers

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/Zipties/voicestack2/internal/embed"
	"github.com/Zipties/voicestack2/internal/logging"
	"github.com/Zipties/voicestack2/internal/store"
)

// Resolution maps diarization labels to registry identities for one
// recording.
type Resolution struct {
	// SpeakerIDs maps label to registry speaker id.
	SpeakerIDs map[string]string
	// Confidence maps label to the cosine similarity that decided the
	// binding; enrolled labels carry 0.
	Confidence map[string]float64
	// Enrolled lists labels that created a new speaker this run.
	Enrolled []string
}

// Resolver matches turn embeddings against the speaker registry.
type Resolver struct {
	store          *store.Store
	threshold      float64
	minTurnSeconds float64
	logger         *slog.Logger
}

// NewResolver builds a resolver. threshold is the minimum cosine similarity
// for a match; turns shorter than minTurnSeconds are ignored as too thin to
// identify.
func NewResolver(st *store.Store, threshold, minTurnSeconds float64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		store:          st,
		threshold:      threshold,
		minTurnSeconds: minTurnSeconds,
		logger:         logger,
	}
}

// Resolve binds each eligible turn's label to a speaker. Turns are matched
// one at a time in recording order; a label spoken across several turns keeps
// the binding of its last matched turn, and every eligible turn's vector
// accumulates on the speaker it landed on. The whole read-match-write cycle
// runs in one write transaction, so two concurrent jobs cannot both enroll a
// new speaker for the same voice.
func (r *Resolver) Resolve(ctx context.Context, embeddings []embed.TurnEmbedding) (Resolution, error) {
	resolution := Resolution{
		SpeakerIDs: make(map[string]string),
		Confidence: make(map[string]float64),
	}

	eligible := eligibleTurns(embeddings, r.minTurnSeconds)
	if len(eligible) == 0 {
		return resolution, nil
	}

	err := r.store.WithRegistry(ctx, func(tx *store.RegistryTx) error {
		known, err := tx.ListEmbeddings()
		if err != nil {
			return err
		}

		enrolled := make(map[string]bool)
		for _, turn := range eligible {
			speakerID, similarity := bestMatch(turn.Vector, known)

			if speakerID != "" && similarity >= r.threshold {
				if err := tx.RaiseConfidence(speakerID, similarity); err != nil {
					return err
				}
				resolution.SpeakerIDs[turn.Speaker] = speakerID
				resolution.Confidence[turn.Speaker] = similarity
				r.logger.Info("matched speaker",
					logging.String("label", turn.Speaker),
					logging.String("speaker_id", speakerID),
					logging.Float64("similarity", similarity),
				)
			} else {
				name := NameForLabel(turn.Speaker)
				speakerID, err = tx.CreateSpeaker(name, turn.Speaker)
				if err != nil {
					return err
				}
				resolution.SpeakerIDs[turn.Speaker] = speakerID
				resolution.Confidence[turn.Speaker] = 0
				if !enrolled[turn.Speaker] {
					enrolled[turn.Speaker] = true
					resolution.Enrolled = append(resolution.Enrolled, turn.Speaker)
				}
				r.logger.Info("enrolled speaker",
					logging.String("label", turn.Speaker),
					logging.String("speaker_id", speakerID),
					logging.String("name", name),
				)
			}

			if err := tx.AddEmbedding(speakerID, turn.Vector); err != nil {
				return err
			}
			// Later turns in the same run must see this vector too, or two
			// in-recording voices could both enroll against a stale view.
			known = append(known, store.SpeakerEmbedding{SpeakerID: speakerID, Vector: turn.Vector})
		}
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}
	return resolution, nil
}

// eligibleTurns drops turns that have no vector or run shorter than the
// minimum, and orders the rest chronologically so enrollment is
// deterministic. A label whose every turn is too short never reaches the
// registry, regardless of its total speech.
func eligibleTurns(embeddings []embed.TurnEmbedding, minTurnSeconds float64) []embed.TurnEmbedding {
	var eligible []embed.TurnEmbedding
	for _, turn := range embeddings {
		if len(turn.Vector) == 0 {
			continue
		}
		if turn.Duration() < minTurnSeconds {
			continue
		}
		eligible = append(eligible, turn)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Start != eligible[j].Start {
			return eligible[i].Start < eligible[j].Start
		}
		return eligible[i].Speaker < eligible[j].Speaker
	})
	return eligible
}

// bestMatch scans every registry embedding and returns the owning speaker of
// the closest one.
func bestMatch(vector []float64, known []store.SpeakerEmbedding) (string, float64) {
	var (
		bestID         string
		bestSimilarity float64
	)
	for _, candidate := range known {
		similarity := Cosine(vector, candidate.Vector)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			bestID = candidate.SpeakerID
		}
	}
	return bestID, bestSimilarity
}

// NameForLabel derives the auto-assigned display name from a diarization
// label: SPEAKER_00 becomes "Speaker A", SPEAKER_01 "Speaker B". Labels
// outside that scheme are used verbatim as the name.
func NameForLabel(label string) string {
	if suffix, ok := strings.CutPrefix(label, "SPEAKER_"); ok {
		if n, err := strconv.Atoi(suffix); err == nil && n >= 0 {
			return DisplayName(n)
		}
	}
	return label
}

// DisplayName maps a zero-based speaker index to its display name:
// Speaker A, Speaker B, ... Speaker Z, Speaker AA, and so on.
func DisplayName(n int) string {
	letters := ""
	n++
	for n > 0 {
		n--
		letters = string(rune('A'+n%26)) + letters
		n /= 26
	}
	return "Speaker " + letters
}
