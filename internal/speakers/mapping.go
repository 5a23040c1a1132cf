package speakers

import (
	"github.com/Zipties/voicestack2/internal/asr"
	"github.com/Zipties/voicestack2/internal/diarize"
)

// UnknownSpeaker is the attribution for segments whose words fell outside
// every diarization turn.
const UnknownSpeaker = "Unknown"

// AttributedWord is a word bound to the diarization label whose turn contains
// it. Label is empty when no turn covers the word.
type AttributedWord struct {
	asr.Word
	Label string `json:"speaker,omitempty"`
}

// MapWordsToTurns attributes each word to the turn containing its temporal
// midpoint. A word between turns, or in silence, gets no label.
func MapWordsToTurns(words []asr.Word, turns []diarize.Turn) []AttributedWord {
	attributed := make([]AttributedWord, 0, len(words))
	for _, word := range words {
		midpoint := (word.Start + word.End) / 2
		label := ""
		for _, turn := range turns {
			if midpoint >= turn.Start && midpoint < turn.End {
				label = turn.Speaker
				break
			}
		}
		attributed = append(attributed, AttributedWord{Word: word, Label: label})
	}
	return attributed
}

// SegmentLabel picks a segment's diarization label by majority vote over its
// words. Ties break toward the label that reached the winning count first in
// word order; a segment with no labeled words is Unknown.
func SegmentLabel(words []AttributedWord) string {
	counts := make(map[string]int)
	winner := ""
	best := 0
	for _, word := range words {
		if word.Label == "" {
			continue
		}
		counts[word.Label]++
		if counts[word.Label] > best {
			best = counts[word.Label]
			winner = word.Label
		}
	}
	if winner == "" {
		return UnknownSpeaker
	}
	return winner
}

// WordsInSpan returns the attributed words whose midpoints fall inside
// [start, end).
func WordsInSpan(words []AttributedWord, start, end float64) []AttributedWord {
	var inSpan []AttributedWord
	for _, word := range words {
		midpoint := (word.Start + word.End) / 2
		if midpoint >= start && midpoint < end {
			inSpan = append(inSpan, word)
		}
	}
	return inSpan
}
