package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a transcription job.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further mutation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one transcription request persisted in SQLite.
type Job struct {
	ID           string
	Status       Status
	Progress     int
	ParamsJSON   string
	ErrorMessage string
	LogPath      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Asset is the media source bound to exactly one job. Duration, sample rate,
// channel count, and archival path are written once by audio preprocessing.
type Asset struct {
	ID               string
	JobID            string
	SourcePath       string
	OriginalFilename string
	Duration         float64
	SampleRate       int
	Channels         int
	ArchivalPath     string
	CreatedAt        time.Time
}

// Transcript holds the full text for one asset and parents its segments.
type Transcript struct {
	ID        string
	AssetID   string
	RawText   string
	Title     string
	Summary   string
	CreatedAt time.Time
}

// Segment is one time-bounded span of transcript text. SpeakerID is nullable;
// OriginalLabel preserves the diarization-local label for audit.
type Segment struct {
	ID              int64
	TranscriptID    string
	Start           float64
	End             float64
	Text            string
	WordTimingsJSON string
	SpeakerID       string
	OriginalLabel   string
}

// Tag is a transcript tag with a provenance marker.
type Tag struct {
	ID           int64
	TranscriptID string
	Tag          string
	Source       string
}

// Speaker is a durable cross-job identity. MatchConfidence is the running
// best cosine similarity observed at assignment time; nil until the speaker
// has ever matched an existing embedding.
type Speaker struct {
	ID              string
	Name            string
	Trusted         bool
	OriginalLabel   string
	MatchConfidence *float64
	CreatedAt       time.Time
}

// Embedding is one fixed-dimension voice vector owned by a speaker. Vectors
// accumulate over time; matching always scans the full set.
type Embedding struct {
	ID        int64
	SpeakerID string
	Vector    []float64
	CreatedAt time.Time
}

// Settings is the single-row engine configuration consulted at job setup.
type Settings struct {
	WhisperModel   string
	ComputeType    string
	HFToken        string
	MatchThreshold float64
	MinTurnSeconds float64
	UpdatedAt      time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}
