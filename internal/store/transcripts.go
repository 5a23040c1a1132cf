package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTranscript inserts the transcript row for an asset. Re-running a job
// replaces any prior transcript for the same asset so persistence stays
// idempotent.
func (s *Store) CreateTranscript(ctx context.Context, assetID, rawText string) (*Transcript, error) {
	id := uuid.NewString()
	now := timestamp(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Cascades remove the old transcript's segments and tags.
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE asset_id = ?`, assetID); err != nil {
		return nil, fmt.Errorf("clear prior transcript: %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO transcripts (id, asset_id, raw_text, created_at) VALUES (?, ?, ?, ?)`,
		id,
		assetID,
		rawText,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transcript: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transcript: %w", err)
	}
	return s.GetTranscript(ctx, id)
}

// GetTranscript fetches a transcript by identifier. Returns nil when absent.
func (s *Store) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, asset_id, raw_text, title, summary, created_at FROM transcripts WHERE id = ?`,
		id,
	)
	return scanTranscriptRow(row)
}

// GetTranscriptByAsset fetches the transcript bound to an asset. Returns nil
// when the asset has no transcript yet.
func (s *Store) GetTranscriptByAsset(ctx context.Context, assetID string) (*Transcript, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, asset_id, raw_text, title, summary, created_at FROM transcripts WHERE asset_id = ?`,
		assetID,
	)
	return scanTranscriptRow(row)
}

// UpdateTranscriptMetadata stores the generated title and summary.
func (s *Store) UpdateTranscriptMetadata(ctx context.Context, id, title, summary string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE transcripts SET title = ?, summary = ? WHERE id = ?`,
		nullableString(title),
		nullableString(summary),
		id,
	)
	if err != nil {
		return fmt.Errorf("update transcript metadata: %w", err)
	}
	return nil
}

// ReplaceSegments deletes any existing segments for the transcript and writes
// the new set in one transaction, keyed by transcript, so a retried persist
// can never duplicate rows.
func (s *Store) ReplaceSegments(ctx context.Context, transcriptID string, segments []Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE transcript_id = ?`, transcriptID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO segments (transcript_id, start_time, end_time, text, word_timings_json, speaker_id, original_speaker_label)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, segment := range segments {
		_, err := stmt.ExecContext(
			ctx,
			transcriptID,
			segment.Start,
			segment.End,
			segment.Text,
			nullableString(segment.WordTimingsJSON),
			nullableString(segment.SpeakerID),
			nullableString(segment.OriginalLabel),
		)
		if err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit segments: %w", err)
	}
	return nil
}

// ListSegments returns a transcript's segments ordered by start time.
func (s *Store) ListSegments(ctx context.Context, transcriptID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, transcript_id, start_time, end_time, text, word_timings_json, speaker_id, original_speaker_label
         FROM segments WHERE transcript_id = ? ORDER BY start_time, id`,
		transcriptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var (
			segment       Segment
			wordTimings   sql.NullString
			speakerID     sql.NullString
			originalLabel sql.NullString
		)
		err := rows.Scan(&segment.ID, &segment.TranscriptID, &segment.Start, &segment.End,
			&segment.Text, &wordTimings, &speakerID, &originalLabel)
		if err != nil {
			return nil, err
		}
		segment.WordTimingsJSON = wordTimings.String
		segment.SpeakerID = speakerID.String
		segment.OriginalLabel = originalLabel.String
		segments = append(segments, segment)
	}
	return segments, rows.Err()
}

// ReplaceTags overwrites a transcript's tags with the provided set.
func (s *Store) ReplaceTags(ctx context.Context, transcriptID string, tags []string, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE transcript_id = ?`, transcriptID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO tags (transcript_id, tag, source) VALUES (?, ?, ?)`,
			transcriptID,
			tag,
			source,
		)
		if err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tags: %w", err)
	}
	return nil
}

// ListTags returns a transcript's tags in insertion order.
func (s *Store) ListTags(ctx context.Context, transcriptID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, transcript_id, tag, source FROM tags WHERE transcript_id = ? ORDER BY id`,
		transcriptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.TranscriptID, &tag.Tag, &tag.Source); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func scanTranscriptRow(row *sql.Row) (*Transcript, error) {
	var (
		transcript Transcript
		title      sql.NullString
		summary    sql.NullString
		createdRaw sql.NullString
	)
	err := row.Scan(&transcript.ID, &transcript.AssetID, &transcript.RawText, &title, &summary, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	transcript.Title = title.String
	transcript.Summary = summary.String
	if created, err := parseTimeString(createdRaw.String); err == nil {
		transcript.CreatedAt = created
	}
	return &transcript, nil
}
