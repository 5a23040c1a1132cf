package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpeakerEmbedding pairs an embedding vector with its owning speaker for
// registry matching.
type SpeakerEmbedding struct {
	SpeakerID string
	Vector    []float64
}

// RegistryTx exposes registry reads and writes inside a single write
// transaction so match-then-enroll is atomic across concurrent jobs.
type RegistryTx struct {
	conn *sql.Conn
	ctx  context.Context
}

// WithRegistry runs fn inside a BEGIN IMMEDIATE transaction. The immediate
// lock serializes concurrent resolutions: the full read-match-write cycle of
// one job completes before another job's cycle starts, so two jobs cannot
// both enroll a new speaker for the same voice.
func (s *Store) WithRegistry(ctx context.Context, fn func(*RegistryTx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("registry conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin registry tx: %w", err)
	}

	if err := fn(&RegistryTx{conn: conn, ctx: ctx}); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit registry tx: %w", err)
	}
	return nil
}

// ListEmbeddings returns every stored embedding with its owning speaker.
func (r *RegistryTx) ListEmbeddings() ([]SpeakerEmbedding, error) {
	rows, err := r.conn.QueryContext(r.ctx,
		`SELECT speaker_id, vector_json FROM embeddings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []SpeakerEmbedding
	for rows.Next() {
		var (
			speakerID  string
			vectorJSON string
		)
		if err := rows.Scan(&speakerID, &vectorJSON); err != nil {
			return nil, err
		}
		var vector []float64
		if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
			return nil, fmt.Errorf("decode embedding for speaker %s: %w", speakerID, err)
		}
		embeddings = append(embeddings, SpeakerEmbedding{SpeakerID: speakerID, Vector: vector})
	}
	return embeddings, rows.Err()
}

// CreateSpeaker enrolls a new speaker and returns its identifier.
func (r *RegistryTx) CreateSpeaker(name, originalLabel string) (string, error) {
	id := uuid.NewString()
	_, err := r.conn.ExecContext(r.ctx,
		`INSERT INTO speakers (id, name, is_trusted, original_label, created_at) VALUES (?, ?, 0, ?, ?)`,
		id,
		name,
		nullableString(originalLabel),
		timestamp(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("create speaker: %w", err)
	}
	return id, nil
}

// AddEmbedding appends a vector to a speaker. Vectors accumulate; nothing is
// replaced.
func (r *RegistryTx) AddEmbedding(speakerID string, vector []float64) error {
	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = r.conn.ExecContext(r.ctx,
		`INSERT INTO embeddings (speaker_id, vector_json, created_at) VALUES (?, ?, ?)`,
		speakerID,
		string(encoded),
		timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add embedding: %w", err)
	}
	return nil
}

// RaiseConfidence bumps a speaker's match confidence, keeping the maximum of
// the stored and observed values.
func (r *RegistryTx) RaiseConfidence(speakerID string, confidence float64) error {
	_, err := r.conn.ExecContext(r.ctx,
		`UPDATE speakers SET match_confidence = MAX(COALESCE(match_confidence, 0), ?) WHERE id = ?`,
		confidence,
		speakerID,
	)
	if err != nil {
		return fmt.Errorf("raise confidence: %w", err)
	}
	return nil
}

// GetSpeaker fetches a speaker by identifier. Returns nil when absent.
func (s *Store) GetSpeaker(ctx context.Context, id string) (*Speaker, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+speakerColumns+` FROM speakers WHERE id = ?`,
		id,
	)
	speaker, err := scanSpeaker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get speaker: %w", err)
	}
	return speaker, nil
}

// ListSpeakers returns all speakers ordered by creation time.
func (s *Store) ListSpeakers(ctx context.Context) ([]*Speaker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+speakerColumns+` FROM speakers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list speakers: %w", err)
	}
	defer rows.Close()

	var speakers []*Speaker
	for rows.Next() {
		speaker, err := scanSpeaker(rows)
		if err != nil {
			return nil, err
		}
		speakers = append(speakers, speaker)
	}
	return speakers, rows.Err()
}

// RenameSpeaker sets the display name and marks the speaker as trusted, since
// a human-assigned name outranks auto-generated ones.
func (s *Store) RenameSpeaker(ctx context.Context, id, name string) error {
	if name == "" {
		return errors.New("speaker name is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE speakers SET name = ?, is_trusted = 1 WHERE id = ?`,
		name,
		id,
	)
	if err != nil {
		return fmt.Errorf("rename speaker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("speaker %s not found", id)
	}
	return nil
}

// MergeSpeakers folds the source speaker into the target: embeddings and
// segment assignments move over, the surviving confidence is the maximum of
// the two (absent when neither has one), and the original label of whichever
// speaker was created first survives. The target keeps its name; the source
// row is deleted.
func (s *Store) MergeSpeakers(ctx context.Context, targetID, sourceID string) error {
	if targetID == sourceID {
		return errors.New("cannot merge a speaker into itself")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	type mergeRow struct {
		originalLabel sql.NullString
		confidence    sql.NullFloat64
		createdRaw    string
	}
	read := func(id string) (mergeRow, error) {
		var row mergeRow
		err := tx.QueryRowContext(ctx,
			`SELECT original_label, match_confidence, created_at FROM speakers WHERE id = ?`, id).
			Scan(&row.originalLabel, &row.confidence, &row.createdRaw)
		if errors.Is(err, sql.ErrNoRows) {
			return row, fmt.Errorf("speaker %s not found", id)
		}
		if err != nil {
			return row, fmt.Errorf("read speaker: %w", err)
		}
		return row, nil
	}
	target, err := read(targetID)
	if err != nil {
		return err
	}
	source, err := read(sourceID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE embeddings SET speaker_id = ? WHERE speaker_id = ?`, targetID, sourceID); err != nil {
		return fmt.Errorf("move embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE segments SET speaker_id = ? WHERE speaker_id = ?`, targetID, sourceID); err != nil {
		return fmt.Errorf("move segments: %w", err)
	}

	// Max of the confidences actually present; two NULLs stay NULL rather
	// than collapsing to 0.
	confidence := target.confidence
	if source.confidence.Valid && (!confidence.Valid || source.confidence.Float64 > confidence.Float64) {
		confidence = source.confidence
	}
	originalLabel := target.originalLabel
	if source.originalLabel.Valid && createdBefore(source.createdRaw, target.createdRaw) {
		originalLabel = source.originalLabel
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE speakers SET match_confidence = ?, original_label = ? WHERE id = ?`,
		confidence, originalLabel, targetID); err != nil {
		return fmt.Errorf("merge speaker fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM speakers WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source speaker: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// createdBefore reports whether timestamp a predates b. Unparseable
// timestamps count as not-older.
func createdBefore(a, b string) bool {
	at, err := parseTimeString(a)
	if err != nil {
		return false
	}
	bt, err := parseTimeString(b)
	if err != nil {
		return false
	}
	return at.Before(bt)
}

const speakerColumns = "id, name, is_trusted, original_label, match_confidence, created_at"

func scanSpeaker(scanner interface{ Scan(dest ...any) error }) (*Speaker, error) {
	var (
		speaker       Speaker
		trusted       int
		originalLabel sql.NullString
		confidence    sql.NullFloat64
		createdRaw    sql.NullString
	)
	if err := scanner.Scan(&speaker.ID, &speaker.Name, &trusted, &originalLabel, &confidence, &createdRaw); err != nil {
		return nil, err
	}
	speaker.Trusted = trusted != 0
	speaker.OriginalLabel = originalLabel.String
	if confidence.Valid {
		value := confidence.Float64
		speaker.MatchConfidence = &value
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		speaker.CreatedAt = created
	}
	return &speaker, nil
}
