package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSettings returns the single engine settings row, or nil when none has
// been saved yet.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT whisper_model, compute_type, hf_token, match_threshold, min_turn_seconds, updated_at
         FROM settings WHERE id = 1`,
	)
	var (
		settings       Settings
		whisperModel   sql.NullString
		computeType    sql.NullString
		hfToken        sql.NullString
		matchThreshold sql.NullFloat64
		minTurnSeconds sql.NullFloat64
		updatedRaw     sql.NullString
	)
	err := row.Scan(&whisperModel, &computeType, &hfToken, &matchThreshold, &minTurnSeconds, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	settings.WhisperModel = whisperModel.String
	settings.ComputeType = computeType.String
	settings.HFToken = hfToken.String
	settings.MatchThreshold = matchThreshold.Float64
	settings.MinTurnSeconds = minTurnSeconds.Float64
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		settings.UpdatedAt = updated
	}
	return &settings, nil
}

// SaveSettings upserts the single settings row.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO settings (id, whisper_model, compute_type, hf_token, match_threshold, min_turn_seconds, updated_at)
         VALUES (1, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
            whisper_model = excluded.whisper_model,
            compute_type = excluded.compute_type,
            hf_token = excluded.hf_token,
            match_threshold = excluded.match_threshold,
            min_turn_seconds = excluded.min_turn_seconds,
            updated_at = excluded.updated_at`,
		nullableString(settings.WhisperModel),
		nullableString(settings.ComputeType),
		nullableString(settings.HFToken),
		settings.MatchThreshold,
		settings.MinTurnSeconds,
		timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
