package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetAssetByJob fetches the asset bound to a job. Returns nil when absent.
func (s *Store) GetAssetByJob(ctx context.Context, jobID string) (*Asset, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, job_id, source_path, original_filename, duration, sample_rate, channels, archival_path, created_at
         FROM assets WHERE job_id = ?`,
		jobID,
	)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// UpdateAssetProbe records the media properties discovered during audio
// preprocessing.
func (s *Store) UpdateAssetProbe(ctx context.Context, assetID string, duration float64, sampleRate, channels int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE assets SET duration = ?, sample_rate = ?, channels = ? WHERE id = ?`,
		duration,
		sampleRate,
		channels,
		assetID,
	)
	if err != nil {
		return fmt.Errorf("update asset probe: %w", err)
	}
	return nil
}

// SetAssetArchivalPath records where the compressed archival copy landed.
func (s *Store) SetAssetArchivalPath(ctx context.Context, assetID, archivalPath string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE assets SET archival_path = ? WHERE id = ?`,
		nullableString(archivalPath),
		assetID,
	)
	if err != nil {
		return fmt.Errorf("set archival path: %w", err)
	}
	return nil
}

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*Asset, error) {
	var (
		id           string
		jobID        string
		sourcePath   string
		origFilename sql.NullString
		duration     sql.NullFloat64
		sampleRate   sql.NullInt64
		channels     sql.NullInt64
		archivalPath sql.NullString
		createdRaw   sql.NullString
	)
	if err := scanner.Scan(&id, &jobID, &sourcePath, &origFilename, &duration, &sampleRate, &channels, &archivalPath, &createdRaw); err != nil {
		return nil, err
	}

	asset := &Asset{
		ID:               id,
		JobID:            jobID,
		SourcePath:       sourcePath,
		OriginalFilename: origFilename.String,
		Duration:         duration.Float64,
		SampleRate:       int(sampleRate.Int64),
		Channels:         int(channels.Int64),
		ArchivalPath:     archivalPath.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		asset.CreatedAt = created
	}
	return asset, nil
}
