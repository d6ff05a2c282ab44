package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relayline/relayline/internal/database/models"
)

// transcriptJobRepo implements TranscriptJobRepository.
type transcriptJobRepo struct {
	db *DB
}

// NewTranscriptJobRepository creates a new TranscriptJobRepository.
func NewTranscriptJobRepository(db *DB) TranscriptJobRepository {
	return &transcriptJobRepo{db: db}
}

// Create inserts a new transcript job. The unique index on recording_id
// guarantees at most one job per recording; a second insert fails and the
// caller falls back to the existing row.
func (r *transcriptJobRepo) Create(ctx context.Context, job *models.TranscriptJob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transcript_jobs (id, call_id, recording_id, status, channel_roles)
		 VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.CallID, job.RecordingID, job.Status, job.ChannelRoles,
	)
	if err != nil {
		return fmt.Errorf("inserting transcript job: %w", err)
	}
	return nil
}

// GetByRecordingID returns the job sourced from the given recording.
func (r *transcriptJobRepo) GetByRecordingID(ctx context.Context, recordingID string) (*models.TranscriptJob, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, call_id, recording_id, status, channel_roles, created_at, updated_at
		 FROM transcript_jobs WHERE recording_id = ?`, recordingID,
	))
}

// GetByID returns a job by its provider transcript SID.
func (r *transcriptJobRepo) GetByID(ctx context.Context, id string) (*models.TranscriptJob, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, call_id, recording_id, status, channel_roles, created_at, updated_at
		 FROM transcript_jobs WHERE id = ?`, id,
	))
}

// UpdateStatus moves a job through queued -> in-progress -> completed/failed.
func (r *transcriptJobRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcript_jobs SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("updating transcript job %s: %w", id, err)
	}
	return nil
}

// Delete removes a job row. Used when a provider job was recreated after a
// diarization failure so the ledger never references a job that no longer
// exists.
func (r *transcriptJobRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transcript_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting transcript job %s: %w", id, err)
	}
	return nil
}

func (r *transcriptJobRepo) scanOne(row *sql.Row) (*models.TranscriptJob, error) {
	var j models.TranscriptJob
	err := row.Scan(&j.ID, &j.CallID, &j.RecordingID, &j.Status, &j.ChannelRoles,
		&j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning transcript job: %w", err)
	}
	return &j, nil
}
