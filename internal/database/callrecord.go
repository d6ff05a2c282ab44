package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/relayline/relayline/internal/database/models"
)

// callRecordRepo implements CallRecordRepository on SQLite.
type callRecordRepo struct {
	db *DB
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db}
}

const callRecordColumns = `id, from_number, to_number, direction, status, duration,
	 outcome, answered_by, recording_id, recording_url, recording_duration,
	 recording_channels, transcript_id, transcript_status, transcript_text,
	 sentences_json, insights_json, contact_id, account_id, agent_id,
	 agent_email, created_at, updated_at`

// Get returns the record with the given canonical call id.
func (r *callRecordRepo) Get(ctx context.Context, id string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE id = ?`, id,
	))
}

// GetByRecordingID returns the record owning the given recording.
func (r *callRecordRepo) GetByRecordingID(ctx context.Context, recordingID string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE recording_id = ?`, recordingID,
	))
}

// Put inserts or fully replaces the record with the given id. Callers merge
// before Put; the repository just stores.
func (r *callRecordRepo) Put(ctx context.Context, rec *models.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (`+callRecordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   from_number = excluded.from_number,
		   to_number = excluded.to_number,
		   direction = excluded.direction,
		   status = excluded.status,
		   duration = excluded.duration,
		   outcome = excluded.outcome,
		   answered_by = excluded.answered_by,
		   recording_id = excluded.recording_id,
		   recording_url = excluded.recording_url,
		   recording_duration = excluded.recording_duration,
		   recording_channels = excluded.recording_channels,
		   transcript_id = excluded.transcript_id,
		   transcript_status = excluded.transcript_status,
		   transcript_text = excluded.transcript_text,
		   sentences_json = excluded.sentences_json,
		   insights_json = excluded.insights_json,
		   contact_id = excluded.contact_id,
		   account_id = excluded.account_id,
		   agent_id = excluded.agent_id,
		   agent_email = excluded.agent_email,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.FromNumber, rec.ToNumber, rec.Direction, rec.Status,
		rec.Duration, rec.Outcome, rec.AnsweredBy, rec.RecordingID,
		rec.RecordingURL, rec.RecordingDuration, rec.RecordingChannels,
		rec.TranscriptID, rec.TranscriptStatus, rec.TranscriptText,
		rec.SentencesJSON, rec.InsightsJSON, rec.ContactID, rec.AccountID,
		rec.AgentID, rec.AgentEmail, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing call record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns call records matching the filter, along with the total count.
func (r *callRecordRepo) List(ctx context.Context, filter CallListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.AgentID != "" {
		where += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.ContactID != nil {
		where += " AND contact_id = ?"
		args = append(args, *filter.ContactID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_records WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE `+where+
			` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		rec, err := scanCallRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

// Delete removes the records with the given canonical call ids.
func (r *callRecordRepo) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM call_records WHERE id IN ("+placeholders+")", args...,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting call records: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes records last touched more than the given number of
// days ago.
func (r *callRecordRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM call_records WHERE updated_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired call records: %w", err)
	}
	return result.RowsAffected()
}

// CountByDirection returns record counts grouped by direction.
func (r *callRecordRepo) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT direction, COUNT(*) FROM call_records GROUP BY direction`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting call records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var direction string
		var n int64
		if err := rows.Scan(&direction, &n); err != nil {
			return nil, fmt.Errorf("scanning call record count: %w", err)
		}
		counts[direction] = n
	}
	return counts, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *callRecordRepo) scanOne(row *sql.Row) (*models.CallRecord, error) {
	rec, err := scanCallRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanCallRecord(row rowScanner) (*models.CallRecord, error) {
	var rec models.CallRecord
	err := row.Scan(
		&rec.ID, &rec.FromNumber, &rec.ToNumber, &rec.Direction, &rec.Status,
		&rec.Duration, &rec.Outcome, &rec.AnsweredBy, &rec.RecordingID,
		&rec.RecordingURL, &rec.RecordingDuration, &rec.RecordingChannels,
		&rec.TranscriptID, &rec.TranscriptStatus, &rec.TranscriptText,
		&rec.SentencesJSON, &rec.InsightsJSON, &rec.ContactID, &rec.AccountID,
		&rec.AgentID, &rec.AgentEmail, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &rec, nil
}
