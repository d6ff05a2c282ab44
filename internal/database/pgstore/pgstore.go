// Package pgstore is the PostgreSQL call-record store, for deployments that
// keep call history in a shared database instead of the local SQLite file.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements database.CallRecordRepository on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ database.CallRecordRepository = (*Store)(nil)

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql call store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

const callRecordColumns = `id, from_number, to_number, direction, status, duration,
	 outcome, answered_by, recording_id, recording_url, recording_duration,
	 recording_channels, transcript_id, transcript_status, transcript_text,
	 sentences_json, insights_json, contact_id, account_id, agent_id,
	 agent_email, created_at, updated_at`

// Get returns the record with the given canonical call id.
func (s *Store) Get(ctx context.Context, id string) (*models.CallRecord, error) {
	return scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE id = $1`, id,
	))
}

// GetByRecordingID returns the record owning the given recording.
func (s *Store) GetByRecordingID(ctx context.Context, recordingID string) (*models.CallRecord, error) {
	return scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE recording_id = $1`, recordingID,
	))
}

// Put inserts or fully replaces the record with the given id. Callers merge
// before Put; the store just stores.
func (s *Store) Put(ctx context.Context, rec *models.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_records (`+callRecordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, $21, $22, $23)
		 ON CONFLICT (id) DO UPDATE SET
		   from_number = EXCLUDED.from_number,
		   to_number = EXCLUDED.to_number,
		   direction = EXCLUDED.direction,
		   status = EXCLUDED.status,
		   duration = EXCLUDED.duration,
		   outcome = EXCLUDED.outcome,
		   answered_by = EXCLUDED.answered_by,
		   recording_id = EXCLUDED.recording_id,
		   recording_url = EXCLUDED.recording_url,
		   recording_duration = EXCLUDED.recording_duration,
		   recording_channels = EXCLUDED.recording_channels,
		   transcript_id = EXCLUDED.transcript_id,
		   transcript_status = EXCLUDED.transcript_status,
		   transcript_text = EXCLUDED.transcript_text,
		   sentences_json = EXCLUDED.sentences_json,
		   insights_json = EXCLUDED.insights_json,
		   contact_id = EXCLUDED.contact_id,
		   account_id = EXCLUDED.account_id,
		   agent_id = EXCLUDED.agent_id,
		   agent_email = EXCLUDED.agent_email,
		   updated_at = EXCLUDED.updated_at`,
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
func (s *Store) List(ctx context.Context, filter database.CallListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if filter.ContactID != nil {
		args = append(args, *filter.ContactID)
		where += fmt.Sprintf(" AND contact_id = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_records WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT `+callRecordColumns+` FROM call_records WHERE `+where+
			` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
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
func (s *Store) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM call_records WHERE id IN ("+strings.Join(placeholders, ",")+")", args...,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting call records: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes records last touched more than the given number of
// days ago.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM call_records WHERE updated_at < NOW() - make_interval(days => $1)`,
		days,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired call records: %w", err)
	}
	return result.RowsAffected()
}

// CountByDirection returns record counts grouped by direction.
func (s *Store) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*models.CallRecord, error) {
	rec, err := scanCallRecord(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
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
