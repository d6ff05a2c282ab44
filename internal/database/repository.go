package database

import (
	"context"

	"github.com/relayline/relayline/internal/database/models"
)

// CallRecordRepository is the durable call-record store. The ledger service is
// written against this interface so the backing store is swappable (SQLite by
// default, PostgreSQL via pgstore).
type CallRecordRepository interface {
	Get(ctx context.Context, id string) (*models.CallRecord, error)
	// Put inserts or fully replaces the record with the given id.
	Put(ctx context.Context, rec *models.CallRecord) error
	List(ctx context.Context, filter CallListFilter) ([]models.CallRecord, int, error)
	Delete(ctx context.Context, ids []string) (int64, error)
	// GetByRecordingID finds the record owning the given recording, if any.
	GetByRecordingID(ctx context.Context, recordingID string) (*models.CallRecord, error)
	// DeleteOlderThan removes records whose updated_at is older than the given
	// number of days. Used by the retention sweeper.
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
	// CountByDirection returns record counts grouped by direction, for
	// metrics scrapes.
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// CallListFilter specifies filtering and pagination for call listings.
type CallListFilter struct {
	AgentID   string
	ContactID *int64
	Limit     int
	Offset    int
}

// ContactRepository is the contact-lookup collaborator. Only the operations
// the orchestration layer needs are exposed; contact CRUD lives in the CRM.
type ContactRepository interface {
	GetByNormalizedPhone(ctx context.Context, phone string) (*models.Contact, error)
	Create(ctx context.Context, c *models.Contact) error
}

// TranscriptJobRepository manages conversational-intelligence job linkage.
type TranscriptJobRepository interface {
	Create(ctx context.Context, job *models.TranscriptJob) error
	GetByRecordingID(ctx context.Context, recordingID string) (*models.TranscriptJob, error)
	GetByID(ctx context.Context, id string) (*models.TranscriptJob, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

// AgentDeviceRepository manages push registrations for agent devices.
type AgentDeviceRepository interface {
	Register(ctx context.Context, dev *models.AgentDevice) error
	ListByAgent(ctx context.Context, agentID string) ([]models.AgentDevice, error)
	DeleteToken(ctx context.Context, token string) error
}

// APIKeyRepository manages operator API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	Count(ctx context.Context) (int64, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// SystemConfigRepository manages key-value system configuration.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.SystemConfig, error)
}
