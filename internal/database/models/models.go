package models

import "time"

// CallRecord is the canonical ledger entry for one bridged call. The primary
// key is always the provider's top-level call SID, never a recording or
// transcript SID.
type CallRecord struct {
	ID                string // canonical call SID (CA + 32 hex)
	FromNumber        string
	ToNumber          string
	Direction         string // "inbound" | "outbound"
	Status            string
	Duration          *int // seconds, monotonic
	Outcome           string
	AnsweredBy        string // answering-machine detection result, if any
	RecordingID       string
	RecordingURL      string
	RecordingDuration *int
	RecordingChannels *int
	TranscriptID      string
	TranscriptStatus  string // "" | "processing" | "completed" | "failed"
	TranscriptText    string
	SentencesJSON     string // speaker-attributed sentences
	InsightsJSON      string // derived insight summary
	ContactID         *int64
	AccountID         *int64
	AgentID           string
	AgentEmail        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Terminal reports whether the record's status is a terminal leg status.
func (c *CallRecord) Terminal() bool {
	switch c.Status {
	case "completed", "busy", "no-answer", "failed", "canceled":
		return true
	}
	return false
}

// Contact is the minimal CRM contact projection this service needs for
// auto-linking calls by phone number. Full contact CRUD lives elsewhere.
type Contact struct {
	ID              int64
	Name            string
	Phone           string
	NormalizedPhone string
	AccountID       *int64
	OwnerID         string
	CreatedAt       time.Time
}

// TranscriptJob tracks one conversational-intelligence job at the provider.
// At most one job may ever exist per recording.
type TranscriptJob struct {
	ID          string // provider transcript SID (GT + 32 hex)
	CallID      string
	RecordingID string
	Status      string // "queued" | "in-progress" | "completed" | "failed"
	// ChannelRoles maps media channel number to conversation role,
	// e.g. {"1":"agent","2":"customer"}. Stored as JSON.
	ChannelRoles string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AgentDevice is a push registration for an agent's app or browser, used to
// notify the agent of inbound calls.
type AgentDevice struct {
	ID        int64
	AgentID   string
	Platform  string // "fcm"
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey authenticates operator-facing API callers. Only the Argon2id hash of
// the secret is stored.
type APIKey struct {
	ID         string // public key id, presented as the prefix of the full key
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// SystemConfig represents a key-value configuration entry.
type SystemConfig struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}
