// Package ledger is the idempotent call-record store every other component
// sinks into. One record per canonical call id; merges tolerate duplicated,
// out-of-order, and partially-correlated webhook payloads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/models"
)

// Payload is one component's contribution to a call record. Identifier
// fields double as resolution inputs: when CallID is not canonical the
// recording/transcript ids are chased back to the owning call.
type Payload struct {
	CallID       string
	RecordingID  string
	TranscriptID string

	From       string
	To         string
	Direction  string
	Status     string
	Duration   *int
	Outcome    string
	AnsweredBy string

	RecordingURL      string
	RecordingDuration *int
	RecordingChannels *int

	TranscriptStatus string
	TranscriptText   string
	SentencesJSON    string
	InsightsJSON     string

	ContactID  *int64
	AccountID  *int64
	AgentID    string
	AgentEmail string
}

// Result reports what an upsert did.
type Result struct {
	// Pending is true when the payload's identity could not be resolved to a
	// canonical call id. Nothing was written.
	Pending bool
	Record  *models.CallRecord
}

// IDResolver reconciles payload identifiers to canonical call ids.
type IDResolver interface {
	Resolve(ctx context.Context, ref callid.Ref) (string, bool)
}

// Service implements the call ledger on a durable repository with an
// in-memory fallback for store outages.
type Service struct {
	repo     database.CallRecordRepository
	contacts database.ContactRepository
	resolver IDResolver
	fallback *Fallback
	logger   *slog.Logger

	// locks serialize the read-merge-write cycle per call id. Stripes keyed
	// by id hash, so concurrent upserts for distinct calls do not contend.
	locks [64]sync.Mutex
}

// NewService creates a ledger service.
func NewService(repo database.CallRecordRepository, contacts database.ContactRepository, resolver IDResolver, fallback *Fallback) *Service {
	return &Service{
		repo:     repo,
		contacts: contacts,
		resolver: resolver,
		fallback: fallback,
		logger:   slog.Default().With("component", "ledger"),
	}
}

// Upsert merges the payload into the record for its canonical call id,
// creating the record if needed. Safe to call any number of times with the
// same payload. Unresolvable identity returns a pending result and writes
// nothing.
func (s *Service) Upsert(ctx context.Context, p Payload) (Result, error) {
	id, ok := s.resolver.Resolve(ctx, callid.Ref{
		CallID:       p.CallID,
		RecordingID:  p.RecordingID,
		TranscriptID: p.TranscriptID,
	})
	if !ok {
		s.logger.Warn("upsert with unresolvable identity, not persisting",
			"call_id", p.CallID, "recording_id", p.RecordingID, "transcript_id", p.TranscriptID)
		return Result{Pending: true}, nil
	}

	// Legs, recordings, and transcription race on the same record. Holding
	// the stripe across read, merge, and write keeps a slow reader from
	// clobbering a newer row with its stale merge result.
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	existing, storeUp := s.fetchExisting(ctx, id)

	rec := merge(existing, p, id)

	if rec.Outcome == "" && rec.Terminal() {
		rec.Outcome = deriveOutcome(rec)
	}

	s.autoLinkContact(ctx, rec)

	if !storeUp {
		s.fallback.Store(rec)
		return Result{Record: rec}, nil
	}
	if err := s.repo.Put(ctx, rec); err != nil {
		// Durable store failed mid-flight; keep the merge result in memory so
		// the ledger stays in a well-defined state.
		s.logger.Error("durable store write failed, buffering in memory", "call_id", id, "error", err)
		s.fallback.Store(rec)
		return Result{Record: rec}, nil
	}

	return Result{Record: rec}, nil
}

func (s *Service) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// fetchExisting reads the current record. The second return is false when
// the durable store is unreachable, in which case the fallback copy (if any)
// is returned instead.
func (s *Service) fetchExisting(ctx context.Context, id string) (*models.CallRecord, bool) {
	existing, err := s.repo.Get(ctx, id)
	if err == nil {
		return existing, true
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, true
	}

	s.logger.Error("durable store read failed, consulting fallback", "call_id", id, "error", err)
	if buffered, ok := s.fallback.Get(id); ok {
		return buffered, false
	}
	return nil, false
}

// autoLinkContact links the record to a CRM contact by normalized phone
// match when no linkage exists yet. Enrichment only: failures are swallowed.
func (s *Service) autoLinkContact(ctx context.Context, rec *models.CallRecord) {
	if rec.ContactID != nil {
		return
	}

	phone := rec.ToNumber
	if rec.Direction == "inbound" {
		phone = rec.FromNumber
	}
	norm := callid.NormalizeNumber(phone)
	if norm == "" || callid.ClassifyAddress(phone, nil) == callid.LegClient {
		return
	}

	contact, err := s.contacts.GetByNormalizedPhone(ctx, norm)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.Warn("contact lookup failed", "phone", norm, "error", err)
		}
		return
	}

	rec.ContactID = &contact.ID
	if rec.AccountID == nil {
		rec.AccountID = contact.AccountID
	}
	if rec.AgentID == "" {
		rec.AgentID = contact.OwnerID
	}
}

// Get returns one call record by canonical id, checking the fallback buffer
// when the durable store errors.
func (s *Service) Get(ctx context.Context, id string) (*models.CallRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if buffered, ok := s.fallback.Get(id); ok {
		return buffered, nil
	}
	return nil, err
}

// List returns owner-scoped call records with pagination.
func (s *Service) List(ctx context.Context, filter database.CallListFilter) ([]models.CallRecord, int, error) {
	return s.repo.List(ctx, filter)
}

// Delete removes call records. Recording or transcript ids in the input are
// resolved to their canonical call ids first.
func (s *Service) Delete(ctx context.Context, ids []string) (int64, error) {
	canonical := make([]string, 0, len(ids))
	for _, id := range ids {
		if callid.IsCanonical(id) {
			canonical = append(canonical, id)
			continue
		}
		resolved, ok := s.resolver.Resolve(ctx, callid.Ref{
			RecordingID:  id,
			TranscriptID: id,
		})
		if !ok {
			s.logger.Warn("delete skipping unresolvable id", "id", id)
			continue
		}
		canonical = append(canonical, resolved)
	}

	if len(canonical) == 0 {
		return 0, fmt.Errorf("no resolvable ids in delete request")
	}
	return s.repo.Delete(ctx, canonical)
}
