package ledger

import (
	"strings"

	"github.com/relayline/relayline/internal/database/models"
)

// statusRank orders call statuses for monotonic merging. A stale lower-rank
// status arriving after a higher one must never win.
var statusRank = map[string]int{
	"queued":      1,
	"initiated":   1,
	"ringing":     2,
	"answered":    3,
	"in-progress": 3,
	"completed":   4,
	"busy":        4,
	"no-answer":   4,
	"failed":      4,
	"canceled":    4,
}

// StatusRank returns the merge rank for a status; unknown statuses rank 0.
func StatusRank(status string) int {
	return statusRank[status]
}

// merge folds a payload into the existing record (which may be nil), applying
// the field ownership rules: newest non-null wins, except ownership is sticky
// and status/duration move forward only. Each webhook source owns disjoint
// fields, so concurrent merges for the same id cannot conflict outside
// status/duration.
func merge(existing *models.CallRecord, p Payload, id string) *models.CallRecord {
	rec := &models.CallRecord{ID: id, Status: "initiated"}
	if existing != nil {
		copied := *existing
		rec = &copied
	}

	setIfNotEmpty(&rec.FromNumber, p.From)
	setIfNotEmpty(&rec.ToNumber, p.To)
	setIfNotEmpty(&rec.Direction, p.Direction)
	setIfNotEmpty(&rec.AnsweredBy, p.AnsweredBy)
	setIfNotEmpty(&rec.RecordingID, p.RecordingID)
	setIfNotEmpty(&rec.RecordingURL, p.RecordingURL)
	setIfNotEmpty(&rec.TranscriptID, p.TranscriptID)
	setIfNotEmpty(&rec.TranscriptStatus, p.TranscriptStatus)
	setIfNotEmpty(&rec.TranscriptText, p.TranscriptText)
	setIfNotEmpty(&rec.SentencesJSON, p.SentencesJSON)
	setIfNotEmpty(&rec.InsightsJSON, p.InsightsJSON)
	setIfNotEmpty(&rec.Outcome, p.Outcome)

	if p.RecordingDuration != nil {
		rec.RecordingDuration = p.RecordingDuration
	}
	if p.RecordingChannels != nil {
		rec.RecordingChannels = p.RecordingChannels
	}
	if p.ContactID != nil {
		rec.ContactID = p.ContactID
	}
	if p.AccountID != nil {
		rec.AccountID = p.AccountID
	}

	// Sticky ownership: an assigned agent is never displaced by a payload
	// that carries no assignment.
	if p.AgentID != "" && !strings.EqualFold(p.AgentID, "unassigned") {
		rec.AgentID = p.AgentID
	}
	if p.AgentEmail != "" {
		rec.AgentEmail = p.AgentEmail
	}

	// Monotonic status: only move forward.
	if p.Status != "" && StatusRank(p.Status) >= StatusRank(rec.Status) {
		rec.Status = p.Status
	}

	// Monotonic duration: a terminal leg may correct duration upward, but a
	// late zero must not erase a real value.
	if p.Duration != nil {
		if rec.Duration == nil || *p.Duration > *rec.Duration {
			rec.Duration = p.Duration
		}
	}

	return rec
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// deriveOutcome computes the call outcome from status, duration, and the
// answering-machine detection flag when the payload carried no explicit
// outcome.
func deriveOutcome(rec *models.CallRecord) string {
	switch rec.Status {
	case "busy":
		return "Busy"
	case "no-answer":
		return "No Answer"
	case "failed":
		return "Failed"
	case "canceled":
		return "Canceled"
	case "completed":
		if machineAnswered(rec.AnsweredBy) {
			return "Voicemail"
		}
		if rec.Duration != nil && *rec.Duration > 0 {
			return "Connected"
		}
		return "No Answer"
	}
	return ""
}

func machineAnswered(answeredBy string) bool {
	return strings.HasPrefix(answeredBy, "machine") || answeredBy == "fax"
}
