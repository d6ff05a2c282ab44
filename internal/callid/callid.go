// Package callid normalizes and resolves the externally-assigned identifiers
// the provider hands us. Recording and transcript webhooks do not always carry
// the call id they belong to; this package reconciles them back to the
// canonical call id the ledger is keyed by.
package callid

import (
	"context"
	"log/slog"
	"strings"

	"github.com/relayline/relayline/internal/provider"
)

// sidLen is the length of every provider SID: 2-char prefix + 32 hex chars.
const sidLen = 34

// IsCanonical reports whether id is a canonical call SID.
func IsCanonical(id string) bool {
	return isSID(id, "CA")
}

// IsRecording reports whether id is a recording SID.
func IsRecording(id string) bool {
	return isSID(id, "RE")
}

// IsTranscript reports whether id is a transcript SID.
func IsTranscript(id string) bool {
	return isSID(id, "GT")
}

func isSID(id, prefix string) bool {
	if len(id) != sidLen || !strings.HasPrefix(id, prefix) {
		return false
	}
	for _, r := range id[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Ref carries the identifiers a caller may know about an event. Any subset
// may be set.
type Ref struct {
	CallID       string
	RecordingID  string
	TranscriptID string
}

// Lookup is the subset of the provider API the resolver needs.
type Lookup interface {
	FetchRecording(ctx context.Context, sid string) (*provider.Recording, error)
	FetchTranscript(ctx context.Context, sid string) (*provider.Transcript, error)
}

// Resolver reconciles recording and transcript identifiers back to canonical
// call ids via best-effort provider lookups.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by the given provider lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup: lookup,
		logger: slog.Default().With("component", "callid"),
	}
}

// Resolve returns the canonical call id for the reference, or ("", false)
// when the chain is exhausted. It never returns an error: lookups are
// best-effort and an unresolved id simply means "do not persist".
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, bool) {
	if IsCanonical(ref.CallID) {
		return ref.CallID, true
	}

	if ref.RecordingID != "" {
		if id, ok := r.fromRecording(ctx, ref.RecordingID); ok {
			return id, true
		}
	}

	if ref.TranscriptID != "" {
		if id, ok := r.fromTranscript(ctx, ref.TranscriptID); ok {
			return id, true
		}
	}

	return "", false
}

// fromRecording fetches the recording and reads its embedded call reference.
func (r *Resolver) fromRecording(ctx context.Context, recordingID string) (string, bool) {
	if !IsRecording(recordingID) {
		return "", false
	}

	rec, err := r.lookup.FetchRecording(ctx, recordingID)
	if err != nil {
		r.logger.Warn("recording lookup failed", "recording_id", recordingID, "error", err)
		return "", false
	}
	if IsCanonical(rec.CallSid) {
		return rec.CallSid, true
	}
	return "", false
}

// fromTranscript fetches the transcript, reads its source reference (usually
// a recording id), and recurses into the recording lookup.
func (r *Resolver) fromTranscript(ctx context.Context, transcriptID string) (string, bool) {
	if !IsTranscript(transcriptID) {
		return "", false
	}

	tr, err := r.lookup.FetchTranscript(ctx, transcriptID)
	if err != nil {
		r.logger.Warn("transcript lookup failed", "transcript_id", transcriptID, "error", err)
		return "", false
	}

	source := tr.SourceSid()
	if IsCanonical(source) {
		return source, true
	}
	return r.fromRecording(ctx, source)
}
