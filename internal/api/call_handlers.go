package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/models"
	"github.com/relayline/relayline/internal/transcribe"
)

// callResponse is the JSON shape for a single call record.
type callResponse struct {
	ID                string `json:"id"`
	From              string `json:"from"`
	To                string `json:"to"`
	Direction         string `json:"direction"`
	Status            string `json:"status"`
	Duration          *int   `json:"duration"`
	Outcome           string `json:"outcome,omitempty"`
	AnsweredBy        string `json:"answered_by,omitempty"`
	RecordingID       string `json:"recording_id,omitempty"`
	RecordingURL      string `json:"recording_url,omitempty"`
	RecordingDuration *int   `json:"recording_duration,omitempty"`
	TranscriptStatus  string `json:"transcript_status,omitempty"`
	ContactID         *int64 `json:"contact_id,omitempty"`
	AccountID         *int64 `json:"account_id,omitempty"`
	AgentID           string `json:"agent_id,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toCallResponse(rec *models.CallRecord) callResponse {
	return callResponse{
		ID:                rec.ID,
		From:              rec.FromNumber,
		To:                rec.ToNumber,
		Direction:         rec.Direction,
		Status:            rec.Status,
		Duration:          rec.Duration,
		Outcome:           rec.Outcome,
		AnsweredBy:        rec.AnsweredBy,
		RecordingID:       rec.RecordingID,
		RecordingURL:      rec.RecordingURL,
		RecordingDuration: rec.RecordingDuration,
		TranscriptStatus:  rec.TranscriptStatus,
		ContactID:         rec.ContactID,
		AccountID:         rec.AccountID,
		AgentID:           rec.AgentID,
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         rec.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListCalls returns call records with pagination and optional filters.
// Query params: limit, offset, agent_id, contact_id.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter := database.CallListFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Limit:   pg.Limit,
		Offset:  pg.Offset,
	}
	if raw := r.URL.Query().Get("contact_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "contact_id must be an integer")
			return
		}
		filter.ContactID = &id
	}

	records, total, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		slog.Error("listing calls failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	items := make([]callResponse, len(records))
	for i := range records {
		items[i] = toCallResponse(&records[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetCall returns one call record by canonical call id.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !callid.IsCanonical(id) {
		writeError(w, http.StatusBadRequest, "id must be a canonical call sid")
		return
	}

	rec, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		slog.Error("fetching call failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch call")
		return
	}

	writeJSON(w, http.StatusOK, toCallResponse(rec))
}

// deleteCallsRequest is the body for DELETE /calls.
type deleteCallsRequest struct {
	IDs []string `json:"ids"`
}

// handleDeleteCalls removes the named call records. Unknown ids are skipped;
// the response reports how many rows were actually deleted.
func (s *Server) handleDeleteCalls(w http.ResponseWriter, r *http.Request) {
	var req deleteCallsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}
	// The ledger resolves recording and transcript sids to their owning
	// call, so all three id kinds are accepted here.
	for _, id := range req.IDs {
		if !callid.IsCanonical(id) && !callid.IsRecording(id) && !callid.IsTranscript(id) {
			writeError(w, http.StatusBadRequest, "ids must be call, recording, or transcript sids")
			return
		}
	}

	deleted, err := s.ledger.Delete(r.Context(), req.IDs)
	if err != nil {
		slog.Error("deleting calls failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete calls")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// transcribeRequest optionally names the recording to transcribe when the
// ledger has not linked one yet.
type transcribeRequest struct {
	RecordingID string `json:"recording_id"`
}

// handleTranscribeCall kicks off (or re-checks) transcription for a call.
// Safe to call repeatedly; at most one provider job ever exists per recording.
func (s *Server) handleTranscribeCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !callid.IsCanonical(id) {
		writeError(w, http.StatusBadRequest, "id must be a canonical call sid")
		return
	}

	var req transcribeRequest
	if r.ContentLength > 0 {
		if errMsg := readJSON(r, &req); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}
	if req.RecordingID != "" && !callid.IsRecording(req.RecordingID) {
		writeError(w, http.StatusBadRequest, "recording_id must be a recording sid")
		return
	}

	result, err := s.pipe.Transcribe(r.Context(), id, req.RecordingID)
	if err != nil {
		s.writeTranscribeError(w, id, err)
		return
	}

	writeJSON(w, transcribeStatusCode(result.Status), result)
}

// handleGetTranscript reports transcription state for a call without ever
// creating a provider job.
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !callid.IsCanonical(id) {
		writeError(w, http.StatusBadRequest, "id must be a canonical call sid")
		return
	}

	result, err := s.pipe.Poll(r.Context(), id)
	if err != nil {
		s.writeTranscribeError(w, id, err)
		return
	}

	writeJSON(w, transcribeStatusCode(result.Status), result)
}

// handleGetRecordingMedia streams the call's recording audio from the
// provider through the digest-authenticated media client.
func (s *Server) handleGetRecordingMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !callid.IsCanonical(id) {
		writeError(w, http.StatusBadRequest, "id must be a canonical call sid")
		return
	}
	if s.media == nil {
		writeError(w, http.StatusNotFound, "recording playback is not configured")
		return
	}

	rec, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		slog.Error("fetching call failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch call")
		return
	}
	if rec.RecordingURL == "" {
		writeError(w, http.StatusNotFound, "call has no recording")
		return
	}

	body, err := s.media.FetchMedia(r.Context(), rec.RecordingURL)
	if err != nil {
		slog.Error("fetching recording media failed", "call_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch recording media")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", mediaContentType(rec.RecordingURL))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("streaming recording media interrupted", "call_id", id, "error", err)
	}
}

// mediaContentType guesses the audio type from the media URL. The provider
// serves WAV at the bare resource path and MP3 behind an .mp3 suffix.
func mediaContentType(mediaURL string) string {
	if strings.HasSuffix(mediaURL, ".mp3") {
		return "audio/mpeg"
	}
	return "audio/x-wav"
}

func (s *Server) writeTranscribeError(w http.ResponseWriter, callID string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	slog.Error("transcription request failed", "call_id", callID, "error", err)
	writeError(w, http.StatusBadGateway, "transcription failed")
}

// transcribeStatusCode maps pipeline states onto HTTP status codes: completed
// results are 200, anything still moving is 202.
func transcribeStatusCode(st transcribe.Status) int {
	if st == transcribe.StatusCompleted {
		return http.StatusOK
	}
	return http.StatusAccepted
}
