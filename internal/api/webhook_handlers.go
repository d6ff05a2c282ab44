package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relayline/relayline/internal/legs"
	"github.com/relayline/relayline/internal/recording"
	"github.com/relayline/relayline/internal/routing"
)

// handleVoiceWebhook answers the provider's request for voice instructions
// when a call needs routing: a browser client dialing out, a PSTN caller
// hitting a business number, or a callback leg. Never deduplicated; the
// provider needs instructions on every ask.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	s.countWebhook("voice")

	if err := r.ParseForm(); err != nil {
		slog.Warn("voice webhook with malformed form", "error", err)
		writeTwiML(w, routing.RejectDocument())
		return
	}

	req := routing.Request{
		CallID:      r.PostForm.Get("CallSid"),
		From:        r.PostForm.Get("From"),
		To:          r.PostForm.Get("To"),
		Direction:   r.PostForm.Get("Direction"),
		ErrorCode:   r.PostForm.Get("ErrorCode"),
		Correlation: routing.CorrelationFromQuery(r.URL.Query()),
	}

	writeTwiML(w, s.voice.Route(r.Context(), req))
}

// handleLegStatusWebhook ingests call-leg lifecycle events. Always 200: the
// provider retries non-2xx deliveries and a poison event would loop forever.
func (s *Server) handleLegStatusWebhook(w http.ResponseWriter, r *http.Request) {
	s.countWebhook("leg-status")
	s.handleLegEvent(w, r, "leg-status")
}

// handleDialStatusWebhook ingests the dial action callback for the dialed
// child leg. Same shape as leg status; kept as a separate route so the two
// sources stay distinguishable in logs and metrics.
func (s *Server) handleDialStatusWebhook(w http.ResponseWriter, r *http.Request) {
	s.countWebhook("dial-status")
	s.handleLegEvent(w, r, "dial-status")
}

func (s *Server) handleLegEvent(w http.ResponseWriter, r *http.Request, kind string) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("leg webhook with malformed form", "kind", kind, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	callID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	durationField := "CallDuration"
	if kind == "dial-status" {
		// The dial action callback reports the parent's still-in-progress
		// CallStatus next to the dialed leg's terminal DialCallStatus. The
		// dialed leg is what this route is about.
		if ds := r.PostForm.Get("DialCallStatus"); ds != "" {
			status = ds
			durationField = "DialCallDuration"
		}
	} else if status == "" {
		status = r.PostForm.Get("DialCallStatus")
	}

	if s.seen.Seen(kind, callID, status, r.PostForm.Get("SequenceNumber")) {
		s.countDuplicate()
		w.WriteHeader(http.StatusOK)
		return
	}

	duration := formInt(r, durationField)
	if duration == nil {
		duration = formInt(r, "CallDuration")
	}

	q := r.URL.Query()
	corr := routing.CorrelationFromQuery(q)

	ev := legs.Event{
		CallID:       callID,
		ParentCallID: r.PostForm.Get("ParentCallSid"),
		From:         r.PostForm.Get("From"),
		To:           r.PostForm.Get("To"),
		Status:       status,
		Duration:     duration,
		AnsweredBy:   r.PostForm.Get("AnsweredBy"),
		Direction:    r.PostForm.Get("Direction"),
		HintTo:       q.Get("hint_to"),
		ContactID:    corr.ContactIDValue(),
		AccountID:    corr.AccountIDValue(),
		AgentID:      corr.AgentID,
		AgentEmail:   corr.AgentEmail,
	}

	if err := s.legs.HandleEvent(r.Context(), ev); err != nil {
		slog.Error("leg event processing failed",
			"kind", kind, "call_id", callID, "status", status, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

// handleRecordingStatusWebhook ingests recording lifecycle events. Only
// completed recordings carry media; the coordinator observes the rest.
func (s *Server) handleRecordingStatusWebhook(w http.ResponseWriter, r *http.Request) {
	s.countWebhook("recording-status")

	if err := r.ParseForm(); err != nil {
		slog.Warn("recording webhook with malformed form", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	recID := r.PostForm.Get("RecordingSid")
	status := r.PostForm.Get("RecordingStatus")

	if s.seen.Seen("recording-status", recID, status) {
		s.countDuplicate()
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := recording.Event{
		RecordingID: recID,
		CallID:      r.PostForm.Get("CallSid"),
		Status:      status,
		Duration:    formInt(r, "RecordingDuration"),
		Channels:    formIntValue(r, "RecordingChannels"),
		URL:         r.PostForm.Get("RecordingUrl"),
	}

	if err := s.rec.HandleCompleted(r.Context(), ev); err != nil {
		slog.Error("recording event processing failed",
			"recording_id", recID, "status", status, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) countWebhook(kind string) {
	if s.metrics != nil {
		s.metrics.WebhooksReceived.WithLabelValues(kind).Inc()
	}
}

func (s *Server) countDuplicate() {
	if s.metrics != nil {
		s.metrics.DuplicatesAbsorbed.Inc()
	}
}

// formInt parses an optional integer form field. Missing or unparsable
// values return nil.
func formInt(r *http.Request, name string) *int {
	raw := r.PostForm.Get(name)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

// formIntValue is formInt for fields where zero means absent.
func formIntValue(r *http.Request, name string) int {
	if v := formInt(r, name); v != nil {
		return *v
	}
	return 0
}
