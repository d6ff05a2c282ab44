// Package transcribe drives the conversational-intelligence pipeline: job
// creation and reuse, bounded polling, sentence extraction with role
// attribution, and insight derivation, all sinking into the call ledger.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/models"
	"github.com/relayline/relayline/internal/ledger"
	"github.com/relayline/relayline/internal/metrics"
	"github.com/relayline/relayline/internal/provider"
	"github.com/relayline/relayline/internal/retry"
)

// IntelAPI is the slice of the provider client the pipeline needs.
type IntelAPI interface {
	CreateTranscript(ctx context.Context, p provider.CreateTranscriptParams) (*provider.Transcript, error)
	FetchTranscript(ctx context.Context, sid string) (*provider.Transcript, error)
	ListTranscriptsBySource(ctx context.Context, recordingSid string) ([]provider.Transcript, error)
	ListSentences(ctx context.Context, transcriptSid string) ([]provider.Sentence, error)
	ListWords(ctx context.Context, transcriptSid string) ([]provider.Word, error)
	DeleteTranscript(ctx context.Context, sid string) error
}

// Status is the pipeline state reported to callers.
type Status string

const (
	// StatusNotReady means no recording exists to transcribe yet.
	StatusNotReady Status = "not-ready"
	// StatusProcessing means a job exists and has not finished.
	StatusProcessing Status = "processing"
	// StatusCompleted means transcript and insights are stored.
	StatusCompleted Status = "completed"
	// StatusFailed means the provider job failed terminally.
	StatusFailed Status = "failed"
)

// Result is the outcome of one transcription request or poll.
type Result struct {
	Status       Status     `json:"status"`
	TranscriptID string     `json:"transcript_id,omitempty"`
	Text         string     `json:"text,omitempty"`
	Sentences    []Sentence `json:"sentences,omitempty"`
	Insights     *Insights  `json:"insights,omitempty"`
}

// CompletionNotifier is told when a call's insights are stored. Used for the
// summary email to the owning agent.
type CompletionNotifier interface {
	InsightsReady(ctx context.Context, rec *models.CallRecord)
}

// Config is the pipeline policy.
type Config struct {
	BusinessNumbers []string
	PollAttempts    int
	PollInterval    time.Duration
}

// Pipeline orchestrates transcription end to end.
type Pipeline struct {
	cfg        Config
	ledger     *ledger.Service
	jobs       database.TranscriptJobRepository
	api        IntelAPI
	summarizer Summarizer
	notifier   CompletionNotifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. summarizer, notifier and m may be nil.
func NewPipeline(cfg Config, lgr *ledger.Service, jobs database.TranscriptJobRepository, api IntelAPI, summarizer Summarizer, notifier CompletionNotifier, m *metrics.Metrics) *Pipeline {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Pipeline{
		cfg:        cfg,
		ledger:     lgr,
		jobs:       jobs,
		api:        api,
		summarizer: summarizer,
		notifier:   notifier,
		metrics:    m,
		logger:     slog.Default().With("component", "transcribe"),
	}
}

// Transcribe runs the pipeline for a call, creating a provider job when none
// exists. recordingHint optionally names the recording directly.
func (p *Pipeline) Transcribe(ctx context.Context, callID, recordingHint string) (*Result, error) {
	return p.run(ctx, callID, recordingHint, true)
}

// Poll reports current transcription state without ever creating a job.
func (p *Pipeline) Poll(ctx context.Context, callID string) (*Result, error) {
	return p.run(ctx, callID, "", false)
}

func (p *Pipeline) run(ctx context.Context, callID, recordingHint string, create bool) (*Result, error) {
	rec, err := p.ledger.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("loading call %s: %w", callID, err)
	}

	recordingID := resolveRecordingID(recordingHint, rec)
	if recordingID == "" {
		return &Result{Status: StatusNotReady}, nil
	}
	roles := channelRoles(rec.FromNumber, rec.ToNumber, p.cfg.BusinessNumbers)

	job, err := p.findJob(ctx, rec, recordingID)
	if err != nil {
		return nil, err
	}

	if job != nil {
		switch job.Status {
		case "completed":
			return p.extractAndPersist(ctx, rec, recordingID, job.ID, roles)
		case "queued", "in-progress":
			return p.checkRunningJob(ctx, rec, recordingID, job, roles)
		}
		// Failed job: fall through to recreation when allowed.
	}

	if !create {
		if job != nil {
			return &Result{Status: StatusFailed, TranscriptID: job.ID}, nil
		}
		return &Result{Status: StatusNotReady}, nil
	}

	return p.createJob(ctx, rec, recordingID, job, roles)
}

// findJob returns the job for a recording, consulting the local table first
// and then the provider. A provider-side job someone else created is adopted
// locally so the uniqueness invariant keeps holding.
func (p *Pipeline) findJob(ctx context.Context, rec *models.CallRecord, recordingID string) (*models.TranscriptJob, error) {
	job, err := p.jobs.GetByRecordingID(ctx, recordingID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("looking up transcript job: %w", err)
	}

	remote, err := p.api.ListTranscriptsBySource(ctx, recordingID)
	if err != nil {
		// Best effort; absence of a provider listing must not block creation.
		p.logger.Warn("listing provider transcripts failed",
			"recording_id", recordingID, "error", err)
		return nil, nil
	}
	if len(remote) == 0 {
		return nil, nil
	}

	adopted := &models.TranscriptJob{
		ID:          remote[0].Sid,
		CallID:      rec.ID,
		RecordingID: recordingID,
		Status:      remote[0].Status,
	}
	if err := p.jobs.Create(ctx, adopted); err != nil {
		// Lost a race with a concurrent adopter; read theirs.
		if existing, gerr := p.jobs.GetByRecordingID(ctx, recordingID); gerr == nil {
			return existing, nil
		}
		p.logger.Warn("adopting provider transcript job failed",
			"transcript_id", adopted.ID, "error", err)
	}
	return adopted, nil
}

// checkRunningJob re-fetches a queued or in-progress job and either extracts
// (when it finished in the meantime) or reports processing.
func (p *Pipeline) checkRunningJob(ctx context.Context, rec *models.CallRecord, recordingID string, job *models.TranscriptJob, roles map[int]string) (*Result, error) {
	tr, err := p.api.FetchTranscript(ctx, job.ID)
	if err != nil {
		p.logger.Warn("fetching running transcript failed",
			"transcript_id", job.ID, "error", err)
		return &Result{Status: StatusProcessing, TranscriptID: job.ID}, nil
	}

	switch tr.Status {
	case "completed":
		return p.extractAndPersist(ctx, rec, recordingID, job.ID, roles)
	case "failed":
		if err := p.jobs.UpdateStatus(ctx, job.ID, "failed"); err != nil {
			p.logger.Warn("marking job failed", "transcript_id", job.ID, "error", err)
		}
		return &Result{Status: StatusFailed, TranscriptID: job.ID}, nil
	}
	return &Result{Status: StatusProcessing, TranscriptID: job.ID}, nil
}

// createJob submits a new provider job with explicit channel/role
// participants, waits a bounded time for it to finish, and extracts when it
// does. failed, when non-nil, is the prior failed job being replaced.
func (p *Pipeline) createJob(ctx context.Context, rec *models.CallRecord, recordingID string, failed *models.TranscriptJob, roles map[int]string) (*Result, error) {
	if failed != nil {
		if err := p.api.DeleteTranscript(ctx, failed.ID); err != nil {
			p.logger.Warn("deleting failed provider job",
				"transcript_id", failed.ID, "error", err)
		}
		if err := p.jobs.Delete(ctx, failed.ID); err != nil {
			return nil, fmt.Errorf("removing failed job record: %w", err)
		}
	}

	tr, err := p.api.CreateTranscript(ctx, provider.CreateTranscriptParams{
		RecordingSid: recordingID,
		Participants: participantsFromRoles(roles),
	})
	if err != nil {
		p.failStage("create-job")
		return nil, fmt.Errorf("creating transcript job: %w", err)
	}
	if p.metrics != nil {
		p.metrics.TranscriptJobs.Inc()
	}

	rolesJSON, _ := json.Marshal(roles)
	job := &models.TranscriptJob{
		ID:           tr.Sid,
		CallID:       rec.ID,
		RecordingID:  recordingID,
		Status:       "queued",
		ChannelRoles: string(rolesJSON),
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		// A concurrent request won the race. Their job is the job.
		if existing, gerr := p.jobs.GetByRecordingID(ctx, recordingID); gerr == nil && existing.ID != tr.Sid {
			p.logger.Info("duplicate job creation lost race, deleting ours",
				"ours", tr.Sid, "theirs", existing.ID)
			if derr := p.api.DeleteTranscript(ctx, tr.Sid); derr != nil {
				p.logger.Warn("deleting duplicate provider job", "transcript_id", tr.Sid, "error", derr)
			}
			return p.checkRunningJob(ctx, rec, recordingID, existing, roles)
		}
		return nil, fmt.Errorf("recording transcript job: %w", err)
	}

	p.markProcessing(ctx, rec.ID, recordingID, tr.Sid)

	done, err := p.waitForJob(ctx, tr.Sid)
	if err != nil {
		p.failStage("poll-job")
		if uerr := p.jobs.UpdateStatus(ctx, tr.Sid, "failed"); uerr != nil {
			p.logger.Warn("marking job failed", "transcript_id", tr.Sid, "error", uerr)
		}
		return &Result{Status: StatusFailed, TranscriptID: tr.Sid}, err
	}
	if !done {
		// Still running after the bounded wait. A later poll picks it up.
		return &Result{Status: StatusProcessing, TranscriptID: tr.Sid}, nil
	}

	return p.extractAndPersist(ctx, rec, recordingID, tr.Sid, roles)
}

// waitForJob polls the job a bounded number of times, exiting the moment the
// provider reports completion or sentence data exists. Returns false when
// the wait budget ran out with the job still running.
func (p *Pipeline) waitForJob(ctx context.Context, transcriptID string) (bool, error) {
	err := retry.Poll(ctx, p.cfg.PollAttempts, p.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		tr, err := p.api.FetchTranscript(ctx, transcriptID)
		if err != nil {
			// Transient fetch errors consume an attempt, nothing more.
			p.logger.Debug("transcript fetch during wait failed",
				"transcript_id", transcriptID, "error", err)
			return false, nil
		}
		switch tr.Status {
		case "completed":
			return true, nil
		case "failed":
			return false, fmt.Errorf("transcript job %s failed at provider", transcriptID)
		}

		// Sentence data sometimes lands before the status flips.
		if sentences, err := p.api.ListSentences(ctx, transcriptID); err == nil && len(sentences) > 0 {
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// extractAndPersist turns a finished job into stored transcript, sentences
// and insights.
func (p *Pipeline) extractAndPersist(ctx context.Context, rec *models.CallRecord, recordingID, transcriptID string, roles map[int]string) (*Result, error) {
	raw, err := p.api.ListSentences(ctx, transcriptID)
	if err != nil {
		p.failStage("list-sentences")
		return nil, fmt.Errorf("listing sentences of %s: %w", transcriptID, err)
	}

	sentences, resolved := extractSentences(raw, roles)
	if !resolved || len(sentences) == 0 {
		// Diarization failure: rebuild turns from word-level channel data.
		p.logger.Warn("no role-resolvable sentences, reconstructing from words",
			"transcript_id", transcriptID)
		words, werr := p.api.ListWords(ctx, transcriptID)
		if werr != nil {
			p.failStage("list-words")
			return nil, fmt.Errorf("listing words of %s: %w", transcriptID, werr)
		}
		if turns := turnsFromWords(words, roles); len(turns) > 0 {
			sentences = turns
		}
	}
	if len(sentences) == 0 {
		p.failStage("extract")
		return nil, fmt.Errorf("transcript %s yielded no usable sentences", transcriptID)
	}

	text := transcriptText(sentences)
	insights := DeriveInsights(sentences)
	if p.summarizer != nil {
		if summary, serr := p.summarizer.Summarize(ctx, text); serr != nil {
			// Degrade to the heuristic summary already in place.
			p.failStage("summarize")
			p.logger.Warn("summarizer failed, keeping heuristic summary",
				"call_id", rec.ID, "error", serr)
		} else {
			insights.Summary = summary
			insights.SummarySource = "llm"
		}
	}

	sentencesJSON, err := json.Marshal(sentences)
	if err != nil {
		return nil, fmt.Errorf("encoding sentences: %w", err)
	}
	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return nil, fmt.Errorf("encoding insights: %w", err)
	}

	res, err := p.ledger.Upsert(ctx, ledger.Payload{
		CallID:           rec.ID,
		RecordingID:      recordingID,
		TranscriptID:     transcriptID,
		TranscriptStatus: "completed",
		TranscriptText:   text,
		SentencesJSON:    string(sentencesJSON),
		InsightsJSON:     string(insightsJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("persisting transcript: %w", err)
	}
	if err := p.jobs.UpdateStatus(ctx, transcriptID, "completed"); err != nil {
		p.logger.Warn("marking job completed", "transcript_id", transcriptID, "error", err)
	}

	if p.notifier != nil && res.Record != nil {
		p.notifier.InsightsReady(ctx, res.Record)
	}

	p.logger.Info("transcript stored",
		"call_id", rec.ID, "transcript_id", transcriptID, "sentences", len(sentences))
	return &Result{
		Status:       StatusCompleted,
		TranscriptID: transcriptID,
		Text:         text,
		Sentences:    sentences,
		Insights:     &insights,
	}, nil
}

// markProcessing records the in-flight job on the ledger so the UI can show
// "transcribing".
func (p *Pipeline) markProcessing(ctx context.Context, callID, recordingID, transcriptID string) {
	_, err := p.ledger.Upsert(ctx, ledger.Payload{
		CallID:           callID,
		RecordingID:      recordingID,
		TranscriptID:     transcriptID,
		TranscriptStatus: "processing",
	})
	if err != nil {
		p.logger.Warn("marking call as transcribing", "call_id", callID, "error", err)
	}
}

func (p *Pipeline) failStage(stage string) {
	if p.metrics != nil {
		p.metrics.PipelineFailures.WithLabelValues(stage).Inc()
	}
}

// participantsFromRoles builds the explicit channel/role assignments for job
// creation.
func participantsFromRoles(roles map[int]string) []provider.Participant {
	participants := make([]provider.Participant, 0, len(roles))
	for _, ch := range []int{1, 2} {
		role := "Customer"
		if roles[ch] == "agent" {
			role = "Agent"
		}
		participants = append(participants, provider.Participant{
			ChannelParticipant: ch,
			Role:               role,
		})
	}
	return participants
}
