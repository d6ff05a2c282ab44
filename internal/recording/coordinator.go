// Package recording guarantees at most one active dual-channel recording per
// call and reconciles recording-completed events into the ledger.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relayline/relayline/internal/background"
	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/ledger"
	"github.com/relayline/relayline/internal/metrics"
	"github.com/relayline/relayline/internal/provider"
)

// RecordingAPI is the slice of the provider client the coordinator needs.
type RecordingAPI interface {
	ListChildLegs(ctx context.Context, parentSid string) ([]provider.Call, error)
	ListRecordings(ctx context.Context, callSid, status string) ([]provider.Recording, error)
	StartRecording(ctx context.Context, p provider.StartRecordingParams) (*provider.Recording, error)
	StopRecording(ctx context.Context, callSid, recordingSid string) error
	FetchRecording(ctx context.Context, sid string) (*provider.Recording, error)
	MediaURL(rec *provider.Recording) string
}

// Config is the coordinator policy.
type Config struct {
	BusinessNumbers []string
	// StatusCallbackURL is the absolute recording-status webhook URL.
	StatusCallbackURL string
	// RefreshDelay is how long to wait before the one deferred re-fetch of a
	// recording that reported zero duration.
	RefreshDelay time.Duration
}

// Event is one parsed recording-status webhook.
type Event struct {
	RecordingID string
	CallID      string
	Status      string
	Duration    *int
	Channels    int
	URL         string
}

// Coordinator manages recording lifecycle for answered calls.
type Coordinator struct {
	cfg     Config
	ledger  *ledger.Service
	api     RecordingAPI
	runner  *background.Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
	flights singleflight.Group
}

// NewCoordinator creates a coordinator. m may be nil in tests.
func NewCoordinator(cfg Config, lgr *ledger.Service, api RecordingAPI, runner *background.Runner, m *metrics.Metrics) *Coordinator {
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 30 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		ledger:  lgr,
		api:     api,
		runner:  runner,
		metrics: m,
		logger:  slog.Default().With("component", "recording"),
	}
}

// EnsureRecording starts a dual-channel recording on the best leg of the
// call unless one is already active. Idempotent: answered events arrive once
// per leg plus redeliveries, and every one of them lands here.
func (c *Coordinator) EnsureRecording(ctx context.Context, callID string) error {
	// The parent and its child legs report answered within the same instant
	// and roll up to one call id. Collapsing those calls into a single
	// flight keeps the second from starting another recording before the
	// first shows up as in-progress.
	_, err, _ := c.flights.Do(callID, func() (any, error) {
		return nil, c.ensureRecording(ctx, callID)
	})
	return err
}

func (c *Coordinator) ensureRecording(ctx context.Context, callID string) error {
	leg := c.candidateLeg(ctx, callID)

	active, err := c.api.ListRecordings(ctx, leg, "in-progress")
	if err != nil {
		return fmt.Errorf("listing active recordings on %s: %w", leg, err)
	}
	for i := range active {
		rec := &active[i]
		if rec.Channels == 2 {
			c.logger.Debug("dual-channel recording already active",
				"call_id", callID, "leg", leg, "recording_id", rec.Sid)
			return nil
		}
		// A mono recording blocks the dual one; stop it first.
		if err := c.api.StopRecording(ctx, leg, rec.Sid); err != nil {
			return fmt.Errorf("stopping mono recording %s: %w", rec.Sid, err)
		}
		c.logger.Info("stopped mono recording before starting dual",
			"call_id", callID, "recording_id", rec.Sid)
	}

	started, err := c.api.StartRecording(ctx, provider.StartRecordingParams{
		CallSid:        leg,
		Channels:       2,
		Track:          "both",
		StatusCallback: c.cfg.StatusCallbackURL,
	})
	if err != nil {
		return fmt.Errorf("starting recording on %s: %w", leg, err)
	}

	if c.metrics != nil {
		c.metrics.RecordingsStarted.Inc()
	}
	c.logger.Info("started dual-channel recording",
		"call_id", callID, "leg", leg, "recording_id", started.Sid)
	return nil
}

// candidateLeg picks the leg to record: a true PSTN child when one exists,
// otherwise the call itself.
func (c *Coordinator) candidateLeg(ctx context.Context, callID string) string {
	children, err := c.api.ListChildLegs(ctx, callID)
	if err != nil {
		c.logger.Warn("listing child legs failed, recording parent",
			"call_id", callID, "error", err)
		return callID
	}
	for i := range children {
		child := &children[i]
		if callid.IsRealDestination(child.To, c.cfg.BusinessNumbers) && !child.Terminal() {
			return child.Sid
		}
	}
	return callID
}

// HandleCompleted reconciles a recording-status webhook into the ledger.
// Non-completed statuses are observed only.
func (c *Coordinator) HandleCompleted(ctx context.Context, ev Event) error {
	if ev.Status != "completed" {
		c.logger.Debug("recording status event",
			"recording_id", ev.RecordingID, "status", ev.Status)
		return nil
	}

	if ev.Channels == 1 {
		// The provider accepted a dual-channel request and delivered mono.
		// Role mapping downstream depends on channel separation, so this
		// event is useless for the ledger.
		if c.metrics != nil {
			c.metrics.MonoDegradations.Inc()
		}
		c.logger.Error("recording degraded from dual to mono, discarding event",
			"recording_id", ev.RecordingID, "call_id", ev.CallID)
		return nil
	}

	channels := ev.Channels
	res, err := c.ledger.Upsert(ctx, ledger.Payload{
		CallID:            ev.CallID,
		RecordingID:       ev.RecordingID,
		RecordingURL:      playableURL(ev.URL),
		RecordingDuration: ev.Duration,
		RecordingChannels: &channels,
	})
	if err != nil {
		return fmt.Errorf("upserting recording fields: %w", err)
	}
	if res.Pending {
		c.logger.Warn("recording event left pending, identity unresolved",
			"recording_id", ev.RecordingID, "call_id", ev.CallID)
		return nil
	}

	if ev.Duration == nil || *ev.Duration == 0 {
		c.scheduleRefresh(ev.RecordingID)
	}
	return nil
}

// scheduleRefresh re-fetches the recording once after a delay. Completed
// webhooks occasionally report zero duration because the media is still
// being finalized; one deferred fetch self-corrects the record.
func (c *Coordinator) scheduleRefresh(recordingID string) {
	c.logger.Info("recording reported zero duration, scheduling re-fetch",
		"recording_id", recordingID)
	c.runner.GoAfter("recording-refresh", c.cfg.RefreshDelay, func(ctx context.Context) error {
		rec, err := c.api.FetchRecording(ctx, recordingID)
		if err != nil {
			return fmt.Errorf("re-fetching recording %s: %w", recordingID, err)
		}
		if rec.Duration <= 0 {
			c.logger.Warn("recording duration still zero after re-fetch",
				"recording_id", recordingID)
			return nil
		}

		duration := int(rec.Duration)
		_, err = c.ledger.Upsert(ctx, ledger.Payload{
			CallID:            rec.CallSid,
			RecordingID:       recordingID,
			RecordingURL:      c.api.MediaURL(rec),
			RecordingDuration: &duration,
		})
		return err
	})
}

// playableURL normalizes a media reference to playable form. The provider
// reports resource URIs ending in .json; the media lives at the same path
// without the extension.
func playableURL(raw string) string {
	return strings.TrimSuffix(raw, ".json")
}
