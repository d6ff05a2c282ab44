// Package legs consumes per-leg status webhooks, filters non-terminal noise,
// and reconciles terminal events into the call ledger.
package legs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayline/relayline/internal/background"
	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/ledger"
	"github.com/relayline/relayline/internal/provider"
)

// CallAPI is the slice of the provider client the correlator needs.
type CallAPI interface {
	ListChildLegs(ctx context.Context, parentSid string) ([]provider.Call, error)
	TerminateCall(ctx context.Context, sid string) error
}

// RecordingScheduler starts recording on an answered call.
type RecordingScheduler interface {
	EnsureRecording(ctx context.Context, callID string) error
}

// Event is one parsed leg-status webhook.
type Event struct {
	CallID       string
	ParentCallID string
	From         string
	To           string
	Status       string
	Duration     *int
	AnsweredBy   string
	Direction    string
	// HintTo is the caller-supplied destination hint threaded through the
	// status-callback URL, used when no leg carries a real number.
	HintTo string

	ContactID  *int64
	AccountID  *int64
	AgentID    string
	AgentEmail string
}

// rootID returns the canonical call id this event belongs to. Child legs
// roll up to their parent.
func (e Event) rootID() string {
	if e.ParentCallID != "" {
		return e.ParentCallID
	}
	return e.CallID
}

func terminal(status string) bool {
	switch status {
	case "completed", "busy", "no-answer", "failed", "canceled":
		return true
	}
	return false
}

func answered(status string) bool {
	return status == "answered" || status == "in-progress"
}

// Config is the correlator policy.
type Config struct {
	BusinessNumbers []string
}

// Correlator is the leg status state machine.
type Correlator struct {
	cfg      Config
	ledger   *ledger.Service
	api      CallAPI
	recorder RecordingScheduler
	runner   *background.Runner
	logger   *slog.Logger
}

// NewCorrelator creates a correlator. recorder may be nil when recording is
// disabled.
func NewCorrelator(cfg Config, lgr *ledger.Service, api CallAPI, recorder RecordingScheduler, runner *background.Runner) *Correlator {
	return &Correlator{
		cfg:      cfg,
		ledger:   lgr,
		api:      api,
		recorder: recorder,
		runner:   runner,
		logger:   slog.Default().With("component", "legs"),
	}
}

// HandleEvent processes one leg-status webhook. Non-terminal events are
// observed only; persisting them would show calls with zero duration before
// they end. Terminal events are merged into the ledger.
func (c *Correlator) HandleEvent(ctx context.Context, ev Event) error {
	if !terminal(ev.Status) {
		c.logger.Debug("non-terminal leg event",
			"call_id", ev.CallID, "parent", ev.ParentCallID, "status", ev.Status)
		if answered(ev.Status) && c.recorder != nil {
			rootID := ev.rootID()
			c.runner.Go("ensure-recording", func(ctx context.Context) error {
				return c.recorder.EnsureRecording(ctx, rootID)
			})
		}
		return nil
	}

	if c.isParentLeg(ev) && ev.Status == "completed" {
		c.terminateSiblings(ev.CallID)
	}

	dest, duration, ok := c.resolveDestination(ctx, ev)
	if !ok {
		// Browser-originated parent with no real destination anywhere. The
		// PSTN child leg is authoritative and writes its own event.
		c.logger.Info("leg carries no real destination, skipping ledger write",
			"call_id", ev.CallID, "from", ev.From, "to", ev.To)
		return nil
	}

	res, err := c.ledger.Upsert(ctx, ledger.Payload{
		CallID:     ev.rootID(),
		From:       ev.From,
		To:         dest,
		Direction:  ev.Direction,
		Status:     ev.Status,
		Duration:   duration,
		AnsweredBy: ev.AnsweredBy,
		ContactID:  ev.ContactID,
		AccountID:  ev.AccountID,
		AgentID:    ev.AgentID,
		AgentEmail: ev.AgentEmail,
	})
	if err != nil {
		return fmt.Errorf("upserting terminal leg event: %w", err)
	}
	if res.Pending {
		c.logger.Warn("terminal leg event left pending", "call_id", ev.CallID)
		return nil
	}

	c.logger.Info("terminal leg event recorded",
		"call_id", ev.rootID(), "status", ev.Status, "outcome", res.Record.Outcome)
	return nil
}

// isParentLeg reports whether the event describes a top-level leg whose
// counterpart is a browser client.
func (c *Correlator) isParentLeg(ev Event) bool {
	return ev.ParentCallID == "" &&
		(strings.HasPrefix(ev.From, "client:") || strings.HasPrefix(ev.To, "client:"))
}

// resolveDestination finds the true dialed number for the event. The
// client-facing parent leg reports a placeholder destination; the real
// number lives on the PSTN child leg, and the caller hint is the last
// resort. The returned duration is corrected from the child leg when the
// reported value is implausibly small.
func (c *Correlator) resolveDestination(ctx context.Context, ev Event) (string, *int, bool) {
	if callid.IsRealDestination(ev.To, c.cfg.BusinessNumbers) {
		return callid.NormalizeNumber(ev.To), ev.Duration, true
	}
	if ev.To != "" && callid.ClassifyAddress(ev.To, c.cfg.BusinessNumbers) == callid.LegBusiness {
		// Inbound leg: the dialed business number is a fine destination.
		return callid.NormalizeNumber(ev.To), ev.Duration, true
	}

	duration := ev.Duration
	if ev.ParentCallID == "" {
		children, err := c.api.ListChildLegs(ctx, ev.CallID)
		if err != nil {
			c.logger.Warn("listing child legs failed", "call_id", ev.CallID, "error", err)
		}
		for i := range children {
			child := &children[i]
			if !callid.IsRealDestination(child.To, c.cfg.BusinessNumbers) {
				continue
			}
			if d := int(child.Duration); implausible(duration) && d > 0 {
				duration = &d
			}
			return callid.NormalizeNumber(child.To), duration, true
		}
	}

	// Inbound child leg bridged out to the agent's browser. Its To is a
	// client address, but the leg itself is authoritative for status and
	// duration; the customer's PSTN number is the counterpart to persist.
	if ev.ParentCallID != "" && callid.ClassifyAddress(ev.To, c.cfg.BusinessNumbers) == callid.LegClient &&
		callid.IsRealDestination(ev.From, c.cfg.BusinessNumbers) {
		return callid.NormalizeNumber(ev.From), duration, true
	}

	if callid.IsRealDestination(ev.HintTo, c.cfg.BusinessNumbers) {
		return callid.NormalizeNumber(ev.HintTo), duration, true
	}
	return "", nil, false
}

// implausible reports whether a parent-reported duration should yield to the
// child leg's value.
func implausible(d *int) bool {
	return d == nil || *d <= 1
}

// terminateSiblings hangs up every non-terminal child of a completed parent
// leg. The agent closing their browser leg must not leave the customer's
// phone ringing. Best effort, off the webhook path.
func (c *Correlator) terminateSiblings(parentID string) {
	c.runner.Go("terminate-siblings", func(ctx context.Context) error {
		children, err := c.api.ListChildLegs(ctx, parentID)
		if err != nil {
			return fmt.Errorf("listing legs of %s: %w", parentID, err)
		}
		for i := range children {
			child := &children[i]
			if child.Terminal() {
				continue
			}
			if err := c.api.TerminateCall(ctx, child.Sid); err != nil {
				c.logger.Warn("terminating sibling leg failed",
					"parent", parentID, "leg", child.Sid, "error", err)
				continue
			}
			c.logger.Info("terminated sibling leg", "parent", parentID, "leg", child.Sid)
		}
		return nil
	})
}
