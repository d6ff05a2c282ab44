// Package routing decides how each voice-routing request is bridged and
// emits the provider instruction document for it. It is the entry point of a
// call's lifecycle: every record in the ledger starts here.
package routing

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/relayline/relayline/internal/background"
	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/ledger"
)

// Mode is the bridging strategy chosen for one routing request.
type Mode int

const (
	// ModeInboundToBusiness bridges a PSTN caller dialing one of our owned
	// numbers to the agent's browser client.
	ModeInboundToBusiness Mode = iota
	// ModeOutboundNew bridges a browser agent dialing out to a PSTN number.
	ModeOutboundNew
	// ModeOutboundCallback bridges a server-initiated customer leg back to
	// the agent's browser client.
	ModeOutboundCallback
)

func (m Mode) String() string {
	switch m {
	case ModeInboundToBusiness:
		return "inbound-to-business"
	case ModeOutboundNew:
		return "outbound-new"
	default:
		return "outbound-callback"
	}
}

// Correlation is the opaque CRM context threaded through every callback URL.
// Webhooks carry no CRM state of their own, so these parameters are the only
// way later events can be attributed.
type Correlation struct {
	ContactID  string
	AccountID  string
	AgentID    string
	AgentEmail string
}

// CorrelationFromQuery reads correlation parameters back out of a webhook
// request's query values.
func CorrelationFromQuery(q url.Values) Correlation {
	return Correlation{
		ContactID:  q.Get("contact_id"),
		AccountID:  q.Get("account_id"),
		AgentID:    q.Get("agent_id"),
		AgentEmail: q.Get("agent_email"),
	}
}

func (c Correlation) query() url.Values {
	q := url.Values{}
	setIfPresent(q, "contact_id", c.ContactID)
	setIfPresent(q, "account_id", c.AccountID)
	setIfPresent(q, "agent_id", c.AgentID)
	setIfPresent(q, "agent_email", c.AgentEmail)
	return q
}

func setIfPresent(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

// ContactIDValue parses the contact id parameter, nil when absent or malformed.
func (c Correlation) ContactIDValue() *int64 {
	return parseID(c.ContactID)
}

func (c Correlation) AccountIDValue() *int64 {
	return parseID(c.AccountID)
}

func parseID(s string) *int64 {
	if s == "" {
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// Request is one parsed voice-routing webhook.
type Request struct {
	CallID    string
	From      string
	To        string
	Direction string
	// ErrorCode is set when the provider is re-requesting instructions after
	// an upstream error. Routing such a request again would loop.
	ErrorCode   string
	Correlation Correlation
}

// Config is the routing policy.
type Config struct {
	// PublicBaseURL is the externally reachable base for callback URLs.
	PublicBaseURL string
	// BusinessNumbers are the owned inbound numbers.
	BusinessNumbers []string
	// DefaultCallerID is presented on outbound PSTN legs when no better
	// choice exists. Must be one of the owned numbers.
	DefaultCallerID string
	// InboundAgent is the client identity that rings for inbound calls when
	// the request carries no agent correlation.
	InboundAgent string
	// DialTimeout is how many seconds a dialed leg rings before no-answer.
	DialTimeout int
}

// Notifier pushes an inbound-call alert to the owning agent's devices.
type Notifier interface {
	NotifyInbound(ctx context.Context, agentID, fromNumber, callID string) error
}

// Router is the voice routing state machine.
type Router struct {
	cfg      Config
	ledger   *ledger.Service
	runner   *background.Runner
	notifier Notifier
	logger   *slog.Logger
}

// NewRouter creates a router. notifier may be nil when push is not
// configured.
func NewRouter(cfg Config, lgr *ledger.Service, runner *background.Runner, notifier Notifier) *Router {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30
	}
	return &Router{
		cfg:      cfg,
		ledger:   lgr,
		runner:   runner,
		notifier: notifier,
		logger:   slog.Default().With("component", "routing"),
	}
}

// Classify picks the bridging mode for a request.
func (r *Router) Classify(req Request) Mode {
	if callid.ClassifyAddress(req.From, r.cfg.BusinessNumbers) == callid.LegClient {
		return ModeOutboundNew
	}
	if callid.ClassifyAddress(req.To, r.cfg.BusinessNumbers) == callid.LegBusiness {
		return ModeInboundToBusiness
	}
	return ModeOutboundCallback
}

// Route produces the instruction document for a voice-routing request and
// seeds the initial ledger record in the background. The returned document
// is always renderable; routing never errors toward the provider.
func (r *Router) Route(ctx context.Context, req Request) *Document {
	if req.ErrorCode != "" {
		// Upstream-error retry. Answering with instructions again would
		// bounce the same failure back and forth indefinitely.
		r.logger.Warn("routing request is an error retry, hanging up",
			"call_id", req.CallID, "error_code", req.ErrorCode)
		return hangupDocument("We are unable to connect your call. Please try again later.")
	}

	mode := r.Classify(req)
	r.logger.Info("routing call",
		"call_id", req.CallID, "mode", mode.String(), "from", req.From, "to", req.To)

	var doc *Document
	switch mode {
	case ModeOutboundNew:
		doc = r.routeOutboundNew(req)
	case ModeInboundToBusiness:
		doc = r.routeInbound(ctx, req)
	default:
		doc = r.routeCallback(req)
	}

	r.seedRecord(req, mode)
	return doc
}

// routeOutboundNew bridges a browser agent to the PSTN number they dialed.
func (r *Router) routeOutboundNew(req Request) *Document {
	to := callid.NormalizeNumber(req.To)
	if !callid.IsRealDestination(to, r.cfg.BusinessNumbers) {
		r.logger.Warn("outbound dial to non-routable destination",
			"call_id", req.CallID, "to", req.To)
		return hangupDocument("That number cannot be dialed.")
	}

	return &Document{Dial: &Dial{
		Action:         r.callbackURL("/webhooks/dial-status", req.Correlation, nil),
		CallerID:       r.cfg.DefaultCallerID,
		Timeout:        r.cfg.DialTimeout,
		AnswerOnBridge: true,
		Number: &Number{
			StatusCallback:      r.callbackURL("/webhooks/leg-status", req.Correlation, url.Values{"hint_to": {to}}),
			StatusCallbackEvent: "initiated ringing answered completed",
			Number:              to,
		},
	}}
}

// routeInbound bridges a PSTN caller to the agent's browser client and
// alerts the agent's devices.
func (r *Router) routeInbound(ctx context.Context, req Request) *Document {
	agent := req.Correlation.AgentID
	if agent == "" {
		agent = r.cfg.InboundAgent
	}
	if agent == "" {
		r.logger.Error("inbound call with no agent to ring", "call_id", req.CallID)
		return hangupDocument("No one is available to take your call.")
	}

	if r.notifier != nil {
		callID, from := req.CallID, req.From
		agentID := agent
		r.runner.Go("inbound-push", func(ctx context.Context) error {
			return r.notifier.NotifyInbound(ctx, agentID, from, callID)
		})
	}

	return &Document{Dial: &Dial{
		Action:         r.callbackURL("/webhooks/dial-status", req.Correlation, nil),
		CallerID:       callid.NormalizeNumber(req.From),
		Timeout:        r.cfg.DialTimeout,
		AnswerOnBridge: true,
		Client: &Client{
			StatusCallback:      r.callbackURL("/webhooks/leg-status", req.Correlation, nil),
			StatusCallbackEvent: "initiated ringing answered completed",
			Identity:            agent,
		},
	}}
}

// routeCallback answers a server-initiated customer leg by bridging it back
// to the agent's browser client.
func (r *Router) routeCallback(req Request) *Document {
	agent := req.Correlation.AgentID
	if agent == "" {
		agent = r.cfg.InboundAgent
	}
	if agent == "" {
		return hangupDocument("")
	}

	return &Document{Dial: &Dial{
		Action:         r.callbackURL("/webhooks/dial-status", req.Correlation, nil),
		CallerID:       r.cfg.DefaultCallerID,
		Timeout:        r.cfg.DialTimeout,
		AnswerOnBridge: true,
		Client: &Client{
			StatusCallback:      r.callbackURL("/webhooks/leg-status", req.Correlation, nil),
			StatusCallbackEvent: "initiated ringing answered completed",
			Identity:            agent,
		},
	}}
}

// seedRecord writes the initial "initiated" record so the call is visible
// before any leg terminates. Fire and forget; the response never waits.
func (r *Router) seedRecord(req Request, mode Mode) {
	if !callid.IsCanonical(req.CallID) {
		r.logger.Warn("routing request without canonical call id, not seeding",
			"call_id", req.CallID)
		return
	}

	direction := "outbound"
	if mode == ModeInboundToBusiness {
		direction = "inbound"
	}

	agentID := req.Correlation.AgentID
	if agentID == "" && strings.HasPrefix(req.From, "client:") {
		agentID = strings.TrimPrefix(req.From, "client:")
	}

	p := ledger.Payload{
		CallID:     req.CallID,
		From:       req.From,
		To:         callid.NormalizeNumber(req.To),
		Direction:  direction,
		Status:     "initiated",
		ContactID:  req.Correlation.ContactIDValue(),
		AccountID:  req.Correlation.AccountIDValue(),
		AgentID:    agentID,
		AgentEmail: req.Correlation.AgentEmail,
	}
	r.runner.Go("seed-call-record", func(ctx context.Context) error {
		_, err := r.ledger.Upsert(ctx, p)
		return err
	})
}

// callbackURL builds an absolute webhook URL carrying the correlation
// context plus any extra parameters.
func (r *Router) callbackURL(path string, c Correlation, extra url.Values) string {
	u, err := url.Parse(r.cfg.PublicBaseURL)
	if err != nil {
		// Validated at startup; an unparsable base here means misconfig.
		r.logger.Error("invalid public base URL", "base", r.cfg.PublicBaseURL, "error", err)
		return path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	q := c.query()
	for key, vals := range extra {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
