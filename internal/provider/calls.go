package provider

import (
	"context"
	"net/url"
	"strconv"
)

// CreateCallParams are the inputs for originating a new call leg.
type CreateCallParams struct {
	To                   string
	From                 string
	TwiML                string
	URL                  string // answer webhook, alternative to inline TwiML
	StatusCallback       string
	StatusCallbackEvents []string
	MachineDetection     bool
	Timeout              int // seconds to ring before giving up
}

// CreateCall originates an outbound call leg.
func (c *Client) CreateCall(ctx context.Context, p CreateCallParams) (*Call, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	if p.TwiML != "" {
		form.Set("Twiml", p.TwiML)
	}
	if p.URL != "" {
		form.Set("Url", p.URL)
	}
	if p.StatusCallback != "" {
		form.Set("StatusCallback", p.StatusCallback)
		for _, ev := range p.StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if p.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}
	if p.Timeout > 0 {
		form.Set("Timeout", strconv.Itoa(p.Timeout))
	}

	var call Call
	if err := c.postForm(ctx, c.accountPath("/Calls.json"), form, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// FetchCall returns the current state of a call leg.
func (c *Client) FetchCall(ctx context.Context, sid string) (*Call, error) {
	var call Call
	if err := c.getJSON(ctx, c.accountPath("/Calls/%s.json", sid), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// ListChildLegs returns the legs dialed out from the given parent leg.
func (c *Client) ListChildLegs(ctx context.Context, parentSid string) ([]Call, error) {
	var result struct {
		Calls []Call `json:"calls"`
	}
	path := c.accountPath("/Calls.json") + "?ParentCallSid=" + url.QueryEscape(parentSid)
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Calls, nil
}

// TerminateCall forces a leg to completed, hanging it up.
func (c *Client) TerminateCall(ctx context.Context, sid string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return c.postForm(ctx, c.accountPath("/Calls/%s.json", sid), form, nil)
}
