package provider

import (
	"context"
	"net/url"
	"strings"
)

// StartRecordingParams configure a new recording on an active leg.
type StartRecordingParams struct {
	CallSid        string
	Channels       int    // 1 (mono) or 2 (dual)
	Track          string // "inbound", "outbound", or "both"
	StatusCallback string
}

// ListRecordings returns the recordings on a call leg, optionally filtered by
// status ("in-progress" lists the currently active ones).
func (c *Client) ListRecordings(ctx context.Context, callSid, status string) ([]Recording, error) {
	var result struct {
		Recordings []Recording `json:"recordings"`
	}
	path := c.accountPath("/Calls/%s/Recordings.json", callSid)
	if status != "" {
		path += "?Status=" + url.QueryEscape(status)
	}
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Recordings, nil
}

// StartRecording begins recording an active leg.
func (c *Client) StartRecording(ctx context.Context, p StartRecordingParams) (*Recording, error) {
	form := url.Values{}
	if p.Channels == 2 {
		form.Set("RecordingChannels", "dual")
	} else {
		form.Set("RecordingChannels", "mono")
	}
	if p.Track != "" {
		form.Set("RecordingTrack", p.Track)
	}
	if p.StatusCallback != "" {
		form.Set("RecordingStatusCallback", p.StatusCallback)
		form.Set("RecordingStatusCallbackEvent", "completed")
	}

	var rec Recording
	if err := c.postForm(ctx, c.accountPath("/Calls/%s/Recordings.json", p.CallSid), form, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// StopRecording stops an in-progress recording.
func (c *Client) StopRecording(ctx context.Context, callSid, recordingSid string) error {
	form := url.Values{}
	form.Set("Status", "stopped")
	return c.postForm(ctx, c.accountPath("/Calls/%s/Recordings/%s.json", callSid, recordingSid), form, nil)
}

// FetchRecording returns a recording by its sid.
func (c *Client) FetchRecording(ctx context.Context, sid string) (*Recording, error) {
	var rec Recording
	if err := c.getJSON(ctx, c.accountPath("/Recordings/%s.json", sid), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MediaURL returns the playable media URL for a recording. The API reports a
// resource URI ending in .json; the media itself lives at the same path with
// the extension stripped.
func (c *Client) MediaURL(rec *Recording) string {
	if rec.MediaURL != "" {
		return rec.MediaURL
	}
	if rec.URI == "" {
		return ""
	}
	base := strings.TrimSuffix(rec.URI, ".json")
	if strings.HasPrefix(base, "http") {
		return base
	}
	// URI is relative to the API host.
	host := c.baseURL
	if i := strings.Index(host, "/2010"); i > 0 {
		host = host[:i]
	}
	return host + base
}
