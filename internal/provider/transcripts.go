package provider

import (
	"context"
	"net/url"
)

// CreateTranscriptParams configure a new conversational-intelligence job.
type CreateTranscriptParams struct {
	RecordingSid string
	// Participants may be empty on the first attempt; the provider then
	// diarizes on its own. A retry after diarization failure passes explicit
	// channel/role assignments.
	Participants []Participant
}

// CreateTranscript submits a new transcript job for a recording.
func (c *Client) CreateTranscript(ctx context.Context, p CreateTranscriptParams) (*Transcript, error) {
	body := map[string]any{
		"service_sid": c.cfg.IntelServiceSID,
		"channel": map[string]any{
			"media_properties": map[string]any{
				"source_sid": p.RecordingSid,
			},
			"participants": p.Participants,
		},
	}

	var tr Transcript
	if err := c.postIntel(ctx, "/Transcripts", body, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// FetchTranscript returns a transcript job by sid.
func (c *Client) FetchTranscript(ctx context.Context, sid string) (*Transcript, error) {
	var tr Transcript
	if err := c.getIntel(ctx, "/Transcripts/"+url.PathEscape(sid), &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// ListTranscriptsBySource returns transcript jobs created from the given
// recording. Used to detect an existing job before creating a duplicate.
func (c *Client) ListTranscriptsBySource(ctx context.Context, recordingSid string) ([]Transcript, error) {
	var result struct {
		Transcripts []Transcript `json:"transcripts"`
	}
	path := "/Transcripts?SourceSid=" + url.QueryEscape(recordingSid)
	if err := c.getIntel(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Transcripts, nil
}

// ListSentences returns the diarized sentences of a completed transcript.
func (c *Client) ListSentences(ctx context.Context, transcriptSid string) ([]Sentence, error) {
	var result struct {
		Sentences []Sentence `json:"sentences"`
	}
	if err := c.getIntel(ctx, "/Transcripts/"+url.PathEscape(transcriptSid)+"/Sentences", &result); err != nil {
		return nil, err
	}
	return result.Sentences, nil
}

// ListWords returns word-level results with channel attribution.
func (c *Client) ListWords(ctx context.Context, transcriptSid string) ([]Word, error) {
	var result struct {
		Words []Word `json:"words"`
	}
	if err := c.getIntel(ctx, "/Transcripts/"+url.PathEscape(transcriptSid)+"/Words", &result); err != nil {
		return nil, err
	}
	return result.Words, nil
}

// DeleteTranscript removes a transcript job at the provider. Used when a job
// is recreated with explicit participants after a diarization failure.
func (c *Client) DeleteTranscript(ctx context.Context, sid string) error {
	return c.do(ctx, "DELETE", c.intelURL+"/Transcripts/"+url.PathEscape(sid), "", nil, nil)
}
