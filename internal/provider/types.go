package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Call is one call leg as reported by the provider REST API.
type Call struct {
	Sid           string `json:"sid"`
	ParentCallSid string `json:"parent_call_sid"`
	From          string `json:"from"`
	To            string `json:"to"`
	Status        string `json:"status"`
	Direction     string `json:"direction"`
	AnsweredBy    string `json:"answered_by"`
	Duration      IntStr `json:"duration"`
}

// Terminal reports whether the leg status is final.
func (c *Call) Terminal() bool {
	switch c.Status {
	case "completed", "busy", "no-answer", "failed", "canceled":
		return true
	}
	return false
}

// Recording describes one call recording.
type Recording struct {
	Sid      string `json:"sid"`
	CallSid  string `json:"call_sid"`
	Status   string `json:"status"`
	Source   string `json:"source"`
	Track    string `json:"track"`
	Channels int    `json:"channels"`
	Duration IntStr `json:"duration"`
	// URI is the API resource path; the playable media URL is derived from it.
	URI      string `json:"uri"`
	MediaURL string `json:"media_url"`
}

// Transcript is a conversational-intelligence job.
type Transcript struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"` // queued | in-progress | completed | failed
	Channel struct {
		MediaProperties struct {
			SourceSid string `json:"source_sid"` // usually a recording sid
		} `json:"media_properties"`
	} `json:"channel"`
}

// SourceSid returns the id of the media the transcript was created from.
func (t *Transcript) SourceSid() string {
	return t.Channel.MediaProperties.SourceSid
}

// Participant assigns a conversation role to one media channel when creating
// a transcript.
type Participant struct {
	ChannelParticipant int    `json:"channel_participant"`
	Role               string `json:"role"` // "Agent" | "Customer"
	MediaParticipantID string `json:"media_participant_id,omitempty"`
}

// Sentence is one diarized sentence of a completed transcript. Field names
// vary across provider API versions, hence the overlapping candidates.
type Sentence struct {
	Transcript   string  `json:"transcript"`
	Text         string  `json:"text"`
	Body         string  `json:"body"`
	MediaChannel int     `json:"media_channel"`
	Speaker      string  `json:"speaker"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Confidence   float64 `json:"confidence"`
}

// Word is one recognized word with channel attribution, used to reconstruct
// turns when sentence-level diarization failed.
type Word struct {
	Word         string  `json:"word"`
	MediaChannel int     `json:"media_channel"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the error is worth a bounded retry.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IntStr is an integer the provider serializes as either a JSON number or a
// quoted string ("47", null).
type IntStr int

// UnmarshalJSON accepts 47, "47", "" and null.
func (i *IntStr) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*i = 0
		return nil
	}
	if len(s) > 1 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.Atoi(str)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", str, err)
		}
		*i = IntStr(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = IntStr(v)
	return nil
}

// Int returns the plain int value.
func (i IntStr) Int() int { return int(i) }
