package routing

import (
	"encoding/xml"
	"fmt"
)

// Document is a provider voice-instruction response. Marshals to the
// provider's TwiML-style XML.
type Document struct {
	XMLName xml.Name `xml:"Response"`
	Say     *Say     `xml:"Say,omitempty"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Dial bridges the current leg to a new child leg.
type Dial struct {
	Action         string  `xml:"action,attr,omitempty"`
	CallerID       string  `xml:"callerId,attr,omitempty"`
	Timeout        int     `xml:"timeout,attr,omitempty"`
	AnswerOnBridge bool    `xml:"answerOnBridge,attr,omitempty"`
	Client         *Client `xml:"Client,omitempty"`
	Number         *Number `xml:"Number,omitempty"`
}

// Client dials a browser or app identity.
type Client struct {
	StatusCallback      string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent string `xml:"statusCallbackEvent,attr,omitempty"`
	Identity            string `xml:",chardata"`
}

// Number dials a PSTN number.
type Number struct {
	StatusCallback      string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent string `xml:"statusCallbackEvent,attr,omitempty"`
	Number              string `xml:",chardata"`
}

// Say speaks a message to the caller.
type Say struct {
	Text string `xml:",chardata"`
}

// Hangup terminates the call.
type Hangup struct{}

// Render serializes the document with the XML declaration the provider
// expects.
func (d *Document) Render() (string, error) {
	body, err := xml.MarshalIndent(d, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshaling voice response: %w", err)
	}
	return xml.Header + string(body), nil
}

// RejectDocument is the terminal response for requests that could not even
// be parsed. The caller hears nothing and the call ends.
func RejectDocument() *Document {
	return hangupDocument("")
}

// hangupDocument is the terminal response used by the loop guard and for
// unroutable requests.
func hangupDocument(message string) *Document {
	doc := &Document{Hangup: &Hangup{}}
	if message != "" {
		doc.Say = &Say{Text: message}
	}
	return doc
}
