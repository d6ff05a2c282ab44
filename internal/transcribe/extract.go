package transcribe

import (
	"regexp"
	"strings"

	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/database/models"
	"github.com/relayline/relayline/internal/provider"
)

// Sentence is one role-attributed sentence of a finished transcript.
type Sentence struct {
	Role       string  `json:"role"` // "agent" | "customer"
	Text       string  `json:"text"`
	Channel    int     `json:"channel"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence,omitempty"`
}

var recordingIDPattern = regexp.MustCompile(`RE[0-9a-f]{32}`)

// recordingIDExtractor is one source of a recording id. Extractors are tried
// in order until one yields a valid id.
type recordingIDExtractor func(direct string, rec *models.CallRecord) string

var recordingIDExtractors = []recordingIDExtractor{
	func(direct string, _ *models.CallRecord) string { return direct },
	func(_ string, rec *models.CallRecord) string {
		if rec == nil {
			return ""
		}
		return rec.RecordingID
	},
	func(_ string, rec *models.CallRecord) string {
		if rec == nil {
			return ""
		}
		return recordingIDPattern.FindString(rec.RecordingURL)
	},
}

// resolveRecordingID finds the recording to transcribe: the direct input,
// the ledger's stored recording reference, or a pattern match against the
// stored media URL. The triggering event may omit any of these.
func resolveRecordingID(direct string, rec *models.CallRecord) string {
	for _, extract := range recordingIDExtractors {
		if id := extract(direct, rec); callid.IsRecording(id) {
			return id
		}
	}
	return ""
}

// channelRoles maps each media channel to a conversation role. Channel 1
// carries the recorded leg's From party, channel 2 its To party; whichever
// side is one of our own addresses (business number or browser client) is
// the agent. Exactly one channel maps to each role.
func channelRoles(from, to string, businessNumbers []string) map[int]string {
	fromOwned := callid.ClassifyAddress(from, businessNumbers) != callid.LegPSTN
	toOwned := callid.ClassifyAddress(to, businessNumbers) != callid.LegPSTN

	if toOwned && !fromOwned {
		return map[int]string{1: "customer", 2: "agent"}
	}
	// From is ours, or neither side is recognizable. An outbound recording's
	// first channel is the originating leg, which is ours when in doubt.
	return map[int]string{1: "agent", 2: "customer"}
}

// sentenceText returns a sentence's text via the ordered candidate fields.
// Provider API versions disagree on the field name.
func sentenceText(s *provider.Sentence) string {
	for _, candidate := range []string{s.Transcript, s.Text, s.Body} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}

// sentenceRole resolves a sentence's role: explicit speaker metadata wins,
// then the channel map. Empty when neither applies.
func sentenceRole(s *provider.Sentence, roles map[int]string) string {
	switch strings.ToLower(s.Speaker) {
	case "agent":
		return "agent"
	case "customer":
		return "customer"
	}
	return roles[s.MediaChannel]
}

// extractSentences converts provider sentences into role-attributed
// sentences, dropping empties. The second return is false when no sentence
// resolved to a role, meaning diarization failed.
func extractSentences(raw []provider.Sentence, roles map[int]string) ([]Sentence, bool) {
	out := make([]Sentence, 0, len(raw))
	resolved := false
	for i := range raw {
		s := &raw[i]
		text := sentenceText(s)
		if text == "" {
			continue
		}
		role := sentenceRole(s, roles)
		if role != "" {
			resolved = true
		}
		out = append(out, Sentence{
			Role:       role,
			Text:       text,
			Channel:    s.MediaChannel,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Confidence: s.Confidence,
		})
	}
	return out, resolved
}

// maxTurnGap is the longest silence, in seconds, between words still
// considered part of the same turn during word-level reconstruction.
const maxTurnGap = 1.5

// turnsFromWords rebuilds role-segmented turns from word-level data when
// sentence diarization failed: consecutive words on the same channel within
// the silence gap form one turn.
func turnsFromWords(words []provider.Word, roles map[int]string) []Sentence {
	var turns []Sentence
	for i := range words {
		w := &words[i]
		if strings.TrimSpace(w.Word) == "" {
			continue
		}

		if len(turns) > 0 {
			last := &turns[len(turns)-1]
			if last.Channel == w.MediaChannel && w.StartTime-last.EndTime <= maxTurnGap {
				last.Text += " " + w.Word
				last.EndTime = w.EndTime
				continue
			}
		}
		turns = append(turns, Sentence{
			Role:      roles[w.MediaChannel],
			Text:      w.Word,
			Channel:   w.MediaChannel,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
		})
	}
	return turns
}

// transcriptText joins sentences into the flat transcript stored on the
// call record.
func transcriptText(sentences []Sentence) string {
	var b strings.Builder
	for i := range sentences {
		s := &sentences[i]
		if i > 0 {
			b.WriteString("\n")
		}
		role := s.Role
		if role == "" {
			role = "unknown"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(s.Text)
	}
	return b.String()
}
