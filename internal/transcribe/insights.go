package transcribe

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Insights is the derived conversational summary stored on the call record.
type Insights struct {
	Sentiment       string          `json:"sentiment"` // positive | negative | neutral
	Topics          []string        `json:"topics,omitempty"`
	NextSteps       []string        `json:"next_steps,omitempty"`
	PainPoints      []string        `json:"pain_points,omitempty"`
	BudgetSignals   []string        `json:"budget_signals,omitempty"`
	TimelineSignals []string        `json:"timeline_signals,omitempty"`
	Contract        ContractSignals `json:"contract"`
	Summary         string          `json:"summary,omitempty"`
	SummarySource   string          `json:"summary_source,omitempty"` // heuristic | llm
}

// ContractSignals are lightly parsed contract attributes mentioned on the
// call.
type ContractSignals struct {
	TermMonths int    `json:"term_months,omitempty"`
	Seats      int    `json:"seats,omitempty"`
	Value      string `json:"value,omitempty"`
}

var (
	positiveWords = []string{
		"great", "perfect", "love", "excellent", "interested", "excited",
		"sounds good", "let's do it", "happy",
	}
	negativeWords = []string{
		"expensive", "not interested", "frustrated", "disappointed",
		"cancel", "competitor", "too much", "won't work",
	}

	topicKeywords = map[string][]string{
		"pricing":     {"price", "pricing", "cost", "quote", "discount"},
		"integration": {"integrate", "integration", "api", "sync", "connect"},
		"support":     {"support", "onboarding", "training", "help desk"},
		"security":    {"security", "compliance", "soc 2", "gdpr", "sso"},
		"renewal":     {"renew", "renewal", "upgrade", "expansion"},
	}

	painKeywords     = []string{"problem", "issue", "pain", "struggle", "frustrat", "broken", "slow", "manual"}
	budgetKeywords   = []string{"budget", "afford", "spend", "cost", "$", "per seat", "per user"}
	timelineKeywords = []string{"this quarter", "next quarter", "this month", "next month", "by the end of", "deadline", "q1", "q2", "q3", "q4"}
	nextStepKeywords = []string{"next step", "follow up", "follow-up", "schedule", "send over", "send you", "demo", "trial", "proposal", "contract"}

	termPattern  = regexp.MustCompile(`(\d{1,2})[ -](?:month|year)`)
	seatsPattern = regexp.MustCompile(`(\d{1,4}) (?:seats|users|licenses|agents)`)
	valuePattern = regexp.MustCompile(`\$[\d,]+(?:\.\d+)?(?:k| thousand| per (?:month|year|seat|user))?`)
)

// DeriveInsights scans role-attributed sentences with keyword heuristics.
// The LLM summarizer, when configured, replaces only the Summary field; the
// structured signals always come from here.
func DeriveInsights(sentences []Sentence) Insights {
	in := Insights{Sentiment: "neutral"}

	full := strings.ToLower(transcriptText(sentences))

	pos, neg := 0, 0
	for _, w := range positiveWords {
		pos += strings.Count(full, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(full, w)
	}
	if pos > neg {
		in.Sentiment = "positive"
	} else if neg > pos {
		in.Sentiment = "negative"
	}

	for topic, words := range topicKeywords {
		for _, w := range words {
			if strings.Contains(full, w) {
				in.Topics = append(in.Topics, topic)
				break
			}
		}
	}
	sort.Strings(in.Topics)

	for i := range sentences {
		s := &sentences[i]
		lower := strings.ToLower(s.Text)
		if containsAny(lower, nextStepKeywords) {
			in.NextSteps = appendCapped(in.NextSteps, s.Text)
		}
		// Pain and budget signals matter most in the customer's own words,
		// but unattributed sentences still count.
		if s.Role != "agent" {
			if containsAny(lower, painKeywords) {
				in.PainPoints = appendCapped(in.PainPoints, s.Text)
			}
			if containsAny(lower, budgetKeywords) {
				in.BudgetSignals = appendCapped(in.BudgetSignals, s.Text)
			}
		}
		if containsAny(lower, timelineKeywords) {
			in.TimelineSignals = appendCapped(in.TimelineSignals, s.Text)
		}
	}

	in.Contract = contractSignals(full)
	in.Summary = heuristicSummary(in)
	in.SummarySource = "heuristic"
	return in
}

func contractSignals(full string) ContractSignals {
	var c ContractSignals
	if m := termPattern.FindStringSubmatch(full); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.Contains(m[0], "year") {
			n *= 12
		}
		c.TermMonths = n
	}
	if m := seatsPattern.FindStringSubmatch(full); m != nil {
		c.Seats, _ = strconv.Atoi(m[1])
	}
	c.Value = valuePattern.FindString(full)
	return c
}

// heuristicSummary is the fallback summary when no LLM summarizer is
// configured or it fails.
func heuristicSummary(in Insights) string {
	var parts []string
	parts = append(parts, "Sentiment: "+in.Sentiment+".")
	if len(in.Topics) > 0 {
		parts = append(parts, "Topics discussed: "+strings.Join(in.Topics, ", ")+".")
	}
	if len(in.NextSteps) > 0 {
		parts = append(parts, "Next steps mentioned: "+strconv.Itoa(len(in.NextSteps))+".")
	}
	if len(in.PainPoints) > 0 {
		parts = append(parts, "Pain points raised: "+strconv.Itoa(len(in.PainPoints))+".")
	}
	return strings.Join(parts, " ")
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

const maxSignalQuotes = 5

func appendCapped(list []string, v string) []string {
	if len(list) >= maxSignalQuotes {
		return list
	}
	return append(list, v)
}
