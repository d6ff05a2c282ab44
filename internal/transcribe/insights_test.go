package transcribe

import (
	"testing"
)

func TestDeriveInsightsSentiment(t *testing.T) {
	positive := DeriveInsights([]Sentence{
		{Role: "customer", Text: "This looks great, I love the workflow."},
		{Role: "agent", Text: "Excellent, glad to hear it."},
	})
	if positive.Sentiment != "positive" {
		t.Errorf("Sentiment = %q, want positive", positive.Sentiment)
	}

	negative := DeriveInsights([]Sentence{
		{Role: "customer", Text: "Honestly this is too expensive and I'm frustrated."},
	})
	if negative.Sentiment != "negative" {
		t.Errorf("Sentiment = %q, want negative", negative.Sentiment)
	}

	neutral := DeriveInsights([]Sentence{
		{Role: "customer", Text: "Send me the document."},
	})
	if neutral.Sentiment != "neutral" {
		t.Errorf("Sentiment = %q, want neutral", neutral.Sentiment)
	}
}

func TestDeriveInsightsTopicsAndSignals(t *testing.T) {
	in := DeriveInsights([]Sentence{
		{Role: "agent", Text: "Let me walk you through pricing and the API integration."},
		{Role: "customer", Text: "Our current process is manual and a real pain."},
		{Role: "customer", Text: "Budget-wise we can spend about $1,200 per month."},
		{Role: "customer", Text: "We'd want this live by the end of this quarter."},
		{Role: "agent", Text: "Great, the next step is I'll send over a proposal."},
	})

	wantTopics := map[string]bool{"pricing": true, "integration": true}
	for _, topic := range in.Topics {
		delete(wantTopics, topic)
	}
	if len(wantTopics) != 0 {
		t.Errorf("Topics = %v, missing %v", in.Topics, wantTopics)
	}

	if len(in.PainPoints) == 0 {
		t.Error("customer pain sentence not captured")
	}
	if len(in.BudgetSignals) == 0 {
		t.Error("budget sentence not captured")
	}
	if len(in.TimelineSignals) == 0 {
		t.Error("timeline sentence not captured")
	}
	if len(in.NextSteps) == 0 {
		t.Error("next-step sentence not captured")
	}
	if in.Summary == "" || in.SummarySource != "heuristic" {
		t.Errorf("Summary = %q source %q, want heuristic summary", in.Summary, in.SummarySource)
	}
}

func TestDeriveInsightsAgentPainIsNotCustomerPain(t *testing.T) {
	in := DeriveInsights([]Sentence{
		{Role: "agent", Text: "Many teams struggle with manual data entry."},
	})
	if len(in.PainPoints) != 0 {
		t.Errorf("PainPoints = %v, agent pitch lines are not customer pain", in.PainPoints)
	}
}

func TestContractSignals(t *testing.T) {
	c := contractSignals("we'd sign a 12 month term for 25 seats at $1,200 per month")
	if c.TermMonths != 12 {
		t.Errorf("TermMonths = %d, want 12", c.TermMonths)
	}
	if c.Seats != 25 {
		t.Errorf("Seats = %d, want 25", c.Seats)
	}
	if c.Value != "$1,200 per month" {
		t.Errorf("Value = %q, want %q", c.Value, "$1,200 per month")
	}
}

func TestContractSignalsYearsToMonths(t *testing.T) {
	c := contractSignals("a 2 year agreement")
	if c.TermMonths != 24 {
		t.Errorf("TermMonths = %d, want 24", c.TermMonths)
	}
}
