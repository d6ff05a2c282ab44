package callid

import "testing"

func TestClassifyAddress(t *testing.T) {
	business := []string{"+1 (555) 010-0000", "+15550200"}

	tests := []struct {
		name string
		addr string
		want LegClass
	}{
		{"client identity", "client:agent-42", LegClient},
		{"client wins over business membership", "client:+15550200", LegClient},
		{"business match exact", "+15550200", LegBusiness},
		{"business match despite formatting", "+1 (555) 010-0000", LegBusiness},
		{"arbitrary pstn", "+15550199", LegPSTN},
		{"empty address", "", LegPSTN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyAddress(tt.addr, business); got != tt.want {
				t.Errorf("ClassifyAddress(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 (555) 010-0000", "+15550100000"},
		{"555.010.0000", "5550100000"},
		{"client:alice", "client:alice"},
		{"", ""},
		{"+15550199", "+15550199"},
	}

	for _, tt := range tests {
		if got := NormalizeNumber(tt.in); got != tt.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsRealDestination(t *testing.T) {
	business := []string{"+15550200"}

	tests := []struct {
		addr string
		want bool
	}{
		{"+15550199", true},
		{"client:agent-1", false},
		{"", false},
		{"+15550200", false}, // our own number is not a dial destination
	}

	for _, tt := range tests {
		if got := IsRealDestination(tt.addr, business); got != tt.want {
			t.Errorf("IsRealDestination(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
