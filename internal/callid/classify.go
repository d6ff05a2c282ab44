package callid

import "strings"

// LegClass is the kind of participant address on one leg of a bridged call.
type LegClass int

const (
	// LegPSTN is a real phone number.
	LegPSTN LegClass = iota
	// LegClient is a browser or app client identity ("client:alice").
	LegClient
	// LegBusiness is one of our own inbound business numbers.
	LegBusiness
)

func (c LegClass) String() string {
	switch c {
	case LegClient:
		return "client"
	case LegBusiness:
		return "business"
	default:
		return "pstn"
	}
}

// ClassifyAddress classifies a leg address. A client: prefix always wins over
// business-number membership; anything else that matches an owned business
// number is LegBusiness; the rest is LegPSTN.
func ClassifyAddress(addr string, businessNumbers []string) LegClass {
	if strings.HasPrefix(addr, "client:") {
		return LegClient
	}
	norm := NormalizeNumber(addr)
	for _, b := range businessNumbers {
		if norm == NormalizeNumber(b) {
			return LegBusiness
		}
	}
	return LegPSTN
}

// IsRealDestination reports whether addr is a dialable PSTN number rather
// than a client identity or an empty placeholder.
func IsRealDestination(addr string, businessNumbers []string) bool {
	if addr == "" {
		return false
	}
	return ClassifyAddress(addr, businessNumbers) == LegPSTN
}

// NormalizeNumber strips formatting from a phone number, keeping digits and a
// single leading plus. Client identities pass through unchanged.
func NormalizeNumber(addr string) string {
	if addr == "" || strings.HasPrefix(addr, "client:") {
		return addr
	}

	var b strings.Builder
	for i, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
