package intake

import (
	"fmt"
	"strings"
)

// Kind tells how far through the intake form the visitor got.
type Kind string

const (
	KindLead     Kind = "lead"
	KindPartial  Kind = "partial"
	KindComplete Kind = "complete"
)

// Kinds lists every accepted submission kind.
var Kinds = []Kind{KindLead, KindPartial, KindComplete}

// Known reports whether k is one of Kinds.
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// MatchKey names an identifying field used to find an existing lead.
type MatchKey string

const (
	MatchSession MatchKey = "session"
	MatchEmail   MatchKey = "email"
	MatchPhone   MatchKey = "phone"
)

// ParseMatchOrder turns configuration such as ["session", "email", "phone"]
// into match keys, rejecting unknown names and repeats.
func ParseMatchOrder(names []string) ([]MatchKey, error) {
	seen := make(map[MatchKey]bool, len(names))
	order := make([]MatchKey, 0, len(names))
	for _, n := range names {
		k := MatchKey(strings.ToLower(strings.TrimSpace(n)))
		switch k {
		case MatchSession, MatchEmail, MatchPhone:
		default:
			return nil, fmt.Errorf("unknown match key %q", n)
		}
		if seen[k] {
			return nil, fmt.Errorf("match key %q listed twice", n)
		}
		seen[k] = true
		order = append(order, k)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("empty match order")
	}
	return order, nil
}

// Submission is the JSON body posted by the intake form.
type Submission struct {
	Kind      Kind   `json:"kind" validate:"required,oneof=lead partial complete"`
	SessionID string `json:"session_id" validate:"max=255"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	Phone     string `json:"phone" validate:"max=40"`
	DialCode  string `json:"dial_code" validate:"max=8"`

	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Country   string `json:"country" validate:"max=100"`
	State     string `json:"state" validate:"max=100"`
	City      string `json:"city" validate:"max=100"`
	Language  string `json:"language" validate:"max=10"`
	SurgeonID string `json:"surgeon_id" validate:"omitempty,numeric,max=30"`

	Procedure         string `json:"procedure"`
	Age               string `json:"age"`
	Height            string `json:"height"`
	Weight            string `json:"weight"`
	MedicalConditions string `json:"medical_conditions"`
	PreviousSurgeries string `json:"previous_surgeries"`
	Medications       string `json:"medications"`
	PreferredDate     string `json:"preferred_date"`
	ContactPreference string `json:"contact_preference"`
	ReferralSource    string `json:"referral_source"`
	Comments          string `json:"comments"`
	Consent           bool   `json:"consent"`

	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a base64 encoded file sent along with a submission.
type Attachment struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"max=100"`
	Data        string `json:"data" validate:"required"`
}

// Identity returns the trimmed value of the identifying field k.
func (s Submission) Identity(k MatchKey) string {
	switch k {
	case MatchSession:
		return strings.TrimSpace(s.SessionID)
	case MatchEmail:
		return strings.ToLower(strings.TrimSpace(s.Email))
	case MatchPhone:
		return strings.TrimSpace(s.Phone)
	}
	return ""
}

// HasIdentity reports whether at least one identifying field is set.
func (s Submission) HasIdentity() bool {
	return s.Identity(MatchSession) != "" || s.Identity(MatchEmail) != "" || s.Identity(MatchPhone) != ""
}
