// Package phone normalizes phone numbers typed into web forms.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalizer formats numbers to E.164.
type Normalizer struct {
	region string
}

// New returns a Normalizer that falls back to region (ISO 3166 alpha-2) when
// neither the number nor the dial code carry a country.
func New(region string) Normalizer {
	if region == "" {
		region = "US"
	}
	return Normalizer{region: strings.ToUpper(region)}
}

// E164 formats number, using dialCode (e.g. "+52" or "52") when number is
// written in national form. If the number cannot be parsed or is not valid
// the trimmed input is returned.
func (n Normalizer) E164(number, dialCode string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return trimmed
	}

	candidate := trimmed
	code := strings.TrimLeft(strings.TrimSpace(dialCode), "+")
	if code != "" && !strings.HasPrefix(trimmed, "+") && !strings.HasPrefix(trimmed, "00") {
		candidate = "+" + code + trimmed
	}

	parsed, err := phonenumbers.Parse(candidate, n.region)
	if err != nil {
		return trimmed
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return trimmed
	}

	return phonenumbers.Format(parsed, phonenumbers.E164)
}
