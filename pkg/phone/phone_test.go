package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE164(t *testing.T) {
	n := New("us")

	tests := []struct {
		name     string
		number   string
		dialCode string
		want     string
	}{
		{"national with dial code", "(201) 555-0123", "+1", "+12015550123"},
		{"dial code without plus", "201 555 0123", "1", "+12015550123"},
		{"already international", "+52 222 123 4567", "+1", "+522221234567"},
		{"default region", "201-555-0123", "", "+12015550123"},
		{"mexican national", "222 123 4567", "52", "+522221234567"},
		{"garbage kept", "  not a phone ", "+1", "not a phone"},
		{"too short kept", "123", "+1", "123"},
		{"empty", "   ", "+1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.E164(tt.number, tt.dialCode))
		})
	}
}
