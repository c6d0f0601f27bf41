package zoho

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCriteria(t *testing.T) {
	tests := []struct {
		name string
		got  Criteria
		want Criteria
	}{
		{"equals", Equals("Country", "Mexico"), "(Country:equals:Mexico)"},
		{"bool", EqualsBool("Active", true), "(Active:equals:true)"},
		{"escapes parens", Equals("City", "x)or(Active:equals:false"), `(City:equals:x\)or\(Active:equals:false)`},
		{"escapes comma and backslash", Equals("Name", `a,b\c`), `(Name:equals:a\,b\\c)`},
		{"and", And(EqualsBool("Active", true), Equals("Country", "Mexico")), "((Active:equals:true)and(Country:equals:Mexico))"},
		{"and skips empty", And("", Equals("City", "Tijuana")), "(City:equals:Tijuana)"},
		{"or", Or(Equals("Phone", "+1"), Equals("Mobile", "+1")), "((Phone:equals:+1)or(Mobile:equals:+1))"},
		{"nothing", And(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
