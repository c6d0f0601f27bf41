package zoho

import (
	"strconv"
	"strings"
)

// Criteria is a search expression in the CRM's criteria syntax, e.g.
// ((Country:equals:Mexico)and(Active:equals:true)).
type Criteria string

var criteriaEscaper = strings.NewReplacer(
	`\`, `\\`,
	`(`, `\(`,
	`)`, `\)`,
	`,`, `\,`,
)

// Equals matches records whose field equals value. value is escaped so user
// input cannot alter the expression.
func Equals(field, value string) Criteria {
	return Criteria("(" + field + ":equals:" + criteriaEscaper.Replace(value) + ")")
}

// EqualsBool matches a boolean field.
func EqualsBool(field string, value bool) Criteria {
	return Criteria("(" + field + ":equals:" + strconv.FormatBool(value) + ")")
}

// And joins criteria that must all hold. Empty criteria are skipped.
func And(cs ...Criteria) Criteria {
	return join("and", cs)
}

// Or joins criteria of which one must hold. Empty criteria are skipped.
func Or(cs ...Criteria) Criteria {
	return join("or", cs)
}

func join(op string, cs []Criteria) Criteria {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		if c != "" {
			parts = append(parts, string(c))
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return Criteria(parts[0])
	}
	return Criteria("(" + strings.Join(parts, op) + ")")
}
