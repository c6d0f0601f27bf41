package upsert

import (
	"strings"

	intake "github.com/phbpx/crm-intake"
)

// Lead module field names.
const (
	fieldFirstName     = "First_Name"
	fieldLastName      = "Last_Name"
	fieldEmail         = "Email"
	fieldPhone         = "Phone"
	fieldMobile        = "Mobile"
	fieldSessionID     = "Session_ID"
	fieldLeadSource    = "Lead_Source"
	fieldSubmissionLog = "Submission_Log"
)

const (
	leadSource          = "Website Intake"
	lastNamePlaceholder = "Web Lead"
)

// matchFields lists the lead fields searched for each identity.
var matchFields = map[intake.MatchKey][]string{
	intake.MatchSession: {fieldSessionID},
	intake.MatchEmail:   {fieldEmail},
	intake.MatchPhone:   {fieldPhone, fieldMobile},
}

// siblings are fields holding the same value; when the CRM rejects one the
// other goes too.
var siblings = map[string][]string{
	fieldPhone:  {fieldMobile},
	fieldMobile: {fieldPhone},
}

type mapping struct {
	field string
	value func(intake.Submission) any
}

func text(get func(intake.Submission) string) func(intake.Submission) any {
	return func(s intake.Submission) any {
		return strings.TrimSpace(get(s))
	}
}

var leadFields = []mapping{
	{fieldFirstName, text(func(s intake.Submission) string { return s.FirstName })},
	{fieldLastName, text(func(s intake.Submission) string { return s.LastName })},
	{fieldEmail, text(func(s intake.Submission) string { return s.Identity(intake.MatchEmail) })},
	{fieldPhone, text(func(s intake.Submission) string { return s.Phone })},
	{fieldMobile, text(func(s intake.Submission) string { return s.Phone })},
	{"Country", text(func(s intake.Submission) string { return s.Country })},
	{"State", text(func(s intake.Submission) string { return s.State })},
	{"City", text(func(s intake.Submission) string { return s.City })},
	{"Preferred_Language", text(func(s intake.Submission) string { return s.Language })},
	{fieldSessionID, text(func(s intake.Submission) string { return s.SessionID })},
	{"Form_Stage", text(func(s intake.Submission) string { return string(s.Kind) })},
	{"Surgeon", func(s intake.Submission) any {
		id := strings.TrimSpace(s.SurgeonID)
		if id == "" {
			return nil
		}
		return map[string]string{"id": id}
	}},
	{"Procedure_Interest", text(func(s intake.Submission) string { return s.Procedure })},
	{"Age", text(func(s intake.Submission) string { return s.Age })},
	{"Height", text(func(s intake.Submission) string { return s.Height })},
	{"Weight", text(func(s intake.Submission) string { return s.Weight })},
	{"Medical_Conditions", text(func(s intake.Submission) string { return s.MedicalConditions })},
	{"Previous_Surgeries", text(func(s intake.Submission) string { return s.PreviousSurgeries })},
	{"Medications", text(func(s intake.Submission) string { return s.Medications })},
	{"Preferred_Date", text(func(s intake.Submission) string { return s.PreferredDate })},
	{"Preferred_Contact_Method", text(func(s intake.Submission) string { return s.ContactPreference })},
	{"Referral_Source", text(func(s intake.Submission) string { return s.ReferralSource })},
	{"Description", text(func(s intake.Submission) string { return s.Comments })},
	{"Consent", func(s intake.Submission) any {
		if !s.Consent {
			return nil
		}
		return true
	}},
}

// mapSubmission builds the lead payload for sub. Empty values are left out
// so a partial form never blanks data already stored in the CRM.
func mapSubmission(sub intake.Submission) intake.Record {
	rec := intake.Record{fieldLeadSource: leadSource}
	for _, m := range leadFields {
		v := m.value(sub)
		if isEmpty(v) {
			continue
		}
		rec[m.field] = v
	}
	return rec
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

// strip removes the named fields and their siblings from rec and returns
// what was actually removed.
func strip(rec intake.Record, fields []string) []string {
	var removed []string
	drop := func(f string) {
		if _, ok := rec[f]; ok {
			delete(rec, f)
			removed = append(removed, f)
		}
	}
	for _, f := range fields {
		drop(f)
		for _, s := range siblings[f] {
			drop(s)
		}
	}
	return removed
}
