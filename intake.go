package intake

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrProviderNotFound = errors.New("surgeon not found")
)

// AccessToken is a bearer token issued by the CRM identity provider.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used at now, keeping margin
// in reserve for the request that is about to carry it.
func (t AccessToken) Valid(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// Provider is an active surgeon listed in the CRM catalog.
type Provider struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Price        *float64          `json:"price"`
	Active       bool              `json:"-"`
	Country      string            `json:"country"`
	State        string            `json:"state"`
	City         string            `json:"city"`
	BookingLinks map[string]string `json:"-"`
}

// DefaultLanguage is used when a booking link for the requested language is
// not configured on the provider.
const DefaultLanguage = "en"

// BookingURL returns the booking link for lang, falling back to English.
func (p Provider) BookingURL(lang string) string {
	if u := p.BookingLinks[lang]; u != "" {
		return u
	}
	return p.BookingLinks[DefaultLanguage]
}

// RegionCountry is the only country whose providers are grouped by state.
const RegionCountry = "United States"

// HasRegions reports whether providers in country are grouped by state.
func HasRegions(country string) bool {
	return strings.EqualFold(strings.TrimSpace(country), RegionCountry)
}

// Location narrows a provider search.
type Location struct {
	Country string
	State   string
	City    string
}

// CatalogService answers read-only questions about where surgeons practice.
type CatalogService interface {
	Countries(ctx context.Context) ([]string, error)
	States(ctx context.Context, country string) ([]string, error)
	Cities(ctx context.Context, country, state string) ([]string, error)
	Surgeons(ctx context.Context, loc Location) ([]Provider, error)
	Surgeon(ctx context.Context, id string) (Provider, error)
}

// Record is a CRM record payload keyed by API field name. A missing key
// leaves the stored value untouched.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Task is a follow-up item written to the CRM for an operator.
type Task struct {
	Subject     string
	Description string
	LeadID      string
}

// File is binary content attached to a lead.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// LeadStore is the subset of the CRM the submission pipeline talks to.
type LeadStore interface {
	FindLead(ctx context.Context, criteria Match) (string, bool, error)
	CreateLead(ctx context.Context, fields Record) (string, error)
	UpdateLead(ctx context.Context, id string, fields Record) error
	LeadField(ctx context.Context, id, field string) (string, error)
	AttachFile(ctx context.Context, id string, file File) error
	CreateTask(ctx context.Context, task Task) error
}

// Match describes one identity lookup: any of Fields equal to Value.
type Match struct {
	Key    MatchKey
	Fields []string
	Value  string
}

// SubmissionService accepts intake form submissions.
type SubmissionService interface {
	Submit(ctx context.Context, sub Submission) (Result, error)
}

// Result acknowledges a stored submission.
type Result struct {
	Action        string   `json:"action"`
	RecordID      string   `json:"record_id"`
	RemovedFields []string `json:"removed_fields,omitempty"`
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)
