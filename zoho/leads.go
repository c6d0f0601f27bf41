package zoho

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	intake "github.com/phbpx/crm-intake"
)

type writeRequest struct {
	Data    []intake.Record `json:"data"`
	Trigger []string        `json:"trigger"`
}

type writeResponse struct {
	Data []struct {
		Code    string `json:"code"`
		Status  string `json:"status"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

// LeadStore reads and writes lead records.
type LeadStore struct {
	client  *Client
	modules Modules
}

// NewLeadStore returns a LeadStore writing to the configured modules.
func NewLeadStore(client *Client, modules Modules) *LeadStore {
	return &LeadStore{
		client:  client,
		modules: modules.withDefaults(),
	}
}

// FindLead returns the id of a lead where any of m.Fields equals m.Value.
func (ls *LeadStore) FindLead(ctx context.Context, m intake.Match) (string, bool, error) {
	filters := make([]Criteria, 0, len(m.Fields))
	for _, f := range m.Fields {
		filters = append(filters, Equals(f, m.Value))
	}

	q := url.Values{}
	q.Set("criteria", string(Or(filters...)))
	q.Set("per_page", "1")

	var resp searchResponse[struct {
		ID string `json:"id"`
	}]
	status, err := ls.client.Get(ctx, "/"+ls.modules.Leads+"/search", q, &resp)
	if err != nil {
		return "", false, fmt.Errorf("searching lead by %s: %w", m.Key, err)
	}
	if status == http.StatusNoContent || len(resp.Data) == 0 || resp.Data[0].ID == "" {
		return "", false, nil
	}
	return resp.Data[0].ID, true, nil
}

// CreateLead inserts a lead and returns its id.
func (ls *LeadStore) CreateLead(ctx context.Context, fields intake.Record) (string, error) {
	var resp writeResponse
	if err := ls.client.Post(ctx, "/"+ls.modules.Leads, writeRequest{
		Data:    []intake.Record{fields},
		Trigger: []string{"workflow"},
	}, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].Details.ID == "" {
		return "", &intake.RemoteError{StatusCode: http.StatusOK, Message: "create answered without a record id"}
	}
	return resp.Data[0].Details.ID, nil
}

// UpdateLead writes fields onto lead id.
func (ls *LeadStore) UpdateLead(ctx context.Context, id string, fields intake.Record) error {
	return ls.client.Put(ctx, "/"+ls.modules.Leads+"/"+url.PathEscape(id), writeRequest{
		Data:    []intake.Record{fields},
		Trigger: []string{"workflow"},
	}, nil)
}

// LeadField reads a single text field of lead id.
func (ls *LeadStore) LeadField(ctx context.Context, id, field string) (string, error) {
	q := url.Values{}
	q.Set("fields", field)

	var resp searchResponse[map[string]any]
	status, err := ls.client.Get(ctx, "/"+ls.modules.Leads+"/"+url.PathEscape(id), q, &resp)
	if err != nil {
		return "", err
	}
	if status == http.StatusNoContent || len(resp.Data) == 0 {
		return "", nil
	}
	s, _ := resp.Data[0][field].(string)
	return s, nil
}

// AttachFile uploads file to the attachments of lead id.
func (ls *LeadStore) AttachFile(ctx context.Context, id string, file intake.File) error {
	return ls.client.Upload(ctx, "/"+ls.modules.Leads+"/"+url.PathEscape(id)+"/Attachments", file, nil)
}

// CreateTask writes a follow-up task, linked to the lead when one is known.
func (ls *LeadStore) CreateTask(ctx context.Context, task intake.Task) error {
	rec := intake.Record{
		"Subject":     task.Subject,
		"Description": task.Description,
		"Status":      "Not Started",
		"Priority":    "High",
	}
	if task.LeadID != "" {
		rec["What_Id"] = task.LeadID
		rec["$se_module"] = ls.modules.Leads
	}

	return ls.client.Post(ctx, "/"+ls.modules.Tasks, writeRequest{
		Data:    []intake.Record{rec},
		Trigger: []string{},
	}, nil)
}
