package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	intake "github.com/phbpx/crm-intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadStore_FindLead(t *testing.T) {
	crm, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		if r.Query.Get("criteria") == "(Email:equals:ana@example.com)" {
			fmt.Fprint(w, `{"data":[{"id":"100"}],"info":{"more_records":false}}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ls := NewLeadStore(client, Modules{})

	id, ok, err := ls.FindLead(context.Background(), intake.Match{Key: intake.MatchEmail, Fields: []string{"Email"}, Value: "ana@example.com"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", id)

	_, ok, err = ls.FindLead(context.Background(), intake.Match{Key: intake.MatchPhone, Fields: []string{"Phone", "Mobile"}, Value: "+12015550123"})
	require.NoError(t, err)
	assert.False(t, ok)

	calls := crm.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/crm/v2/Leads/search", calls[1].Path)
	assert.Equal(t, "((Phone:equals:+12015550123)or(Mobile:equals:+12015550123))", calls[1].Query.Get("criteria"))
}

func TestLeadStore_CreateAndUpdate(t *testing.T) {
	crm, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"data":[{"code":"SUCCESS","details":{"id":"555"},"message":"record added","status":"success"}]}`)
		case http.MethodPut:
			fmt.Fprint(w, `{"data":[{"code":"SUCCESS","details":{"id":"555"},"message":"record updated","status":"success"}]}`)
		}
	})
	ls := NewLeadStore(client, Modules{Leads: "Leads"})

	id, err := ls.CreateLead(context.Background(), intake.Record{"Last_Name": "Lopez", "Email": "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "555", id)

	require.NoError(t, ls.UpdateLead(context.Background(), "555", intake.Record{"City": "Tijuana"}))

	calls := crm.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/crm/v2/Leads", calls[0].Path)
	assert.Equal(t, "/crm/v2/Leads/555", calls[1].Path)

	var body struct {
		Data    []map[string]any `json:"data"`
		Trigger []string         `json:"trigger"`
	}
	require.NoError(t, json.Unmarshal([]byte(calls[1].Body), &body))
	assert.Equal(t, []map[string]any{{"City": "Tijuana"}}, body.Data)
	assert.Equal(t, []string{"workflow"}, body.Trigger)
}

func TestLeadStore_CreateRejected(t *testing.T) {
	_, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		fmt.Fprint(w, `{"data":[{"code":"DUPLICATE_DATA","details":{"api_name":"Email"},"message":"duplicate data","status":"error"}]}`)
	})
	ls := NewLeadStore(client, Modules{})

	_, err := ls.CreateLead(context.Background(), intake.Record{"Email": "ana@example.com"})

	var rerr *intake.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Recoverable())
	assert.Equal(t, []string{"Email"}, rerr.Fields)
}

func TestLeadStore_LeadField(t *testing.T) {
	crm, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		fmt.Fprint(w, `{"data":[{"id":"555","Submission_Log":"[2026-01-01T00:00:00Z] {}"}]}`)
	})
	ls := NewLeadStore(client, Modules{})

	v, err := ls.LeadField(context.Background(), "555", "Submission_Log")
	require.NoError(t, err)
	assert.Equal(t, "[2026-01-01T00:00:00Z] {}", v)
	assert.Equal(t, "Submission_Log", crm.calls()[0].Query.Get("fields"))
}

func TestLeadStore_CreateTask(t *testing.T) {
	crm, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		fmt.Fprint(w, `{"data":[{"code":"SUCCESS","details":{"id":"9"},"status":"success"}]}`)
	})
	ls := NewLeadStore(client, Modules{})

	require.NoError(t, ls.CreateTask(context.Background(), intake.Task{Subject: "s", Description: "d", LeadID: "555"}))

	calls := crm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/crm/v2/Tasks", calls[0].Path)

	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(calls[0].Body), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "555", body.Data[0]["What_Id"])
	assert.Equal(t, "Leads", body.Data[0]["$se_module"])
	assert.Equal(t, "High", body.Data[0]["Priority"])
}
