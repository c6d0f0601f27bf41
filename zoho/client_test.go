package zoho

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	intake "github.com/phbpx/crm-intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetDecodes(t *testing.T) {
	crm, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		fmt.Fprint(w, `{"data":[{"id":"42"}]}`)
	})

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	status, err := client.Get(context.Background(), "/Leads/search", url.Values{"criteria": {"(Email:equals:a@b.co)"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "42", out.Data[0].ID)

	calls := crm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/crm/v2/Leads/search", calls[0].Path)
	assert.Equal(t, "(Email:equals:a@b.co)", calls[0].Query.Get("criteria"))
	assert.Equal(t, "Zoho-oauthtoken test-token", calls[0].Auth)
}

func TestClient_NoContent(t *testing.T) {
	_, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		w.WriteHeader(http.StatusNoContent)
	})

	var out map[string]any
	status, err := client.Get(context.Background(), "/Leads/search", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Nil(t, out)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantFields []string
		clientSide bool
	}{
		{
			name:       "http error envelope",
			method:     http.MethodGet,
			status:     http.StatusBadRequest,
			body:       `{"code":"INVALID_QUERY","details":{"api_name":"Colour"},"message":"invalid query","status":"error"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_QUERY",
			wantFields: []string{"Colour"},
			clientSide: true,
		},
		{
			name:       "record error in 200",
			method:     http.MethodPost,
			status:     http.StatusOK,
			body:       `{"data":[{"code":"DUPLICATE_DATA","details":{"api_name":"Phone","json_path":"$.data[0].Phone"},"message":"duplicate data","status":"error"}]}`,
			wantStatus: http.StatusOK,
			wantCode:   intake.CodeDuplicateData,
			wantFields: []string{"Phone"},
			clientSide: true,
		},
		{
			name:       "record error in 400 data",
			method:     http.MethodPut,
			status:     http.StatusBadRequest,
			body:       `{"data":[{"code":"INVALID_DATA","details":{"api_name":"Age"},"message":"invalid data","status":"error"}]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   intake.CodeInvalidData,
			wantFields: []string{"Age"},
			clientSide: true,
		},
		{
			name:       "multiple errors",
			method:     http.MethodPost,
			status:     http.StatusAccepted,
			body:       `{"data":[{"code":"MULTIPLE_OR_MULTI_ERRORS","details":{"errors":[{"api_name":"Email"},{"api_name":"Phone"}]},"message":"multiple","status":"error"}]}`,
			wantStatus: http.StatusAccepted,
			wantCode:   "MULTIPLE_OR_MULTI_ERRORS",
			wantFields: []string{"Email", "Phone"},
			clientSide: true,
		},
		{
			name:       "server error",
			method:     http.MethodPost,
			status:     http.StatusInternalServerError,
			body:       `<html>down</html>`,
			wantStatus: http.StatusInternalServerError,
			clientSide: false,
		},
		{
			name:       "rate limited",
			method:     http.MethodGet,
			status:     http.StatusTooManyRequests,
			body:       `{"code":"TOO_MANY_REQUESTS","message":"slow down","status":"error"}`,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "TOO_MANY_REQUESTS",
			clientSide: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			var err error
			switch tt.method {
			case http.MethodGet:
				_, err = client.Get(context.Background(), "/Leads", nil, nil)
			case http.MethodPost:
				err = client.Post(context.Background(), "/Leads", map[string]any{"data": []any{}}, nil)
			case http.MethodPut:
				err = client.Put(context.Background(), "/Leads/1", map[string]any{"data": []any{}}, nil)
			}

			var rerr *intake.RemoteError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.wantStatus, rerr.StatusCode)
			assert.Equal(t, tt.wantCode, rerr.Code)
			assert.Equal(t, tt.wantFields, rerr.Fields)
			assert.Equal(t, tt.clientSide, rerr.ClientSide())
		})
	}
}

func TestClient_GetIgnoresRecordStatusField(t *testing.T) {
	_, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		fmt.Fprint(w, `{"data":[{"id":"1","status":"error"}]}`)
	})

	_, err := client.Get(context.Background(), "/Tasks/1", nil, nil)
	assert.NoError(t, err)
}

func TestClient_RefreshesOnUnauthorized(t *testing.T) {
	var n int32
	crm, client, tokens := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":"INVALID_TOKEN","message":"invalid oauth token","status":"error"}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"code":"SUCCESS","details":{"id":"7"},"status":"success"}]}`)
	})

	err := client.Post(context.Background(), "/Leads", map[string]any{"data": []map[string]string{{"Last_Name": "X"}}}, nil)
	require.NoError(t, err)

	calls := crm.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Body, calls[1].Body)
	assert.True(t, strings.Contains(calls[1].Body, "Last_Name"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokens.invalidated))
}

func TestClient_TransportFailure(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1/crm/v2"}, &staticTokens{}, nil)

	_, err := client.Get(context.Background(), "/Leads", nil, nil)

	var rerr *intake.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 0, rerr.StatusCode)
	assert.False(t, rerr.ClientSide())
}

func TestClient_Upload(t *testing.T) {
	crm, client, _ := newFakeCRM(t, func(w http.ResponseWriter, r crmRequest) {
		fmt.Fprint(w, `{"data":[{"code":"SUCCESS","details":{"id":"9"},"status":"success"}]}`)
	})

	err := client.Upload(context.Background(), "/Leads/1/Attachments", intake.File{
		Name:        "report.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
	}, nil)
	require.NoError(t, err)

	calls := crm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/crm/v2/Leads/1/Attachments", calls[0].Path)
	assert.Contains(t, calls[0].Body, `filename="report.pdf"`)
	assert.Contains(t, calls[0].Body, "%PDF-1.4")
}
