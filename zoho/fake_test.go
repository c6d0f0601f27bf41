package zoho

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

type staticTokens struct {
	invalidated int32
}

func (s *staticTokens) Token(context.Context) (string, error) { return "test-token", nil }
func (s *staticTokens) Invalidate()                           { atomic.AddInt32(&s.invalidated, 1) }

type crmRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
	Auth   string
}

// fakeCRM records every call and answers through handle.
type fakeCRM struct {
	mu       sync.Mutex
	requests []crmRequest
}

func newFakeCRM(t *testing.T, handle func(w http.ResponseWriter, r crmRequest)) (*fakeCRM, *Client, *staticTokens) {
	t.Helper()

	f := &fakeCRM{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := crmRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   string(body),
			Auth:   r.Header.Get("Authorization"),
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		handle(w, req)
	}))
	t.Cleanup(srv.Close)

	tokens := &staticTokens{}
	client := NewClient(ClientConfig{BaseURL: srv.URL + "/crm/v2"}, tokens, nil)
	return f, client, tokens
}

func (f *fakeCRM) calls() []crmRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crmRequest, len(f.requests))
	copy(out, f.requests)
	return out
}
