package zoho

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	intake "github.com/phbpx/crm-intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}

func newTokenServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTokenCache_CachesUntilMargin(t *testing.T) {
	var issued int32
	srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/oauth/v2/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		n := atomic.AddInt32(&issued, 1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600,"api_domain":"https://www.zohoapis.com","token_type":"Bearer"}`, n)
	})

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tc := NewTokenCache(testCreds, srv.URL, srv.Client(), nil)
	tc.now = func() time.Time { return now }

	tok, err := tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	now = now.Add(58 * time.Minute)
	tok, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	// Inside the safety margin the token is refreshed.
	now = now.Add(90 * time.Second)
	tok, err = tc.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestTokenCache_Invalidate(t *testing.T) {
	srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	})

	tc := NewTokenCache(testCreds, srv.URL, srv.Client(), nil)

	_, err := tc.Token(context.Background())
	require.NoError(t, err)
	tc.Invalidate()
	_, err = tc.Token(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestTokenCache_ConcurrentCallersShareRefresh(t *testing.T) {
	release := make(chan struct{})
	srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	})

	tc := NewTokenCache(testCreds, srv.URL, srv.Client(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := tc.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(calls), int32(8))
	assert.GreaterOrEqual(t, atomic.LoadInt32(calls), int32(1))
}

func TestTokenCache_RefreshOutlivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	})

	tc := NewTokenCache(testCreds, srv.URL, srv.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := tc.Token(ctx)
		first <- err
	}()

	// Give the first caller time to start the exchange, then drop it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	second := make(chan error, 1)
	go func() {
		tok, err := tc.Token(context.Background())
		if err == nil && tok != "tok" {
			err = fmt.Errorf("unexpected token %q", tok)
		}
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestTokenCache_Failures(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		status  int
		body    string
		wantHit bool
	}{
		{"missing credentials", Credentials{ClientID: "id"}, http.StatusOK, `{}`, false},
		{"error field", testCreds, http.StatusOK, `{"error":"invalid_code"}`, true},
		{"no access token", testCreds, http.StatusOK, `{"expires_in":3600}`, true},
		{"http failure", testCreds, http.StatusInternalServerError, `oops`, true},
		{"bad json", testCreds, http.StatusOK, `<html>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			tc := NewTokenCache(tt.creds, srv.URL, srv.Client(), nil)
			_, err := tc.Token(context.Background())

			var aerr *intake.AuthError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, tt.wantHit, atomic.LoadInt32(calls) > 0)
		})
	}
}

func TestTokenCache_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tc := NewTokenCache(testCreds, url, nil, nil)
	_, err := tc.Token(context.Background())

	var aerr *intake.AuthError
	require.ErrorAs(t, err, &aerr)
}
