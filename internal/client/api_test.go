package client

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func replyWith(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func TestHTTPClient_Activate_OK(t *testing.T) {
	t.Parallel()

	var gotBody map[string]string
	var gotCT, gotReqID, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		gotReqID = r.Header.Get("X-Request-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		replyWith(200, `{"success":true,"activationDate":"2024-01-15T00:00:00Z","years":2,"alreadyActive":true}`)(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second, zaptest.NewLogger(t))
	a, err := c.Activate(context.Background(), "KEY")
	require.NoError(t, err)
	require.Equal(t, 2, a.Years)
	require.True(t, a.AlreadyActive)
	require.True(t, a.ActivationDate.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))

	require.Equal(t, "/api/v1/license/activation", gotPath)
	require.Equal(t, "application/json", gotCT)
	require.NotEmpty(t, gotReqID)
	require.Equal(t, map[string]string{"licenseKey": "KEY"}, gotBody)
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		body string
		kind FailureKind
	}{
		{400, `{"success":false,"message":"invalid key"}`, FailureBadRequest},
		{404, `{"success":false}`, FailureNotFound},
		{429, `{"success":false}`, FailureRateLimited},
		{500, `{"success":false}`, FailureServer},
		{502, `<html>bad gateway</html>`, FailureServer},
		{418, ``, FailureMalformed},
		{200, `not json`, FailureMalformed},
		{200, `{"success":true}`, FailureMalformed},
		{200, `{"success":false,"activationDate":"2024-01-15T00:00:00Z","years":1}`, FailureMalformed},
	}
	for _, c := range cases {
		srv := httptest.NewServer(replyWith(c.code, c.body))
		_, err := NewHTTPClient(srv.URL, time.Second, nil).Activate(context.Background(), "K")
		srv.Close()
		require.Error(t, err, "status %d", c.code)
		require.Equal(t, c.kind, KindOf(err), "status %d body %q", c.code, c.body)

		var f *Failure
		require.ErrorAs(t, err, &f)
		require.Equal(t, c.code, f.Status)
	}
}

func TestHTTPClient_FailureCarriesServerMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(replyWith(400, `{"success":false,"message":"invalid key"}`))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second, nil).Activate(context.Background(), "K")
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, "invalid key", f.Message)
	require.Contains(t, err.Error(), "bad_request (400): invalid key")
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewHTTPClient("http://"+addr, time.Second, nil).Activate(context.Background(), "K")
	require.Equal(t, FailureNetwork, KindOf(err))
}

func TestHTTPClient_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewHTTPClient(srv.URL, 50*time.Millisecond, nil).Activate(context.Background(), "K")
	require.Equal(t, FailureNetwork, KindOf(err))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPClient_Status(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(replyWith(404, `{"success":false}`))
	st, err := NewHTTPClient(srv.URL, time.Second, nil).Status(context.Background())
	srv.Close()
	require.NoError(t, err)
	require.False(t, st.Found)

	srv = httptest.NewServer(replyWith(200, `{"success":true,"activationDate":"2024-01-15T00:00:00Z","years":1}`))
	st, err = NewHTTPClient(srv.URL, time.Second, nil).Status(context.Background())
	srv.Close()
	require.NoError(t, err)
	require.True(t, st.Found)
	require.Equal(t, 1, st.Years)

	srv = httptest.NewServer(replyWith(500, `{}`))
	_, err = NewHTTPClient(srv.URL, time.Second, nil).Status(context.Background())
	srv.Close()
	require.Equal(t, FailureServer, KindOf(err))
}

func TestHTTPClient_CPUCores(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(replyWith(200, `{"success":true,"cores":24,"cpuModel":"X","timestamp":"2024-01-01T00:00:00Z"}`))
	defer srv.Close()

	info, err := NewHTTPClient(srv.URL, 0, nil).CPUCores(context.Background())
	require.NoError(t, err)
	require.Equal(t, 24, info.Cores)
	require.Equal(t, "X", info.Model)
}

func TestFailureKind_String(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for k := FailureMalformed; k <= FailureNetwork; k++ {
		seen[k.String()] = true
	}
	require.Len(t, seen, 6)
	require.Equal(t, FailureNetwork, KindOf(context.DeadlineExceeded))
}
