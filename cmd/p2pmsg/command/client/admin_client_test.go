package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *AdminClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdminClient(srv.URL + "/")
}

func TestListPeers(t *testing.T) {
	connected := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/peers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]PeerResponse{{
			Address:     "127.0.0.1:12346",
			ConnID:      "abc",
			Inbound:     true,
			ConnectedAt: connected,
			FramesSent:  3,
		}})
	})

	peers, err := c.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1:12346", peers[0].Address)
	assert.True(t, peers[0].Inbound)
	assert.Equal(t, int64(3), peers[0].FramesSent)
	assert.True(t, connected.Equal(peers[0].ConnectedAt))
}

func TestPingAndTerminate(t *testing.T) {
	var calls []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		}
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Ping("127.0.0.1:12346"))
	require.NoError(t, c.Terminate("127.0.0.1:12346"))
	assert.Equal(t, []string{
		"POST /peers/127.0.0.1:12346/ping",
		"DELETE /peers/127.0.0.1:12346",
	}, calls)
}

func TestDialSendsAddress(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "127.0.0.1:12347", body["address"])
		w.WriteHeader(http.StatusAccepted)
	})

	assert.NoError(t, c.Dial("127.0.0.1:12347"))
}

func TestErrorBodyIsReported(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"connection not available"}`))
	})

	err := c.Ping("127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection not available")
}

func TestUnexpectedStatusWithoutBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ListDirectory()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
