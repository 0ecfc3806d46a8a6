package main

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHealth(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Service: "geogated"})
	})

	require.NoError(t, runHealth(nil, nil))
}

func TestRunHealth_ServerDown(t *testing.T) {
	old := serverURL
	serverURL = "http://127.0.0.1:1"
	t.Cleanup(func() { serverURL = old })

	require.Error(t, runHealth(nil, nil))
}

func TestGetJSON_NonOKStatus(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"run not found"}`, http.StatusNotFound)
	})

	var out map[string]any
	err := getJSON("/api/v1/runs/compliance_missing", time.Second, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "run not found")
}

func TestPostJSON_RoundTrip(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "pong", in["ping"])

		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["ping"]})
	})

	var out map[string]string
	require.NoError(t, postJSON("/echo", time.Second, map[string]string{"ping": "pong"}, &out))
	assert.Equal(t, "pong", out["echo"])
}
