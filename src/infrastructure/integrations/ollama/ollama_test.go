package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/src/core/failure"
	"docchat/src/infrastructure/integrations/ollama"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			var req map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "llama3.2", req["model"])
			assert.Equal(t, false, req["stream"])
			assert.Equal(t, map[string]any{"temperature": float64(0)}, req["options"])

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"model":"llama3.2","response":"Paris.","done":true,"done_reason":"stop"}`)

	client, err := ollama.NewClient(srv.URL+"/api", "llama3.2", srv.Client())
	require.NoError(t, err)

	answer, err := client.Generate(context.Background(), "system", "Capital of France?", 0)
	require.NoError(t, err)
	assert.Equal(t, "Paris.", answer)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"model not loaded"}`},
		{name: "truncated", status: http.StatusOK, body: `{"response":"Par","done":true,"done_reason":"length"}`},
		{name: "empty", status: http.StatusOK, body: `{"response":"","done":true,"done_reason":"stop"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body)
			client, err := ollama.NewClient(srv.URL, "llama3.2", srv.Client())
			require.NoError(t, err)

			_, err = client.Generate(context.Background(), "", "q", 0)
			assert.ErrorIs(t, err, failure.ErrLLM)
		})
	}
}

func TestHeartbeat(t *testing.T) {
	srv := newServer(t, http.StatusOK, "")
	client, err := ollama.NewClient(srv.URL, "llama3.2", srv.Client())
	require.NoError(t, err)
	assert.NoError(t, client.Heartbeat(context.Background()))

	srv.Close()
	assert.Error(t, client.Heartbeat(context.Background()))
}
