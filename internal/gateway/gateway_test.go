package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxaster/FluxChat/internal/config"
	"github.com/fluxaster/FluxChat/internal/models"
)

func newGateway(ts *httptest.Server, timeout time.Duration) *Gateway {
	g := New(config.UpstreamConfig{BaseURL: ts.URL, APIKey: "test-key"})
	g.timeout = timeout
	return g
}

func userMessages(contents ...string) []models.Message {
	out := make([]models.Message, 0, len(contents))
	for _, c := range contents {
		out = append(out, models.Message{Role: models.RoleUser, Content: c})
	}
	return out
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com":     "https://api.openai.com/v1",
		"https://api.openai.com/":    "https://api.openai.com/v1",
		"https://api.openai.com/v1":  "https://api.openai.com/v1",
		"https://api.openai.com/v1/": "https://api.openai.com/v1",
		" https://host ":             "https://host/v1",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeBaseURL(in), "input %q", in)
	}
}

func TestCompleteReturnsAssistantMessage(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hello there"}}]}`)
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	reply, err := g.Complete(context.Background(), "flux-small", userMessages("hi"), Options{Temperature: 0.7})
	require.NoError(t, err)
	require.Equal(t, models.RoleAssistant, reply.Role)
	require.Equal(t, "hello there", reply.Content)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "flux-small", gotBody["model"])
}

func TestCompleteUpstreamErrorWrapped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	_, err := g.Complete(context.Background(), "flux-small", userMessages("hi"), Options{})
	require.ErrorIs(t, err, ErrUpstream)
}

func TestCompleteEmptyChoicesIsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	_, err := g.Complete(context.Background(), "flux-small", userMessages("hi"), Options{})
	require.ErrorIs(t, err, ErrUpstream)
}

func TestCompleteTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer ts.Close()

	g := newGateway(ts, 50*time.Millisecond)
	_, err := g.Complete(context.Background(), "flux-small", userMessages("hi"), Options{})
	require.ErrorIs(t, err, ErrUpstream)
}

func streamHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func TestStreamCompletionRelaysAndAccumulates(t *testing.T) {
	ts := httptest.NewServer(streamHandler([]string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	var relayed []string
	reply, err := g.StreamCompletion(context.Background(), "flux-small", userMessages("hi"), Options{}, func(chunk string) error {
		relayed = append(relayed, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"hel", "lo"}, relayed)
	require.Equal(t, "hello", reply.Content)
	require.Equal(t, models.RoleAssistant, reply.Role)
}

func TestStreamCompletionInterruptedDiscardsPartial(t *testing.T) {
	// The stream ends without a finish reason: the partial text must be
	// dropped and the failure surfaced.
	ts := httptest.NewServer(streamHandler([]string{
		`{"choices":[{"index":0,"delta":{"content":"par"}}]}`,
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	_, err := g.StreamCompletion(context.Background(), "flux-small", userMessages("hi"), Options{}, nil)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestStreamCompletionChunkCallbackErrorAborts(t *testing.T) {
	ts := httptest.NewServer(streamHandler([]string{
		`{"choices":[{"index":0,"delta":{"content":"hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	sentinel := fmt.Errorf("client went away")
	_, err := g.StreamCompletion(context.Background(), "flux-small", userMessages("hi"), Options{}, func(string) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.NotErrorIs(t, err, ErrUpstream)
}

func TestStreamCompletionUpstreamErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer ts.Close()

	g := newGateway(ts, time.Second)
	_, err := g.StreamCompletion(context.Background(), "flux-small", userMessages("hi"), Options{}, nil)
	require.ErrorIs(t, err, ErrUpstream)
}
