package gateway_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/arosboro/ollama-proxy/internal/config"
	"github.com/arosboro/ollama-proxy/internal/gateway"
)

// fakeOllama is an httptest backend speaking the native protocol.
type fakeOllama struct {
	mu         sync.Mutex
	showJSON   string
	embedDim   int
	embedCalls [][]byte
	chatCalls  [][]byte
	chatJSON   string
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(f.showJSON))
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		body := buf.Bytes()

		f.mu.Lock()
		f.embedCalls = append(f.embedCalls, body)
		f.mu.Unlock()

		n := int(gjson.GetBytes(body, "input.#").Int())
		vectors := make([]string, n)
		for i := range vectors {
			vec := make([]string, f.embedDim)
			for j := range vec {
				vec[j] = "0.5"
			}
			vectors[i] = "[" + strings.Join(vec, ",") + "]"
		}
		fmt.Fprintf(w, `{"model":"m","embeddings":[%s],"prompt_eval_count":%d}`,
			strings.Join(vectors, ","), n*7)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)

		f.mu.Lock()
		f.chatCalls = append(f.chatCalls, buf.Bytes())
		f.mu.Unlock()

		_, _ = w.Write([]byte(f.chatJSON))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	})
	return mux
}

func newTestGateway(t *testing.T, backendURL string, mutate func(*config.Config)) *gateway.Gateway {
	t.Helper()
	cfg := &config.Config{
		OllamaHost:              backendURL,
		ListenAddr:              "127.0.0.1:0",
		MaxEmbeddingInputLength: 2000,
		AutoChunking:            true,
		MaxContextOverride:      16384,
		RequestTimeoutSeconds:   5,
		LogLevel:                "error",
	}
	if mutate != nil {
		mutate(cfg)
	}
	g, err := gateway.New(cfg)
	require.NoError(t, err)
	return g
}

func defaultFake() *fakeOllama {
	return &fakeOllama{
		showJSON: `{"model_info":{"llama.context_length":8192},"template":"{{ .Messages }}"}`,
		embedDim: 3,
		chatJSON: `{"model":"llama3","created_at":"2026-08-30T10:00:00Z",
			"message":{"role":"assistant","content":"hi there"},
			"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":4}`,
	}
}

func post(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

func TestEmbeddingsHappyPath(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/v1/embeddings", `{"model":"nomic","input":"hello world"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.Bytes()
	assert.Equal(t, "list", gjson.GetBytes(body, "object").String())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "data.#").Int())
	assert.Equal(t, "embedding", gjson.GetBytes(body, "data.0.object").String())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "data.0.embedding.#").Int())
	assert.Equal(t, "nomic", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(7), gjson.GetBytes(body, "usage.prompt_tokens").Int())

	require.Len(t, fake.embedCalls, 1)
	sent := fake.embedCalls[0]
	assert.Equal(t, "hello world", gjson.GetBytes(sent, "input.0").String())
	assert.True(t, gjson.GetBytes(sent, "truncate").Bool())
	assert.Equal(t, int64(8192), gjson.GetBytes(sent, "options.num_ctx").Int())
}

func TestEmbeddingsOversizedInputIsChunked(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	input := strings.Repeat("lorem ipsum dolor sit amet. ", 200) // ~5600 chars
	payload, _ := json.Marshal(map[string]any{"model": "nomic", "input": input})

	rec := post(g.Handler(), "/v1/embeddings", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Greater(t, len(fake.embedCalls), 1, "oversized input should fan out per chunk")
	for i, call := range fake.embedCalls {
		chunk := gjson.GetBytes(call, "input.0").String()
		assert.LessOrEqual(t, len([]rune(chunk)), 2000, "chunk %d exceeds the cap", i)
	}

	// All chunk vectors collapse into a single embedding.
	body := rec.Body.Bytes()
	assert.Equal(t, int64(1), gjson.GetBytes(body, "data.#").Int())
	chunks := len(fake.embedCalls)
	assert.Equal(t, int64(chunks*10), gjson.GetBytes(body, "usage.prompt_tokens").Int())
}

func TestEmbeddingsChunkingDisabled(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, func(c *config.Config) { c.AutoChunking = false })
	payload, _ := json.Marshal(map[string]any{"model": "nomic", "input": strings.Repeat("x", 2500)})

	rec := post(g.Handler(), "/v1/embeddings", string(payload))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	msg := gjson.GetBytes(rec.Body.Bytes(), "error.message").String()
	assert.Contains(t, msg, "2500")
	assert.Contains(t, msg, "2000")
	assert.Empty(t, fake.embedCalls)
}

func TestEmbeddingsMissingModel(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", nil)
	rec := post(g.Handler(), "/v1/embeddings", `{"input":"hello"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_error", gjson.GetBytes(rec.Body.Bytes(), "error.type").String())
}

func TestEmbeddingsBackendUnreachable(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", nil)
	rec := post(g.Handler(), "/v1/embeddings", `{"model":"nomic","input":"hello"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEmbeddingsBackendErrorRelayedVerbatim(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/show" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic\" not found"}`))
	}))
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/v1/embeddings", `{"model":"nomic","input":"hello"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"model \"nomic\" not found"}`, rec.Body.String())
}

// =============================================================================
// CHAT COMPLETIONS
// =============================================================================

func TestChatCompletionsHappyPath(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/v1/chat/completions",
		`{"model":"llama3","messages":[{"role":"user","content":"hello"}],"max_tokens":256}`)

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.Bytes()
	assert.True(t, strings.HasPrefix(gjson.GetBytes(body, "id").String(), "chatcmpl-"))
	assert.Equal(t, "chat.completion", gjson.GetBytes(body, "object").String())
	assert.Equal(t, "hi there", gjson.GetBytes(body, "choices.0.message.content").String())
	assert.Equal(t, "stop", gjson.GetBytes(body, "choices.0.finish_reason").String())
	assert.Equal(t, int64(16), gjson.GetBytes(body, "usage.total_tokens").Int())

	require.Len(t, fake.chatCalls, 1)
	sent := fake.chatCalls[0]
	assert.False(t, gjson.GetBytes(sent, "stream").Bool())
	assert.True(t, gjson.GetBytes(sent, "stream").Exists(), "stream false must be explicit")
	assert.Equal(t, int64(256), gjson.GetBytes(sent, "options.num_predict").Int())
	assert.Equal(t, int64(8192), gjson.GetBytes(sent, "options.num_ctx").Int())
}

func TestChatStreamingDegradesToBuffered(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/v1/chat/completions",
		`{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	// One complete JSON object, not an event stream.
	assert.Equal(t, "chat.completion", gjson.GetBytes(rec.Body.Bytes(), "object").String())
	sent := fake.chatCalls[0]
	assert.False(t, gjson.GetBytes(sent, "stream").Bool())
}

// =============================================================================
// ROUTING
// =============================================================================

func TestCompletionsNotImplemented(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", nil)
	rec := post(g.Handler(), "/v1/completions", `{"model":"m","prompt":"hi"}`)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, gjson.GetBytes(rec.Body.Bytes(), "error.message").String(), "/v1/chat/completions")
}

func TestPrefixlessPathsNormalized(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/embeddings", `{"model":"nomic","input":"hello"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "list", gjson.GetBytes(rec.Body.Bytes(), "object").String())
}

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.GetBytes(rec.Body.Bytes(), "status").String())
}

// =============================================================================
// PASSTHROUGH
// =============================================================================

func TestPassthroughForwardsVerbatim(t *testing.T) {
	fake := defaultFake()
	backend := httptest.NewServer(fake.handler())
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "llama3", gjson.GetBytes(rec.Body.Bytes(), "models.0.name").String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestPassthroughClampsContext(t *testing.T) {
	var captured []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/show" {
			_, _ = w.Write([]byte(`{"model_info":{"llama.context_length":8192},"template":"{{ .Messages }}"}`))
			return
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		captured = buf.Bytes()
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/api/chat",
		`{"model":"llama3","messages":[{"role":"user","content":"hi"}],"options":{"num_ctx":131072}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(8192), gjson.GetBytes(captured, "options.num_ctx").Int())
}

func TestPassthroughSkipsModifiersWhenMetadataFails(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/show" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		// The body must arrive untouched.
		assert.Equal(t, int64(131072), gjson.GetBytes(buf.Bytes(), "options.num_ctx").Int())
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer backend.Close()

	g := newTestGateway(t, backend.URL, nil)
	rec := post(g.Handler(), "/api/generate",
		`{"model":"llama3","prompt":"hi","options":{"num_ctx":131072}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPassthroughBackendDown(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1", nil)
	rec := post(g.Handler(), "/api/tags", `{}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "gateway_error", gjson.GetBytes(rec.Body.Bytes(), "error.type").String())
}
