package ollama_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/arosboro/ollama-proxy/internal/ollama"
)

func TestInvokeReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := ollama.NewClient(server.URL, 5*time.Second)
	body, err := client.Invoke(context.Background(), "/api/embed", []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestInvokeWrapsErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such model"}`))
	}))
	defer server.Close()

	client := ollama.NewClient(server.URL, 5*time.Second)
	_, err := client.Invoke(context.Background(), "/api/chat", []byte(`{}`))
	require.Error(t, err)

	var statusErr *ollama.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.JSONEq(t, `{"error":"no such model"}`, string(statusErr.Body))
}

func TestShowSendsModelName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/show", r.URL.Path)
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		assert.Equal(t, "llama3:8b", gjson.GetBytes(body, "name").String())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := ollama.NewClient(server.URL, 5*time.Second)
	_, err := client.Show(context.Background(), "llama3:8b")
	assert.NoError(t, err)
}

func TestForwardPreservesQueryAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		assert.Equal(t, "verbose=1", r.URL.RawQuery)
		assert.Equal(t, "custom-value", r.Header.Get("X-Custom"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := ollama.NewClient(server.URL, 5*time.Second)

	inbound := httptest.NewRequest(http.MethodGet, "/api/tags?verbose=1", nil)
	inbound.Header.Set("X-Custom", "custom-value")

	resp, err := client.Forward(context.Background(), inbound, nil, false)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, ollama.IsTimeout(context.DeadlineExceeded))
	assert.False(t, ollama.IsTimeout(errors.New("connection refused")))
	assert.False(t, ollama.IsTimeout(&ollama.StatusError{StatusCode: 500}))
}
