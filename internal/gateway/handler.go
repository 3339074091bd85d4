// HTTP request handling for the proxy.
//
// DESIGN: Main request flow:
//   - handleProxy():           Entry point, translated-vs-passthrough dispatch
//   - handleEmbeddings():      Translated embeddings (with chunk orchestration)
//   - handleChatCompletions(): Translated chat (buffered, never streaming)
//   - handlePassthrough():     Verbatim forward + modifier pipeline + relay
//
// Also includes the health check and telemetry helpers.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/arosboro/ollama-proxy/internal/config"
	"github.com/arosboro/ollama-proxy/internal/embeddings"
	"github.com/arosboro/ollama-proxy/internal/metadata"
	"github.com/arosboro/ollama-proxy/internal/modifiers"
	"github.com/arosboro/ollama-proxy/internal/monitoring"
	"github.com/arosboro/ollama-proxy/internal/ollama"
	"github.com/arosboro/ollama-proxy/internal/translator"
	"github.com/arosboro/ollama-proxy/internal/utils"
)

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": Version,
	})
}

// handleProxy dispatches between translated and passthrough flows.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := requestID(r)

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeClientError(w, "failed to read request body")
		return
	}

	path := translator.NormalizePath(r.URL.Path)

	switch {
	case path == translator.PathEmbeddings:
		g.handleEmbeddings(w, r, body, reqID, start)
	case path == translator.PathChatCompletions:
		g.handleChatCompletions(w, r, body, reqID, start)
	case path == translator.PathCompletions:
		// Recognized client route with no native equivalent wired up.
		writeNotImplemented(w, "the legacy completions endpoint is not supported; use /v1/chat/completions")
		g.record(reqID, r, "completions", http.StatusNotImplemented, start, telemetryFields{})
	default:
		// The backend knows the normalized form only.
		r.URL.Path = path
		g.handlePassthrough(w, r, body, reqID, start)
	}
}

// =============================================================================
// TRANSLATED: EMBEDDINGS
// =============================================================================

func (g *Gateway) handleEmbeddings(w http.ResponseWriter, r *http.Request, body []byte, reqID string, start time.Time) {
	var req translator.EmbeddingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeClientError(w, "invalid embeddings request: "+err.Error())
		g.record(reqID, r, "embeddings", http.StatusBadRequest, start, telemetryFields{err: err.Error()})
		return
	}
	if req.Model == "" {
		writeClientError(w, "missing required field: model")
		g.record(reqID, r, "embeddings", http.StatusBadRequest, start, telemetryFields{err: "missing model"})
		return
	}

	meta := g.resolveMetadata(r, req.Model)
	effective := meta.EffectiveContext(g.config.MaxContextOverride)

	resp, chunks, err := g.orchestrator.Embed(r.Context(), req.Model, req.Input.Values(), effective)
	if err != nil {
		status := g.writeEmbedError(w, err)
		g.record(reqID, r, "embeddings", status, start, telemetryFields{model: req.Model, err: err.Error()})
		return
	}
	g.metrics.RecordEmbeddingChunks(chunks)

	out := translator.EmbedResponseFromNative(resp, req.Model)
	g.writeJSON(w, r, out, reqID, "embeddings", start, telemetryFields{
		model:        req.Model,
		promptTokens: out.Usage.PromptTokens,
		chunks:       chunks,
	})
}

// writeEmbedError distinguishes oversized-input rejections (a client error)
// from backend failures, returning the status written.
func (g *Gateway) writeEmbedError(w http.ResponseWriter, err error) int {
	var tooLarge *embeddings.InputTooLargeError
	if errors.As(err, &tooLarge) {
		writeClientError(w, err.Error())
		return http.StatusBadRequest
	}
	// Translated flows report timeouts as gateway errors, not 504.
	writeUpstreamError(w, err, http.StatusBadGateway)
	return upstreamStatus(err, http.StatusBadGateway)
}

// =============================================================================
// TRANSLATED: CHAT COMPLETIONS
// =============================================================================

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request, body []byte, reqID string, start time.Time) {
	var req translator.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeClientError(w, "invalid chat completion request: "+err.Error())
		g.record(reqID, r, "chat", http.StatusBadRequest, start, telemetryFields{err: err.Error()})
		return
	}
	if req.Model == "" {
		writeClientError(w, "missing required field: model")
		g.record(reqID, r, "chat", http.StatusBadRequest, start, telemetryFields{err: "missing model"})
		return
	}

	meta := g.resolveMetadata(r, req.Model)
	effective := meta.EffectiveContext(g.config.MaxContextOverride)

	native := translator.ChatRequestToNative(&req, effective)
	nativeBody, err := utils.MarshalNoEscape(native)
	if err != nil {
		writeInternalError(w, "failed to encode backend request")
		g.record(reqID, r, "chat", http.StatusInternalServerError, start, telemetryFields{model: req.Model, err: err.Error()})
		return
	}
	nativeBody, _ = modifiers.Apply(nativeBody, meta, g.config.MaxContextOverride)

	respBody, err := g.client.Invoke(r.Context(), translator.NativeChatPath, nativeBody)
	if err != nil {
		writeUpstreamError(w, err, http.StatusBadGateway)
		g.record(reqID, r, "chat", upstreamStatus(err, http.StatusBadGateway), start,
			telemetryFields{model: req.Model, err: err.Error()})
		return
	}

	var nativeResp ollama.ChatResponse
	if err := json.Unmarshal(respBody, &nativeResp); err != nil {
		writeInternalError(w, "failed to decode backend response")
		g.record(reqID, r, "chat", http.StatusInternalServerError, start, telemetryFields{model: req.Model, err: err.Error()})
		return
	}

	out := translator.ChatResponseFromNative(&nativeResp)

	// The backend occasionally omits eval counts; estimate for telemetry so
	// usage graphs do not show zero traffic.
	promptTokens := out.Usage.PromptTokens
	if promptTokens == 0 {
		var b bytes.Buffer
		for _, m := range req.Messages {
			b.WriteString(m.Content)
		}
		promptTokens = utils.EstimateTokens(b.String())
	}

	g.writeJSON(w, r, out, reqID, "chat", start, telemetryFields{
		model:            req.Model,
		promptTokens:     promptTokens,
		completionTokens: out.Usage.CompletionTokens,
	})
}

// =============================================================================
// PASSTHROUGH
// =============================================================================

func (g *Gateway) handlePassthrough(w http.ResponseWriter, r *http.Request, body []byte, reqID string, start time.Time) {
	forwardBody := body
	bodyRewritten := false
	model := extractModelName(body)

	if model != "" {
		if meta, err := g.cache.Get(r.Context(), model); err != nil {
			// Non-fatal: forward the original body unmodified.
			log.Warn().Err(err).Str("model", model).Msg("metadata fetch failed, skipping safety modifiers")
		} else {
			var changed bool
			forwardBody, changed = modifiers.Apply(body, meta, g.config.MaxContextOverride)
			bodyRewritten = changed
		}
	}

	resp, err := g.client.Forward(r.Context(), r, forwardBody, bodyRewritten)
	if err != nil {
		status := http.StatusBadGateway
		if ollama.IsTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, "backend request failed: "+err.Error(), "gateway_error", status)
		g.record(reqID, r, "passthrough", status, start, telemetryFields{model: model, err: err.Error()})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w, resp.Header)

	// Streamed sequences are relayed line by line; non-success responses are
	// always fully buffered even when the client requested streaming.
	if isStreamingRequest(body) && resp.StatusCode < 400 {
		w.WriteHeader(resp.StatusCode)
		lines := g.relayStream(w, resp.Body)
		g.metrics.RecordRelayLines(lines)
		g.record(reqID, r, "passthrough", resp.StatusCode, start, telemetryFields{model: model})
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("failed to read backend response")
		writeError(w, "failed to read backend response", "gateway_error", http.StatusBadGateway)
		g.record(reqID, r, "passthrough", http.StatusBadGateway, start, telemetryFields{model: model, err: err.Error()})
		return
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
	g.record(reqID, r, "passthrough", resp.StatusCode, start, telemetryFields{model: model})
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveMetadata fetches model metadata, substituting conservative defaults
// when the backend cannot be asked. Metadata failure never aborts a flow.
func (g *Gateway) resolveMetadata(r *http.Request, model string) metadata.ModelMetadata {
	meta, err := g.cache.Get(r.Context(), model)
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("metadata fetch failed, using defaults")
		return metadata.Default()
	}
	return meta
}

// extractModelName pulls a model identifier from a raw JSON body. Both the
// client protocol ("model") and the native protocol ("name") spellings count.
func extractModelName(body []byte) string {
	if m := gjson.GetBytes(body, "model"); m.Type == gjson.String {
		return m.String()
	}
	if m := gjson.GetBytes(body, "name"); m.Type == gjson.String {
		return m.String()
	}
	return ""
}

// isStreamingRequest checks if the request has "stream": true.
func isStreamingRequest(body []byte) bool {
	if !bytes.Contains(body, []byte(`"stream"`)) {
		return false
	}
	var req struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &req)
	return req.Stream
}

// copyHeaders copies HTTP headers from source to destination.
func copyHeaders(w http.ResponseWriter, src http.Header) {
	for k, v := range src {
		w.Header()[k] = v
	}
}

// decodeEmbedResponse parses a native embed response body.
func decodeEmbedResponse(body []byte) (*ollama.EmbedResponse, error) {
	var resp ollama.EmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// writeJSON writes a translated response and records telemetry.
func (g *Gateway) writeJSON(w http.ResponseWriter, r *http.Request, v any, reqID, route string, start time.Time, fields telemetryFields) {
	out, err := utils.MarshalNoEscape(v)
	if err != nil {
		writeInternalError(w, "failed to encode response")
		fields.err = err.Error()
		g.record(reqID, r, route, http.StatusInternalServerError, start, fields)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
	g.record(reqID, r, route, http.StatusOK, start, fields)
}

// telemetryFields carries optional per-request telemetry values.
type telemetryFields struct {
	model            string
	promptTokens     int
	completionTokens int
	chunks           int
	err              string
}

// record persists one request event when telemetry is enabled.
func (g *Gateway) record(reqID string, r *http.Request, route string, status int, start time.Time, fields telemetryFields) {
	g.metrics.RecordRequest(route, status, time.Since(start))
	if !g.tracker.Enabled() {
		return
	}
	g.tracker.RecordRequest(&monitoring.RequestEvent{
		RequestID:        reqID,
		Timestamp:        start,
		Method:           r.Method,
		Path:             r.URL.Path,
		Route:            route,
		Model:            fields.model,
		StatusCode:       status,
		DurationMs:       time.Since(start).Milliseconds(),
		PromptTokens:     fields.promptTokens,
		CompletionTokens: fields.completionTokens,
		Chunks:           fields.chunks,
		Error:            fields.err,
	})
}
