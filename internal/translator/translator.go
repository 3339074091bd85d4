package translator

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arosboro/ollama-proxy/internal/ollama"
)

// Client protocol paths with translated flows.
const (
	PathEmbeddings      = "/v1/embeddings"
	PathChatCompletions = "/v1/chat/completions"
	PathCompletions     = "/v1/completions"
)

// Native backend paths.
const (
	NativeEmbedPath = "/api/embed"
	NativeChatPath  = "/api/chat"
)

// NormalizePath maps prefix-less client paths onto their /v1 forms.
// Some clients send /embeddings instead of /v1/embeddings.
func NormalizePath(path string) string {
	switch path {
	case "/embeddings", "/chat/completions", "/completions", "/models":
		return "/v1" + path
	}
	return path
}

// NeedsTranslation reports whether the client path has a translated flow.
// Everything else is byte-for-byte passthrough.
func NeedsTranslation(path string) bool {
	return path == PathEmbeddings || path == PathChatCompletions
}

// NativeEndpoint returns the backend path for a translated client path.
func NativeEndpoint(path string) string {
	switch path {
	case PathEmbeddings:
		return NativeEmbedPath
	case PathChatCompletions:
		return NativeChatPath
	}
	return path
}

// =============================================================================
// EMBEDDINGS
// =============================================================================

// EmbedRequestToNative builds the native embed request. inputs is the
// (possibly chunked) ordered input sequence, numCtx the effective context.
func EmbedRequestToNative(model string, inputs []string, numCtx int) *ollama.EmbedRequest {
	truncate := true
	log.Debug().
		Str("model", model).
		Int("inputs", len(inputs)).
		Int("num_ctx", numCtx).
		Msg("translating embeddings request to native format")
	return &ollama.EmbedRequest{
		Model:    model,
		Input:    inputs,
		Truncate: &truncate,
		Options:  &ollama.Options{NumCtx: numCtx},
	}
}

// EmbedResponseFromNative maps a native embed response to the client schema.
// Each vector keeps its position in the native response as its index.
func EmbedResponseFromNative(resp *ollama.EmbedResponse, model string) *EmbeddingsResponse {
	data := make([]Embedding, 0, len(resp.Embeddings))
	for i, vec := range resp.Embeddings {
		data = append(data, Embedding{
			Object:    "embedding",
			Embedding: vec,
			Index:     i,
		})
	}
	return &EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  model,
		Usage: EmbeddingsUsage{
			PromptTokens: resp.PromptEvalCount,
			TotalTokens:  resp.PromptEvalCount,
		},
	}
}

// =============================================================================
// CHAT
// =============================================================================

// keepAlive returns the model keep-alive hint for a context size. Large
// contexts take long enough to generate that the backend may otherwise
// unload the model mid-request.
func keepAlive(numCtx int) string {
	switch {
	case numCtx > 32000:
		return "10m"
	case numCtx > 16000:
		return "5m"
	}
	return ""
}

// ChatRequestToNative builds the native chat request.
// Streaming is not supported on this translated endpoint; a streaming
// request degrades to buffered and the limitation is logged.
func ChatRequestToNative(req *ChatCompletionRequest, numCtx int) *ollama.ChatRequest {
	if req.Stream {
		log.Warn().
			Str("model", req.Model).
			Msg("streaming requested on translated chat endpoint; responding non-streaming")
	}

	messages := make([]ollama.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, ollama.ChatMessage{Role: m.Role, Content: m.Content})
	}

	opts := &ollama.Options{
		NumCtx:      numCtx,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens != nil {
		opts.NumPredict = *req.MaxTokens
	}

	return &ollama.ChatRequest{
		Model:     req.Model,
		Messages:  messages,
		Stream:    false,
		Options:   opts,
		KeepAlive: keepAlive(numCtx),
	}
}

// finishReason maps the native done/done_reason pair onto the client values.
func finishReason(done bool, doneReason string) string {
	switch doneReason {
	case "stop":
		return "stop"
	case "length":
		return "length"
	}
	if done {
		return "stop"
	}
	return "length"
}

// ChatResponseFromNative synthesizes the client chat response.
func ChatResponseFromNative(resp *ollama.ChatResponse) *ChatCompletionResponse {
	created := time.Now().Unix()
	if ts, err := time.Parse(time.RFC3339Nano, resp.CreatedAt); err == nil {
		created = ts.Unix()
	}

	return &ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: created,
		Model:   resp.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: resp.Message.Role, Content: resp.Message.Content},
			FinishReason: finishReason(resp.Done, resp.DoneReason),
		}},
		Usage: ChatUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
}
