// Package translator maps between the OpenAI-compatible client protocol and
// the backend's native protocol for chat completions and embeddings.
package translator

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// CLIENT-FACING EMBEDDINGS SCHEMA
// =============================================================================

// EmbeddingInput is the client protocol's string-or-string-array input.
// The variant is resolved structurally at parse time.
type EmbeddingInput struct {
	values []string
	single bool
}

// UnmarshalJSON accepts either a single string or an array of strings.
func (e *EmbeddingInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.values = []string{s}
		e.single = true
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		e.values = list
		e.single = false
		return nil
	}
	return fmt.Errorf("input must be a string or an array of strings")
}

// MarshalJSON writes the variant back in its original shape.
func (e EmbeddingInput) MarshalJSON() ([]byte, error) {
	if e.single && len(e.values) == 1 {
		return json.Marshal(e.values[0])
	}
	return json.Marshal(e.values)
}

// Values returns the inputs as an ordered slice.
func (e EmbeddingInput) Values() []string { return e.values }

// EmbeddingsRequest is the client protocol embeddings request.
// Optional fields the backend has no equivalent for are parsed and ignored.
type EmbeddingsRequest struct {
	Model          string         `json:"model"`
	Input          EmbeddingInput `json:"input"`
	Dimensions     int            `json:"dimensions,omitempty"`
	EncodingFormat string         `json:"encoding_format,omitempty"`
	User           string         `json:"user,omitempty"`
}

// Embedding is one vector in the client protocol response.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingsUsage is the client protocol usage block for embeddings.
type EmbeddingsUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingsResponse is the client protocol embeddings response.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []Embedding     `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingsUsage `json:"usage"`
}

// =============================================================================
// CLIENT-FACING CHAT SCHEMA
// =============================================================================

// ChatMessage is one turn in the client protocol.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the client protocol chat request.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage is the client protocol usage block for chat.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the client protocol chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}
