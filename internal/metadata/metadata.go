// Package metadata fetches and memoizes backend model capability info.
package metadata

import "github.com/arosboro/ollama-proxy/internal/config"

// ModelClass identifies what a model is for.
type ModelClass string

const (
	ClassChat      ModelClass = "chat"
	ClassEmbedding ModelClass = "embedding"
	ClassUnknown   ModelClass = "unknown"
)

// ModelMetadata holds the capability info the safety modifiers need.
// Immutable once constructed; one instance per model name.
type ModelMetadata struct {
	// TrainedContextLength is the context window the model was trained with.
	TrainedContextLength int

	// Class distinguishes chat from embedding models.
	Class ModelClass
}

// Default is used when capability info cannot be discovered.
func Default() ModelMetadata {
	return ModelMetadata{
		TrainedContextLength: config.DefaultContextLength,
		Class:                ClassUnknown,
	}
}

// EffectiveContext is the binding cap applied to outgoing context-size
// parameters: the smaller of the trained context and the configured override.
// Derived per request, never persisted.
func (m ModelMetadata) EffectiveContext(maxContextOverride int) int {
	if maxContextOverride < m.TrainedContextLength {
		return maxContextOverride
	}
	return m.TrainedContextLength
}
