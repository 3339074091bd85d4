// Package modifiers applies ordered safety transforms to outgoing
// native-protocol request bodies.
//
// DESIGN: each modifier implements one shared transform over the raw JSON
// payload; new safety rules append to the pipeline without touching call
// sites. Bodies are patched in place with gjson/sjson so passthrough
// requests keep fields the proxy does not model.
package modifiers

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/arosboro/ollama-proxy/internal/config"
	"github.com/arosboro/ollama-proxy/internal/metadata"
)

// Modifier inspects and possibly rewrites an outgoing request payload.
// It returns the (possibly unchanged) payload and whether it mutated it.
type Modifier interface {
	Name() string
	Modify(body []byte, meta metadata.ModelMetadata, maxContextOverride int) ([]byte, bool)
}

// pipeline order is fixed: generation limit first, then context limit.
var pipeline = []Modifier{
	GenerationLimitModifier{},
	ContextLimitModifier{},
}

// Apply runs the full pipeline and reports whether anything changed.
func Apply(body []byte, meta metadata.ModelMetadata, maxContextOverride int) ([]byte, bool) {
	modified := false
	for _, m := range pipeline {
		var changed bool
		body, changed = m.Modify(body, meta, maxContextOverride)
		if changed {
			log.Debug().Str("modifier", m.Name()).Msg("modifier applied")
			modified = true
		}
	}
	return body, modified
}

// isChatShaped reports whether the payload carries a messages array.
func isChatShaped(body []byte) bool {
	return gjson.GetBytes(body, "messages").Exists()
}

// =============================================================================
// GENERATION LIMIT
// =============================================================================

// GenerationLimitModifier bounds generation on chat-shaped payloads.
// Without an explicit limit the backend generates until it decides to stop,
// which on a looping model means indefinitely.
type GenerationLimitModifier struct{}

func (GenerationLimitModifier) Name() string { return "generation_limit" }

func (GenerationLimitModifier) Modify(body []byte, _ metadata.ModelMetadata, _ int) ([]byte, bool) {
	if !isChatShaped(body) {
		return body, false
	}
	if gjson.GetBytes(body, "options.num_predict").Exists() {
		return body, false
	}

	limit := config.DefaultNumPredict
	if maxTokens := gjson.GetBytes(body, "max_tokens"); maxTokens.Exists() {
		limit = int(maxTokens.Int())
	}

	out, err := sjson.SetBytes(body, "options.num_predict", limit)
	if err != nil {
		log.Warn().Err(err).Msg("failed to set generation limit")
		return body, false
	}
	log.Info().Int("num_predict", limit).Msg("generation limit set")
	return out, true
}

// =============================================================================
// CONTEXT LIMIT
// =============================================================================

// ContextLimitModifier clamps num_ctx to the effective context: the smaller
// of the model's trained context length and the configured override.
type ContextLimitModifier struct{}

func (ContextLimitModifier) Name() string { return "context_limit" }

func (ContextLimitModifier) Modify(body []byte, meta metadata.ModelMetadata, maxContextOverride int) ([]byte, bool) {
	effective := meta.EffectiveContext(maxContextOverride)
	modified := false

	// Explicit num_ctx may live in the options block or at the top level.
	for _, path := range []string{"options.num_ctx", "num_ctx"} {
		current := gjson.GetBytes(body, path)
		if !current.Exists() {
			continue
		}
		if int(current.Int()) > effective {
			out, err := sjson.SetBytes(body, path, effective)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to clamp num_ctx")
				continue
			}
			log.Warn().
				Int64("requested", current.Int()).
				Int("clamped_to", effective).
				Str("path", path).
				Msg("num_ctx exceeds effective context, clamping")
			body = out
			modified = true
		}
	}

	hasExplicit := gjson.GetBytes(body, "options.num_ctx").Exists() ||
		gjson.GetBytes(body, "num_ctx").Exists()

	if !hasExplicit {
		switch {
		case isChatShaped(body):
			// Chat payloads always get the effective context so the backend
			// never falls back to its global context setting.
			if out, err := sjson.SetBytes(body, "options.num_ctx", effective); err == nil {
				log.Info().Int("num_ctx", effective).Msg("set context size for chat request")
				body = out
				modified = true
			}
		case meta.Class == metadata.ClassEmbedding:
			// Skip when the override would inflate past the model's native
			// capacity.
			if effective <= meta.TrainedContextLength {
				if out, err := sjson.SetBytes(body, "options.num_ctx", effective); err == nil {
					log.Info().Int("num_ctx", effective).Msg("set context size for embedding request")
					body = out
					modified = true
				}
			}
		}
	}

	logContextAdvisory(body)
	return body, modified
}

// logContextAdvisory emits a tiered, informational-only severity for the
// resulting context size.
func logContextAdvisory(body []byte) {
	numCtx := gjson.GetBytes(body, "options.num_ctx")
	if !numCtx.Exists() {
		numCtx = gjson.GetBytes(body, "num_ctx")
	}
	if !numCtx.Exists() {
		return
	}

	n := numCtx.Int()
	switch {
	case n > 100000:
		log.Error().Int64("num_ctx", n).Msg("context size critical: expect heavy memory pressure")
	case n > 60000:
		log.Warn().Int64("num_ctx", n).Msg("context size very large")
	case n > 32000:
		log.Warn().Int64("num_ctx", n).Msg("context size large")
	case n > 16384:
		log.Info().Int64("num_ctx", n).Msg("context size above 16k")
	}
}
