// Package embeddings orchestrates chunked embedding of oversized inputs.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/arosboro/ollama-proxy/internal/chunker"
	"github.com/arosboro/ollama-proxy/internal/config"
	"github.com/arosboro/ollama-proxy/internal/ollama"
	"github.com/arosboro/ollama-proxy/internal/translator"
)

// EmbedFunc issues one native embed call. The gateway supplies an
// implementation that runs the modifier pipeline before sending.
type EmbedFunc func(ctx context.Context, req *ollama.EmbedRequest) (*ollama.EmbedResponse, error)

// InputTooLargeError names the offending size and the configured cap.
type InputTooLargeError struct {
	Length int
	Limit  int
}

func (e *InputTooLargeError) Error() string {
	return fmt.Sprintf("embedding input of %d characters is too large: the maximum is %d and auto-chunking is disabled", e.Length, e.Limit)
}

// PrepareInputs splits oversized inputs into chunks, leaving short inputs
// untouched and preserving order. It reports whether any chunking happened.
// When chunking is disabled and an input exceeds the cap, the error names
// both the offending size and the cap.
func PrepareInputs(inputs []string, maxLen int, autoChunk bool) ([]string, bool, error) {
	chunked := false
	out := make([]string, 0, len(inputs))
	for _, input := range inputs {
		length := utf8.RuneCountInString(input)
		if length <= maxLen {
			out = append(out, input)
			continue
		}
		if !autoChunk {
			return nil, false, &InputTooLargeError{Length: length, Limit: maxLen}
		}
		pieces := chunker.Chunk(input, maxLen)
		log.Info().
			Int("input_length", length).
			Int("max_len", maxLen).
			Int("chunks", len(pieces)).
			Msg("oversized embedding input chunked")
		out = append(out, pieces...)
		chunked = true
	}
	return out, chunked, nil
}

// Orchestrator issues native embedding calls, splitting oversized inputs
// through the chunker and mean-pooling the per-chunk vectors.
type Orchestrator struct {
	embed        EmbedFunc
	maxInputLen  int
	autoChunking bool
}

// NewOrchestrator creates an orchestrator with the configured input cap.
func NewOrchestrator(embed EmbedFunc, maxInputLen int, autoChunking bool) *Orchestrator {
	return &Orchestrator{
		embed:        embed,
		maxInputLen:  maxInputLen,
		autoChunking: autoChunking,
	}
}

// Embed runs the embedding flow for the given inputs. The returned chunk
// count is zero when no chunking occurred.
//
// When chunking occurs, the vectors of ALL chunks of ALL inputs are merged
// into a single mean-pooled vector. For a batch where only one of several
// inputs was oversized this collapses the whole batch into one embedding;
// that matches the behavior this gateway has always had, so it is kept until
// a product decision says otherwise.
func (o *Orchestrator) Embed(ctx context.Context, model string, inputs []string, numCtx int) (*ollama.EmbedResponse, int, error) {
	prepared, chunked, err := PrepareInputs(inputs, o.maxInputLen, o.autoChunking)
	if err != nil {
		return nil, 0, err
	}

	if !chunked {
		resp, err := o.embed(ctx, translator.EmbedRequestToNative(model, prepared, numCtx))
		if err != nil {
			return nil, 0, err
		}
		return resp, 0, nil
	}

	// One sequential native call per chunk; any backend error aborts the rest.
	var sum []float64
	vectors := 0
	for i, chunk := range prepared {
		resp, err := o.embedWithRetry(ctx, translator.EmbedRequestToNative(model, []string{chunk}, numCtx))
		if err != nil {
			return nil, 0, fmt.Errorf("embedding chunk %d/%d: %w", i+1, len(prepared), err)
		}
		for _, vec := range resp.Embeddings {
			if sum == nil {
				sum = make([]float64, len(vec))
			}
			// Later vectors with mismatched dimensionality contribute only
			// to the indexes they cover.
			for j := 0; j < len(vec) && j < len(sum); j++ {
				sum[j] += vec[j]
			}
			vectors++
		}
	}

	if vectors == 0 {
		return nil, 0, fmt.Errorf("backend returned no embeddings for %d chunks", len(prepared))
	}

	mean := make([]float64, len(sum))
	for j := range sum {
		mean[j] = sum[j] / float64(vectors)
	}

	log.Info().
		Int("chunks", len(prepared)).
		Int("dimensions", len(mean)).
		Msg("chunk embeddings mean-pooled into one vector")

	return &ollama.EmbedResponse{
		Model:           model,
		Embeddings:      [][]float64{mean},
		PromptEvalCount: len(prepared) * config.ChunkUsageTokensPerChunk,
	}, len(prepared), nil
}

// embedWithRetry wraps one chunk call with bounded retry: a fixed attempt
// count and fixed backoff. Timeouts fail immediately, and backend status
// errors abort so the backend's own error reaches the client unchanged.
func (o *Orchestrator) embedWithRetry(ctx context.Context, req *ollama.EmbedRequest) (*ollama.EmbedResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= config.ChunkRetryAttempts; attempt++ {
		resp, err := o.embed(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *ollama.StatusError
		if errors.As(err, &statusErr) || ollama.IsTimeout(err) {
			return nil, err
		}
		if attempt < config.ChunkRetryAttempts {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", config.ChunkRetryAttempts).
				Msg("chunk embed call failed, retrying")
			select {
			case <-time.After(config.ChunkRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}
