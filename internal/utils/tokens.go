package utils

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/arosboro/ollama-proxy/internal/config"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text.
// Uses the cl100k_base encoding when available; local models tokenize
// differently but the estimate is close enough for telemetry. Falls back to
// the chars-per-token heuristic when the encoding cannot be loaded.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return len(text) / config.TokenEstimateRatio
}
