package metadata

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/arosboro/ollama-proxy/internal/config"
)

// ShowClient issues the backend describe-model call and returns its raw JSON.
type ShowClient interface {
	Show(ctx context.Context, model string) ([]byte, error)
}

// Cache maps model name to ModelMetadata, process-wide.
//
// Entries are written once per key and never invalidated: a model reloaded on
// the backend with a different context length is not re-detected until the
// proxy restarts. Concurrent misses for the same key may both fetch and both
// write; the computed value is deterministic, so last write wins is safe.
type Cache struct {
	mu     sync.RWMutex
	models map[string]ModelMetadata
	client ShowClient
}

// NewCache creates an empty cache backed by the given client.
func NewCache(client ShowClient) *Cache {
	return &Cache{
		models: make(map[string]ModelMetadata),
		client: client,
	}
}

// Get returns cached metadata for model, fetching it from the backend on a
// miss. Fetch failures return an error and cache nothing, so a later call
// retries.
func (c *Cache) Get(ctx context.Context, model string) (ModelMetadata, error) {
	c.mu.RLock()
	meta, ok := c.models[model]
	c.mu.RUnlock()
	if ok {
		log.Debug().Str("model", model).Msg("metadata cache hit")
		return meta, nil
	}

	log.Debug().Str("model", model).Msg("metadata cache miss, querying backend")

	raw, err := c.client.Show(ctx, model)
	if err != nil {
		return ModelMetadata{}, err
	}
	meta = parseShowResponse(raw)

	c.mu.Lock()
	c.models[model] = meta
	c.mu.Unlock()

	log.Debug().
		Str("model", model).
		Int("trained_context", meta.TrainedContextLength).
		Str("class", string(meta.Class)).
		Msg("metadata cached")
	return meta, nil
}

// parseShowResponse extracts capability info from a describe-model response.
func parseShowResponse(raw []byte) ModelMetadata {
	return ModelMetadata{
		TrainedContextLength: extractContextLength(raw),
		Class:                extractModelClass(raw),
	}
}

// extractContextLength probes the response in order: capability-map keys
// mentioning context, nested parameters num_ctx, a PARAMETER line in the
// modelfile, and finally a num_ctx token in the parameters string.
func extractContextLength(raw []byte) int {
	// model_info holds flat capability keys like "llama.context_length".
	found := 0
	gjson.GetBytes(raw, "model_info").ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if strings.Contains(name, "context") || strings.Contains(name, "ctx") {
			if n := value.Int(); n > 0 {
				log.Debug().Str("key", name).Int64("value", n).Msg("context length from model_info")
				found = int(n)
				return false
			}
		}
		return true
	})
	if found > 0 {
		return found
	}

	if n := gjson.GetBytes(raw, "details.parameters.num_ctx").Int(); n > 0 {
		log.Debug().Int64("value", n).Msg("context length from details.parameters")
		return int(n)
	}

	if modelfile := gjson.GetBytes(raw, "modelfile").String(); modelfile != "" {
		if n, ok := ctxFromModelfile(modelfile); ok {
			log.Debug().Int("value", n).Msg("context length from modelfile")
			return n
		}
	}

	if params := gjson.GetBytes(raw, "parameters").String(); params != "" {
		if n, ok := ctxFromParams(params); ok {
			log.Debug().Int("value", n).Msg("context length from parameters string")
			return n
		}
	}

	log.Warn().Msgf("could not find trained context length in model info, using default %d",
		config.DefaultContextLength)
	return config.DefaultContextLength
}

// ctxFromModelfile looks for a "PARAMETER num_ctx <N>" line.
func ctxFromModelfile(modelfile string) (int, bool) {
	for _, line := range strings.Split(modelfile, "\n") {
		if strings.Contains(strings.ToLower(line), "parameter") && strings.Contains(line, "num_ctx") {
			if n, ok := lastFieldInt(line); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// ctxFromParams looks for a num_ctx token in a free-form parameters string.
func ctxFromParams(params string) (int, bool) {
	for _, line := range strings.Split(params, "\n") {
		if strings.Contains(line, "num_ctx") {
			if n, ok := lastFieldInt(line); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func lastFieldInt(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// extractModelClass decides chat vs embedding. Embedding models mention
// "embed" in their modelfile or carry an empty/trivial prompt template.
func extractModelClass(raw []byte) ModelClass {
	if modelfile := gjson.GetBytes(raw, "modelfile"); modelfile.Exists() {
		if strings.Contains(strings.ToLower(modelfile.String()), "embed") {
			return ClassEmbedding
		}
	}
	if template := gjson.GetBytes(raw, "template"); template.Exists() {
		t := strings.TrimSpace(template.String())
		if t == "" || t == "{{ .Prompt }}" {
			return ClassEmbedding
		}
	}
	return ClassChat
}
