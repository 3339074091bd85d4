// Package gateway implements the OpenAI-compatible reverse proxy in front of
// a local Ollama backend.
//
// DESIGN: Transparent proxy that keeps backend requests inside safe limits:
//  1. Receive an OpenAI-format request from the client
//  2. Translated routes (/v1/embeddings, /v1/chat/completions): decode the
//     client schema, resolve model metadata, translate to the native API
//  3. Everything else: forward verbatim after the safety modifier pipeline
//  4. Clamp context/generation parameters the backend does not police itself
//  5. Relay streaming passthrough responses line by line with backpressure
//
// FILES: gateway.go (init), handler.go (dispatch + flows), relay.go
// (streaming), middleware.go, errors.go.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/arosboro/ollama-proxy/internal/config"
	"github.com/arosboro/ollama-proxy/internal/embeddings"
	"github.com/arosboro/ollama-proxy/internal/metadata"
	"github.com/arosboro/ollama-proxy/internal/modifiers"
	"github.com/arosboro/ollama-proxy/internal/monitoring"
	"github.com/arosboro/ollama-proxy/internal/ollama"
	"github.com/arosboro/ollama-proxy/internal/translator"
	"github.com/arosboro/ollama-proxy/internal/utils"
)

const (
	// HeaderRequestID carries a caller-chosen request id, echoed in telemetry.
	HeaderRequestID = "X-Request-ID"

	// Version reported by the health endpoint.
	Version = "1.0.0"
)

// Gateway is the proxy service: one backend client, one metadata cache, one
// orchestrator, shared by every request.
type Gateway struct {
	config       *config.Config
	client       *ollama.Client
	cache        *metadata.Cache
	orchestrator *embeddings.Orchestrator
	metrics      *monitoring.Metrics
	tracker      *monitoring.Tracker
	server       *http.Server
}

// New creates a gateway for the given configuration.
func New(cfg *config.Config) (*Gateway, error) {
	client := ollama.NewClient(cfg.OllamaHost, cfg.RequestTimeout())

	tracker, err := monitoring.NewTracker(cfg.Telemetry.Enabled, cfg.Telemetry.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry, continuing without it")
		tracker, _ = monitoring.NewTracker(false, "")
	}

	g := &Gateway{
		config:  cfg,
		client:  client,
		cache:   metadata.NewCache(client),
		metrics: monitoring.NewMetrics(),
		tracker: tracker,
	}
	g.orchestrator = embeddings.NewOrchestrator(g.sendEmbed, cfg.MaxEmbeddingInputLength, cfg.AutoChunking)

	mux := http.NewServeMux()
	g.setupRoutes(mux)

	g.server = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        g.panicRecovery(g.loggingMiddleware(mux)),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute, // resets per write, safe for streaming
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return g, nil
}

// setupRoutes configures the HTTP routes for the gateway.
func (g *Gateway) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(g.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/", g.handleProxy)
}

// sendEmbed marshals a native embed request, runs the modifier pipeline and
// issues the call. Used for both direct and per-chunk embedding requests.
func (g *Gateway) sendEmbed(ctx context.Context, req *ollama.EmbedRequest) (*ollama.EmbedResponse, error) {
	body, err := utils.MarshalNoEscape(req)
	if err != nil {
		return nil, err
	}

	meta, err := g.cache.Get(ctx, req.Model)
	if err != nil {
		meta = metadata.Default()
	}
	body, _ = modifiers.Apply(body, meta, g.config.MaxContextOverride)

	respBody, err := g.client.Invoke(ctx, translator.NativeEmbedPath, body)
	if err != nil {
		return nil, err
	}
	return decodeEmbedResponse(respBody)
}

// Start starts the gateway.
func (g *Gateway) Start() error {
	log.Info().
		Str("listen", g.config.ListenAddr).
		Str("backend", g.config.OllamaHost).
		Msg("gateway starting")
	return g.server.ListenAndServe()
}

// Handler returns the HTTP handler for testing purposes.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Shutdown gracefully shuts down the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	log.Info().Msg("gateway shutting down")
	if g.tracker != nil {
		g.tracker.Close()
	}
	return g.server.Shutdown(ctx)
}
