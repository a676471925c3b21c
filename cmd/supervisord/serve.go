package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymesh/supervisor/agentrunner"
	"github.com/relaymesh/supervisor/checkpoint"
	"github.com/relaymesh/supervisor/config"
	"github.com/relaymesh/supervisor/convmemory"
	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/engine"
	"github.com/relaymesh/supervisor/llm"
	"github.com/relaymesh/supervisor/reasoner"
	"github.com/relaymesh/supervisor/routingcache"
	"github.com/relaymesh/supervisor/session"
	"github.com/relaymesh/supervisor/supervisor"
	"github.com/relaymesh/supervisor/telemetry"
	"github.com/relaymesh/supervisor/toolreg"
	"github.com/relaymesh/supervisor/tools/tavily"
	"github.com/relaymesh/supervisor/transport"
)

func serveCmd() *cobra.Command {
	var agentsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor behind WebSocket and SSE transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), agentsFile)
		},
	}
	cmd.Flags().StringVar(&agentsFile, "agents", "", "path to a YAML file describing the agent roster (default: built-in demo roster)")
	return cmd
}

func runServe(ctx context.Context, agentsFile string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := telemetry.NewClueLogger()
	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewPromMetrics(promReg)
	var tracer telemetry.Tracer = telemetry.NewNoopTracer()
	if cfg.OTLPEndpoint != "" {
		if err := setupOtelTracerProvider(ctx, cfg.OTLPEndpoint); err != nil {
			return err
		}
		tracer = telemetry.NewOtelTracer("supervisor")
	}

	llmClient, defaultModel, err := buildLLMClient()
	if err != nil {
		return err
	}

	agents, err := loadRoster(agentsFile, defaultModel)
	if err != nil {
		return err
	}

	registry := toolreg.New()
	if apiKey := os.Getenv("TAVILY_API_KEY"); apiKey != "" {
		client := tavily.New(tavily.Options{APIKey: apiKey})
		schema, err := toolreg.CompileSchema(tavily.Request{}, "tavily_request")
		if err != nil {
			return err
		}
		if err := registry.Register(tavily.Descriptor(client, toolreg.Descriptor{
			LatencyHint: toolreg.LatencyMedium,
			Schema:      schema,
		})); err != nil {
			return err
		}
		logger.Info(ctx, "registered tavily_search tool")
	} else {
		logger.Warn(ctx, "TAVILY_API_KEY not set, time-sensitive routing will have no web-search tool available")
	}

	agents = withCapabilities(agents, registry)

	if cfg.ReasonerArtifact == "" {
		logger.Warn(ctx, "REASONER_ARTIFACT not set, reasoner façade runs on fallback heuristics only")
	}
	facade := reasoner.New(nil, registry, reasoner.Config{
		MaxParallelAgents:    cfg.MaxParallelAgents,
		RecentYearThreshold:  cfg.RecentYearThreshold,
		DefaultAgent:         cfg.DefaultAgent,
		RoutingConfigVersion: "v1",
	}, logger, nil)

	cache, err := buildRoutingCache(cfg)
	if err != nil {
		return err
	}

	convStore, err := buildConversationStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runner := agentrunner.New(llmClient, registry, logger)
	sessions := session.New()

	checkpoints, err := checkpoint.NewFileStore(cfg.CheckpointDir)
	if err != nil {
		return err
	}

	eng := engine.NewInMemoryEngine(logger, metrics, tracer)

	sup, err := supervisor.New(agents, facade, registry, cache, runner, convStore, convStore.(convmemory.HistorySink), sessions, checkpoints, eng, cfg, logger, metrics, "v1")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewWSHandler(sup, sessions, cfg, logger))

	sseHandler := transport.NewSSEHandler(sup, sessions, logger)
	mux.HandleFunc("/sse", sseHandler.StartHandler)
	mux.HandleFunc("/sse/respond/", func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimPrefix(r.URL.Path, "/sse/respond/")
		if requestID == "" {
			http.NotFound(w, r)
			return
		}
		sseHandler.RespondHandler(requestID)(w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	logger.Info(ctx, "supervisord listening", "addr", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}

// setupOtelTracerProvider installs a batching OTLP/gRPC span exporter as
// the process-global TracerProvider, grounded on the pack's own
// InitGlobalTracer (kadirpekel-hector's pkg/observability/tracer.go):
// otlptracegrpc exporter, a semconv service-name resource, and
// otel.SetTracerProvider so every component's telemetry.NewOtelTracer call
// shares one provider and one batcher goroutine.
func setupOtelTracerProvider(ctx context.Context, endpoint string) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("supervisord")))
	if err != nil {
		return fmt.Errorf("build OTEL resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return nil
}

// withCapabilities derives each agent's Capabilities() from its declared
// tools, the way domain.AgentDescriptor.WithCapabilities documents (used by
// the Reasoner façade's routing normalization to find a web_search-capable
// agent).
func withCapabilities(agents []domain.AgentDescriptor, registry *toolreg.Registry) []domain.AgentDescriptor {
	lookup := func(tool string) []string {
		d, ok := registry.Resolve(tool)
		if !ok {
			return nil
		}
		return d.Capabilities
	}
	out := make([]domain.AgentDescriptor, len(agents))
	for i, a := range agents {
		out[i] = a.WithCapabilities(lookup)
	}
	return out
}

// buildLLMClient picks the configured LLM provider per the DOMAIN STACK's
// two shipped adapters, preferring Anthropic (the teacher's own direct
// dependency) and falling back to OpenAI (carried from haasonsaas-nexus).
func buildLLMClient() (llm.Client, string, error) {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		client, err := llm.NewAnthropicClientFromAPIKey(apiKey, model, llm.AnthropicOptions{MaxTokens: 4096})
		return client, model, err
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		client, err := llm.NewOpenAIClient(apiKey, llm.OpenAIOptions{DefaultModel: model, MaxTokens: 4096})
		return client, model, err
	}
	return nil, "", errNoLLMConfigured
}

var errNoLLMConfigured = errors.New("set ANTHROPIC_API_KEY or OPENAI_API_KEY to configure an LLM provider")

// buildRoutingCache wires the Redis-backed Routing Cache when REDIS_ADDR is
// set, otherwise the bounded in-memory LRU (spec §4.6).
func buildRoutingCache(cfg config.Config) (routingcache.Cache, error) {
	if cfg.RedisAddr == "" {
		return routingcache.NewMemoryCache(cfg.RoutingCacheMaxEntries), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return routingcache.NewRedisCache(client, "supervisor:routing:"), nil
}

// buildConversationStore wires the Postgres-backed store when POSTGRES_DSN
// is set, otherwise the in-memory map-backed default (spec §4.7). The
// returned value always also satisfies convmemory.HistorySink, which New's
// caller asserts at the call site.
func buildConversationStore(ctx context.Context, cfg config.Config, logger telemetry.Logger) (convmemory.ConversationStore, error) {
	if cfg.PostgresDSN == "" {
		return convmemory.NewMemStore(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	pg := convmemory.NewPgStore(pool, logger)
	if err := pg.Init(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}
