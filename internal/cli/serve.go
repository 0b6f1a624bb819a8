package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/api"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/audit"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/config"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/events"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/generator"
	mw "github.com/convertscout/awesome-ai-prompts-sub000/internal/middleware"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/prompts"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/server"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/upstream"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Start the generator API with graceful shutdown on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// Usage ledger
	ld, err := openLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening usage ledger: %w", err)
	}
	defer ld.close()

	// Redis
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	counter, err := newCounter(cfg, rdb)
	if err != nil {
		return err
	}

	// NATS (optional)
	var (
		publisher  generator.EventPublisher
		natsClient *events.Client
	)
	if cfg.NATS.URL != "" {
		natsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer natsClient.Close()
		publisher = events.NewPublisher(natsClient.JetStream())
	}

	// Generator
	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Audience, cfg.JWT.Issuer)
	completer := upstream.New(cfg.Generator.UpstreamURL, cfg.Generator.APIKey,
		upstream.WithTimeout(cfg.Generator.Timeout),
		upstream.WithRateLimit(cfg.Generator.UpstreamRPS, cfg.Generator.UpstreamBurst),
	)
	svc := generator.NewService(verifier, ld.ledger, counter, completer, prompts.Builtin(), publisher, generator.Config{
		DailyLimit:       cfg.Generator.DailyLimit,
		Model:            cfg.Generator.Model,
		StrictPromptType: cfg.Generator.StrictPromptType,
	})
	handler := generator.NewHandler(svc)

	// Router
	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		HealthChecks:       []api.HealthCheck{{Name: "ledger", Check: ld.ledger.Ping}},
	}
	redisCheck := api.HealthCheck{Name: "redis"}
	if rdb != nil {
		redisCheck.Check = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		if cfg.RateLimit.Requests > 0 {
			routerCfg.GenerateRateLimiter = mw.NewRateLimiter(rdb, "generate", cfg.RateLimit.Requests, cfg.RateLimit.Window).Middleware
		}
	}
	natsCheck := api.HealthCheck{Name: "nats"}
	if natsClient != nil {
		natsCheck.Check = natsClient.Ping
	}
	routerCfg.HealthChecks = append(routerCfg.HealthChecks, redisCheck, natsCheck)

	handlers := api.HandlerSet{
		GeneratePrompt: handler.Generate,
		GetQuota:       handler.Quota,
		ListUsage:      handler.Usage,
		UsageStats:     handler.UsageStats,
		PromptTypes:    handler.PromptTypes,
		AuthMiddleware: auth.Middleware(verifier),
	}
	var auditRepo *audit.Repository
	if ld.pool != nil {
		auditRepo = audit.NewRepository(ld.pool)
		handlers.ListEvents = audit.NewHandler(auditRepo).ListEvents
	}
	router := api.NewRouter(routerCfg, handlers)

	g, gctx := errgroup.WithContext(ctx)

	// Audit persistence needs both the event stream and Postgres.
	if natsClient != nil && auditRepo != nil {
		consumer := audit.NewConsumer(auditRepo, events.NewConsumerManager(natsClient.JetStream()))
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
			return nil
		})
	} else if natsClient != nil {
		slog.Info("audit consumer disabled: generation events are persisted only with the postgres ledger")
	}

	srv := server.New(cfg.Server, router, cfg.Generator.Timeout+15*time.Second)
	g.Go(func() error { return srv.Start(gctx) })

	return g.Wait()
}
