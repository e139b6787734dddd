// Command server wires the verification engine: outcome store, notification
// hub, verifier and attestation adapters, reconciler, and the HTTP surface.
// Business logic lives in internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"veriflow/internal/audit"
	"veriflow/internal/jwttoken"
	"veriflow/internal/platform/config"
	"veriflow/internal/platform/httpserver"
	"veriflow/internal/platform/logger"
	platformredis "veriflow/internal/platform/redis"
	"veriflow/internal/verification/attest"
	"veriflow/internal/verification/handler"
	"veriflow/internal/verification/hub"
	"veriflow/internal/verification/metrics"
	"veriflow/internal/verification/service"
	"veriflow/internal/verification/store"
	"veriflow/internal/verification/verifier"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes, cleanup, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()
	notifications := hub.New(outcomes, log, hub.WithMetrics(m))

	proofVerifier := verifier.NewHTTPVerifier(cfg.VerifierURL, cfg.VerifierScope, cfg.VerifierTimeout)
	attester := attest.NewRelayAttester(cfg.AttestorURL, cfg.AttestorSigningKey, cfg.AttestorTimeout)

	opts := []service.Option{service.WithMetrics(m)}

	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			return err
		}
		publisher := audit.NewPublisher(256, log)
		worker := audit.NewWorker(sink, publisher.Inbox(), log)
		g.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		opts = append(opts, service.WithAuditor(publisher))
		log.Info("audit trail enabled", "topic", cfg.AuditTopic)
	}

	reconciler := service.New(outcomes, notifications, proofVerifier, attester, log, opts...)

	handlerOpts := []handler.Option{}
	if cfg.JWTSigningKey != "" {
		handlerOpts = append(handlerOpts, handler.WithJWTValidator(
			jwttoken.NewService(cfg.JWTSigningKey, cfg.JWTIssuer)))
		log.Info("bearer auth enabled")
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	handler.New(reconciler, notifications, log, handlerOpts...).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("starting veriflow", "addr", cfg.Addr, "store", string(cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStore selects the outcome store backend. Memory is the default; Redis
// and Postgres are opt-in for deployments that need outcomes to survive a
// restart.
func buildStore(ctx context.Context, cfg config.Server, log *slog.Logger) (store.OutcomeStore, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		if client == nil {
			log.Warn("redis store selected but VERIFLOW_REDIS_URL unset, using memory store")
			return store.NewInMemoryOutcomeStore(), noop, nil
		}
		var redisOpts []store.RedisOption
		if cfg.OutcomeTTL > 0 {
			redisOpts = append(redisOpts, store.WithTTL(cfg.OutcomeTTL))
		}
		return store.NewRedisOutcomeStore(client.Client, redisOpts...), func() { _ = client.Close() }, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, noop, err
		}
		pg := store.NewPostgresOutcomeStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return pg, pool.Close, nil
	default:
		return store.NewInMemoryOutcomeStore(), noop, nil
	}
}
