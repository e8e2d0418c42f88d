package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	jwttoken "ampel/internal/jwt_token"
	kychandler "ampel/internal/kyc/handler"
	"ampel/internal/kyc/linker"
	kycmetrics "ampel/internal/kyc/metrics"
	"ampel/internal/kyc/persona"
	kycservice "ampel/internal/kyc/service"
	kycstore "ampel/internal/kyc/store"
	"ampel/internal/kyc/store/ledger"
	"ampel/internal/kyc/store/link"
	"ampel/internal/kyc/store/session"
	"ampel/internal/kyc/store/verification"
	"ampel/internal/platform/config"
	"ampel/internal/platform/httpserver"
	"ampel/internal/platform/logger"
	platformmetrics "ampel/internal/platform/metrics"
	"ampel/internal/platform/postgres"
	"ampel/internal/platform/redis"
	"ampel/pkg/platform/audit"
	"ampel/pkg/platform/audit/outbox"
	auditpublisher "ampel/pkg/platform/audit/publisher"
	kafkaaudit "ampel/pkg/platform/audit/store/kafka"
	auditmemory "ampel/pkg/platform/audit/store/memory"
	auditpostgres "ampel/pkg/platform/audit/store/postgres"
	"ampel/pkg/platform/httputil"
	"ampel/pkg/platform/middleware/metadata"
	request "ampel/pkg/platform/middleware/request"
	"ampel/pkg/platform/middleware/requesttime"
)

const (
	shutdownTimeout = 10 * time.Second
	auditBuffer     = 1024
)

// infra holds the optional backing services. Nil fields mean the in-memory
// fallback is in use.
type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kafkaaudit.Store
}

// main wires dependencies, exposes the HTTP router and the metrics endpoint,
// and keeps the server lifecycle small. Flow logic lives in internal/kyc.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Env, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		if cfg.IsProduction() {
			log.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
		log.Warn("configuration incomplete, vendor calls will fail", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	deps, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	kycMetrics := kycmetrics.New(reg)
	httpMetrics := platformmetrics.New(reg)

	auditStore, relay := buildAudit(deps, cfg, log)
	auditor := auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(auditBuffer),
		auditpublisher.WithLogger(log),
	)
	defer func() {
		if err := auditor.Close(); err != nil {
			log.Warn("audit publisher close", "error", err)
		}
	}()

	vendor := persona.New(persona.Config{
		BaseURL:    cfg.Persona.BaseURL,
		APIKey:     cfg.Persona.APIKey,
		APIVersion: cfg.Persona.APIVersion,
		Timeout:    cfg.Persona.Timeout,
	},
		persona.WithMetrics(kycMetrics),
		persona.WithTracer(otel.Tracer("ampel/kyc/persona")),
	)

	sessions, verifications, links, webhookLedger := buildStores(deps, cfg)
	accountLinker := linker.New(links, log)

	kyc := kycservice.New(kycservice.Config{
		BaseURL:       cfg.BaseURL,
		TemplateID:    cfg.Persona.TemplateID,
		WebhookSecret: cfg.Persona.WebhookSecret,
		SessionTTL:    cfg.SessionTTL,
	}, sessions, verifications, webhookLedger, vendor, accountLinker,
		kycservice.WithLogger(log),
		kycservice.WithAuditPublisher(auditor),
		kycservice.WithMetrics(kycMetrics),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	handler := kychandler.New(kyc, log, jwttoken.NewJWTServiceAdapter(jwtService))

	router := chi.NewRouter()
	router.Use(request.RequestID)
	router.Use(request.Recovery(log))
	router.Use(request.Logger(log))
	router.Use(requesttime.Middleware)
	router.Use(metadata.ClientMetadata)
	router.Use(platformmetrics.LatencyMiddleware(httpMetrics))
	router.Get("/healthz", deps.health)
	handler.Register(router)

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	servers := []*http.Server{
		httpserver.New(cfg.Addr, router),
		httpserver.New(cfg.MetricsAddr, metricsRouter),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("listening", "addr", srv.Addr, "env", cfg.Env)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		log.Info("servers stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if !cfg.IsProduction() {
			if err := kycstore.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		deps.db = db
		log.Info("using postgres stores")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close(log)
		return nil, err
	}
	deps.redis = rc

	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := kafkaaudit.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			deps.close(log)
			return nil, err
		}
		deps.kafka = ks
	}
	return deps, nil
}

// buildAudit picks the audit sink. With a database, events go to the
// Postgres outbox and, when Kafka is configured, a relay forwards them.
// Without a database Kafka receives events directly.
func buildAudit(deps *infra, cfg config.Server, log *slog.Logger) (audit.Store, *outbox.Relay) {
	switch {
	case deps.db != nil:
		store := auditpostgres.New(deps.db)
		if deps.kafka == nil {
			log.Info("audit events kept in the postgres outbox")
			return store, nil
		}
		log.Info("relaying audit outbox to kafka", "topic", cfg.Kafka.AuditTopic)
		return store, outbox.NewRelay(store, deps.kafka,
			outbox.WithInterval(cfg.Kafka.RelayInterval),
			outbox.WithBatch(cfg.Kafka.RelayBatch),
			outbox.WithLogger(log),
		)
	case deps.kafka != nil:
		log.Info("publishing audit events to kafka", "topic", cfg.Kafka.AuditTopic)
		return deps.kafka, nil
	default:
		log.Warn("no audit backend configured, audit events kept in memory")
		return auditmemory.NewInMemoryStore(), nil
	}
}

func buildStores(deps *infra, cfg config.Server) (kycservice.SessionStore, kycservice.VerificationStore, linker.Store, kycservice.Ledger) {
	var (
		sessions      kycservice.SessionStore      = session.NewInMemoryStore()
		verifications kycservice.VerificationStore = verification.NewInMemoryStore()
		links         linker.Store                 = link.NewInMemoryStore()
		webhookLedger kycservice.Ledger            = ledger.NewInMemoryLedger()
	)
	switch {
	case deps.db != nil && deps.redis != nil:
		webhookLedger = ledger.NewLayeredLedger(
			ledger.NewRedisLedger(deps.redis.Client, cfg.Redis.LedgerTTL),
			ledger.NewPostgresLedger(deps.db),
		)
	case deps.db != nil:
		webhookLedger = ledger.NewPostgresLedger(deps.db)
	case deps.redis != nil:
		webhookLedger = ledger.NewRedisLedger(deps.redis.Client, cfg.Redis.LedgerTTL)
	}
	if deps.db != nil {
		sessions = session.NewPostgres(deps.db)
		verifications = verification.NewPostgres(deps.db)
		links = link.NewPostgres(deps.db)
	}
	return sessions, verifications, links, webhookLedger
}

func (d *infra) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if d.db != nil {
		checks["postgres"] = "ok"
		if err := d.db.PingContext(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
	}
	if d.redis != nil {
		checks["redis"] = "ok"
		if err := d.redis.Health(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}
	if d.kafka != nil {
		checks["kafka"] = "ok"
		if err := d.kafka.Ping(ctx); err != nil {
			checks["kafka"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

func (d *infra) close(log *slog.Logger) {
	if d.kafka != nil {
		d.kafka.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Warn("redis close", "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Warn("postgres close", "error", err)
		}
	}
}
