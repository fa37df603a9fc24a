// Command server runs the guarded analytics API: rate limiting, cohort
// suppression, PII response scanning, and the audited read paths over the
// enforcement trail.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"edushield/internal/analytics"
	"edushield/internal/analytics/handler"
	analyticspg "edushield/internal/analytics/postgres"
	"edushield/internal/audit"
	"edushield/internal/audit/query"
	auditfile "edushield/internal/audit/store/file"
	auditpg "edushield/internal/audit/store/postgres"
	"edushield/internal/cohort"
	"edushield/internal/export"
	"edushield/internal/piiguard"
	"edushield/internal/platform/config"
	"edushield/internal/platform/httpserver"
	"edushield/internal/platform/logger"
	"edushield/internal/platform/metrics"
	"edushield/internal/platform/redis"
	ratelimitmw "edushield/internal/ratelimit/middleware"
	"edushield/internal/ratelimit/service"
	"edushield/internal/ratelimit/store/bucket"
	"edushield/pkg/platform/httputil"
	"edushield/pkg/platform/middleware/auth"
	"edushield/pkg/platform/middleware/metadata"
)

func main() {
	if err := run(); err != nil {
		logger.NewOperational().Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	oplog := logger.NewOperational()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// Audit sinks. The file stream is always on; postgres replaces it as the
	// primary when configured, the export stream stays a local file either way.
	fileStore, err := auditfile.New(cfg.Audit.LogPath)
	if err != nil {
		return err
	}
	defer fileStore.Close()

	exportStore, err := auditfile.New(cfg.Audit.ExportLogPath)
	if err != nil {
		return err
	}
	defer exportStore.Close()

	var primary audit.Store = fileStore
	if cfg.Postgres.URL != "" {
		pg, err := auditpg.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pg.Close()
		primary = pg
		log.Info("audit sink: postgres")
	} else {
		log.Info("audit sink: file", "path", cfg.Audit.LogPath)
	}

	recorder := audit.NewRecorder(primary, oplog,
		audit.WithExportStream(exportStore),
		audit.WithMetrics(m),
	)

	// Rate-limit counters: shared via Redis when configured, otherwise
	// process-local.
	var counters bucket.Store = bucket.NewInMemoryStore()
	if cfg.Redis.URL != "" {
		rc, err := redis.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		counters = bucket.NewRedisStore(rc.Client)
		log.Info("rate limit counters: redis")
	}
	limiter := service.New(counters, log,
		service.WithRecorder(recorder),
		service.WithMetrics(m),
	)

	cohortGuard := cohort.New(cfg.Cohort.MinCohortSize, log, cohort.WithMetrics(m))
	piiGuard := piiguard.New(log, piiguard.WithMetrics(m))
	querySvc := query.New(primary, recorder, log)
	exportGuard := export.New(export.Limits{
		MaxDays:          cfg.Export.MaxDays,
		MaxEntries:       cfg.Export.MaxEntries,
		WarningThreshold: cfg.Export.WarningThreshold,
		MinReasonLength:  cfg.Export.MinReasonLength,
	})

	var provider analytics.Provider = analytics.NewStaticProvider()
	if cfg.Postgres.URL != "" {
		pgProvider, err := analyticspg.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pgProvider.Close()
		provider = pgProvider
	}

	h := handler.New(provider, limiter, cohortGuard, piiGuard, recorder, querySvc, exportGuard, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(metadata.ClientMetadata)
		r.Use(auth.Authenticate(auth.NewHMACValidator(cfg.JWTSigningKey), log))
		r.Use(ratelimitmw.RateLimit(limiter))
		h.Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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
	g.Go(func() error {
		return rotateLoop(ctx, log, fileStore, cfg.Audit.RotateBytes)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// rotateLoop archives the audit file when it outgrows the configured size.
func rotateLoop(ctx context.Context, log *slog.Logger, store *auditfile.Store, rotateBytes int64) error {
	if rotateBytes <= 0 {
		return nil
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			size, err := store.Size()
			if err != nil {
				log.Error("audit log stat failed", "error", err)
				continue
			}
			if size < rotateBytes {
				continue
			}
			if err := store.Rotate(); err != nil {
				log.Error("audit log rotation failed", "error", err)
				continue
			}
			log.Info("audit log rotated", "size_bytes", size)
		}
	}
}
