package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/homechef/internal/domain/auth"
	"github.com/xenking/homechef/internal/domain/order"
	"github.com/xenking/homechef/internal/estimate"
	"github.com/xenking/homechef/internal/handler"
	"github.com/xenking/homechef/internal/outbox"
	"github.com/xenking/homechef/internal/storage/postgres"
	"github.com/xenking/homechef/pkg/health"
	"github.com/xenking/homechef/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Estimator reference tables, optionally overridden from a watched file.
	tables := estimate.NewTableStore(estimate.DefaultTables())
	var watcher *estimate.Watcher
	if cfg.RefDataPath != "" {
		watcher = &estimate.Watcher{Path: cfg.RefDataPath, Store: tables}
		if err := watcher.Reload(ctx); err != nil {
			return errors.Wrap(err, "load reference tables")
		}
	}

	// Repositories.
	accountRepo := postgres.NewAccountRepository(pool)
	dishRepo := postgres.NewDishRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	outboxStore := postgres.NewOutboxStore(pool)

	// Domain services.
	orderService, err := order.NewService(accountRepo, dishRepo, orderRepo,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	estimator, err := estimate.New(tables,
		estimate.WithLearningStore(postgres.NewCorrectionStore(pool)),
		estimate.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create estimator")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if cfg.Outbox.BacklogCheck {
		healthSvc.AddReadinessCheck("outbox", 5*time.Second,
			health.BacklogCheck(outboxStore.Backlog, cfg.Outbox.MaxBacklog),
			health.WithFailureThreshold(5),
		)
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)

	// HTTP routes.
	authn := handler.NewAuthenticator([]byte(cfg.JWTSecret))
	mux := http.NewServeMux()
	handler.NewHandler(orderService, estimator, authn).Register(mux)
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: rateLimitKey,
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("homechef-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			authn.Authenticate,
			limiter.Middleware(),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if cfg.Outbox.AMQPURL != "" {
		publisher, err := outbox.DialAMQP(cfg.Outbox.AMQPURL, cfg.Outbox.Exchange)
		if err != nil {
			return errors.Wrap(err, "dial amqp")
		}
		defer func() { _ = publisher.Close() }()

		relay, err := outbox.NewRelay(outboxStore, publisher,
			outbox.WithInterval(cfg.Outbox.Interval),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithMeterProvider(m.MeterProvider()),
		)
		if err != nil {
			return errors.Wrap(err, "create outbox relay")
		}
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		lg.Warn("Outbox relay disabled, events stay pending")
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// rateLimitKey buckets authenticated requests by subject and anonymous ones
// by client IP.
func rateLimitKey(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return "sub:" + id.SubjectID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
