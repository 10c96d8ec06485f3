package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderkeeper/internal/catalog/httpcatalog"
	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
	"github.com/xenking/orderkeeper/internal/handler"
	"github.com/xenking/orderkeeper/internal/messaging"
	"github.com/xenking/orderkeeper/internal/storage/postgres"
	"github.com/xenking/orderkeeper/pkg/health"
	"github.com/xenking/orderkeeper/pkg/httpmiddleware"
)

// deps holds the dependencies shared by the API server and the archiver.
type deps struct {
	pool     *pgxpool.Pool
	health   *health.Health
	products *postgres.ProductRepository
	orders   *order.Service
	archiver *archive.Service
	producer *messaging.Producer
}

func (d *deps) Close(lg *zap.Logger) {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			lg.Warn("Close producer", zap.Error(err))
		}
	}
	d.pool.Close()
}

// newDeps opens the database, applies migrations when enabled and builds the
// domain services.
func newDeps(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) (*deps, error) {
	if cfg.Migrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}

	d := &deps{
		pool:     pool,
		health:   health.New(),
		products: postgres.NewProductRepository(pool),
	}
	d.health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	d.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var catalog order.PriceCatalog = d.products
	if cfg.Catalog.URL != "" {
		catalog = httpcatalog.New(cfg.Catalog.URL, httpcatalog.Options{
			Timeout:    cfg.Catalog.Timeout,
			RetryCount: cfg.Catalog.Retries,
		})
		lg.Info("Using remote catalog", zap.String("url", cfg.Catalog.URL))
	}

	orderOpts := []order.Option{
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}
	archiveOpts := []archive.Option{
		archive.WithBucketing(cfg.Bucketing()),
		archive.WithTracerProvider(m.TracerProvider()),
		archive.WithMeterProvider(m.MeterProvider()),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		d.producer = messaging.NewProducer(
			messaging.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			cfg.Kafka.Topic,
			m.TracerProvider(),
		)
		orderOpts = append(orderOpts, order.WithPublisher(d.producer))
		archiveOpts = append(archiveOpts, archive.WithPublisher(d.producer))
		lg.Info("Publishing events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	d.orders = order.NewService(catalog, postgres.NewOrderRepository(pool), orderOpts...)
	d.archiver = archive.NewService(postgres.NewArchiveRepository(pool), archiveOpts...)
	return d, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. With archival enabled the scheduler runs alongside the server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	d, err := newDeps(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer d.Close(lg)

	server := newServer(cfg.Addr, newAPIHandler(ctx, cfg, d, m))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Archive.Enabled {
		sched := archive.NewScheduler(d.archiver, archive.SchedulerConfig{
			Interval:  cfg.Archive.Interval,
			Retention: cfg.Archive.Retention,
			Timeout:   cfg.Archive.Timeout,
		})
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	serve(gctx, g, lg, cfg.Graceful, d.health, server)
	return g.Wait()
}

// RunArchiver runs archival without the order API. With Archive.Once set it
// performs a single run and returns; otherwise it runs the scheduler and
// serves only the health endpoints, reporting not ready when runs stop
// completing.
func RunArchiver(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	d, err := newDeps(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer d.Close(lg)

	if cfg.Archive.Once {
		runCtx := ctx
		if cfg.Archive.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, cfg.Archive.Timeout)
			defer cancel()
		}
		res, err := d.archiver.ArchiveOrdersOlderThan(runCtx, cfg.Archive.Retention)
		if errors.Is(err, archive.ErrArchivalInProgress) {
			lg.Info("Archival skipped, another run in progress")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "archive")
		}
		lg.Info("Archival finished",
			zap.String("run_id", res.RunID),
			zap.Time("cutoff", res.Cutoff),
			zap.Int("orders", res.ArchivedOrders),
			zap.Stringer("total", res.Total),
		)
		return nil
	}

	// A run may legitimately take up to Timeout, and one missed tick is
	// tolerated before readiness flips.
	beat := health.NewHeartbeat()
	d.health.AddReadinessCheck("archive", time.Second,
		beat.Check(2*cfg.Archive.Interval+cfg.Archive.Timeout))

	sched := archive.NewScheduler(d.archiver, archive.SchedulerConfig{
		Interval:  cfg.Archive.Interval,
		Retention: cfg.Archive.Retention,
		Timeout:   cfg.Archive.Timeout,
		OnSuccess: func(*archive.Result) { beat.Beat() },
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", d.health.LiveEndpoint)
	mux.HandleFunc("/readyz", d.health.ReadyEndpoint)
	server := newServer(cfg.Addr, httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	serve(gctx, g, lg, cfg.Graceful, d.health, server)
	return g.Wait()
}

// newAPIHandler builds the order API router with health endpoints and the
// middleware chain.
func newAPIHandler(ctx context.Context, cfg *Config, d *deps, m httpmiddleware.Telemetry) http.Handler {
	h := handler.New(
		handler.Config{Retention: cfg.Archive.Retention},
		d.orders,
		d.archiver,
		d.products,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", d.health.LiveEndpoint)
	mux.HandleFunc("/readyz", d.health.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins: cfg.CORS.Origins,
			Headers: []string{"Content-Type", "X-Request-ID"},
			MaxAge:  86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   isProbe,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("orders-api", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              addr,
		Handler:           h,
	}
}

// serve starts server in g and drains it once ctx is done: readiness is
// dropped first, then the server is shut down after the readiness delay.
func serve(ctx context.Context, g *errgroup.Group, lg *zap.Logger, cfg GracefulConfig, hs *health.Health, server *http.Server) {
	hs.Start(ctx, 10*time.Second)
	hs.SetReady(true)

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		hs.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.ReadinessDelay))
		time.Sleep(cfg.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		hs.Stop()
		return nil
	})
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}
