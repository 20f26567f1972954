package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vaxtrack/vaxtrack/internal/config"
	"github.com/vaxtrack/vaxtrack/internal/domain/appointment"
	"github.com/vaxtrack/vaxtrack/internal/domain/catalog"
	"github.com/vaxtrack/vaxtrack/internal/domain/directory"
	"github.com/vaxtrack/vaxtrack/internal/domain/dosing"
	"github.com/vaxtrack/vaxtrack/internal/domain/enrollment"
	"github.com/vaxtrack/vaxtrack/internal/domain/slot"
	"github.com/vaxtrack/vaxtrack/internal/platform/auth"
	"github.com/vaxtrack/vaxtrack/internal/platform/db"
	"github.com/vaxtrack/vaxtrack/internal/platform/lock"
	"github.com/vaxtrack/vaxtrack/internal/platform/metrics"
	"github.com/vaxtrack/vaxtrack/internal/platform/middleware"
	"github.com/vaxtrack/vaxtrack/internal/platform/payment"
	"github.com/vaxtrack/vaxtrack/internal/store/memory"
)

// stores is the persistence surface the services are built from. It is
// backed by Postgres in normal operation and by the memory store in sandbox
// mode.
type stores struct {
	appointments appointment.Repository
	enrollments  enrollment.Repository
	doses        enrollment.DoseRepository
	pending      enrollment.PendingStore
	catalog      catalog.Repository
	directory    directory.Repository
	slots        slot.Repository
	tx           db.TxRunner
	health       db.Pinger
	locker       lock.Locker
	cleanup      []func()
}

func runServer(sandbox bool) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || sandbox {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(!sandbox); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid clinic timezone")
	}

	ctx := context.Background()
	var st *stores
	if sandbox {
		st = sandboxStores(loc, logger)
	} else {
		st, err = postgresStores(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open stores")
		}
	}
	defer func() {
		for _, fn := range st.cleanup {
			fn()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	// Services
	engine := enrollment.NewEngine(st.catalog, st.enrollments, st.doses, st.pending, st.tx, rec, logger)
	guard := slot.NewGuard(st.slots, st.locker, st.tx, cfg.SlotCapacity, logger)
	workflow := appointment.NewWorkflow(appointment.Deps{
		Repo:              st.appointments,
		Directory:         st.directory,
		Catalog:           st.catalog,
		Enrollments:       engine,
		Slots:             guard,
		Tx:                st.tx,
		Metrics:           rec,
		Logger:            logger,
		Location:          loc,
		ObservationPeriod: cfg.ObservationPeriod(),
	})
	enrollmentSvc := enrollment.NewService(st.enrollments, st.doses, st.tx, loc, logger)
	catalogSvc := catalog.NewService(st.catalog, st.tx, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(rec.Middleware())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.StaffHeader},
	}))

	e.GET("/health", db.HealthHandler(st.health))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	// The payment provider authenticates with a body signature, not a staff token.
	appointmentHandler := appointment.NewHandler(workflow, payment.NewVerifier(cfg.PaymentWebhookSecret))
	appointmentHandler.RegisterCallback(e.Group(""))

	var authn echo.MiddlewareFunc
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled: requests act as the X-Staff-ID header")
		authn = auth.DevAuthMiddleware()
	} else {
		authn = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	apiV1 := e.Group("/api/v1", authn, middleware.Audit(logger))

	appointmentHandler.RegisterRoutes(apiV1)
	enrollment.NewHandler(enrollmentSvc).RegisterRoutes(apiV1)
	slot.NewHandler(guard).RegisterRoutes(apiV1)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("sandbox", sandbox).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func sandboxStores(loc *time.Location, logger zerolog.Logger) *stores {
	s := memory.New()
	demo := memory.SeedDemo(s, dosing.Today(time.Now(), loc))
	logger.Info().
		Str("doctor_id", demo.DoctorID.String()).
		Str("child_id", demo.ChildID.String()).
		Msg("sandbox store seeded")
	return &stores{
		appointments: s.Appointments(),
		enrollments:  s.Enrollments(),
		doses:        s.Doses(),
		pending:      s.Pending(),
		catalog:      s.Catalog(),
		directory:    s.Directory(),
		slots:        s.Slots(),
		tx:           s,
		health:       s,
		locker:       lock.NewKeyedMutex(),
	}
}

func postgresStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	st := &stores{
		appointments: appointment.NewRepoPG(pool),
		enrollments:  enrollment.NewRepoPG(pool),
		doses:        enrollment.NewDoseRepoPG(pool),
		pending:      enrollment.NewPendingStorePG(pool),
		catalog:      catalog.NewRepoPG(pool),
		directory:    directory.NewRepoPG(pool),
		slots:        slot.NewRepoPG(pool),
		tx:           db.NewTxRunner(pool),
		health:       pool,
		locker:       lock.NewKeyedMutex(),
		cleanup:      []func(){pool.Close},
	}

	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		st.locker = lock.NewRedisLocker(client, 10*time.Second, logger)
		st.cleanup = append(st.cleanup, func() { _ = client.Close() })
		logger.Info().Msg("slot locks held in redis")
	}
	return st, nil
}
