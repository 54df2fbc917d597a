package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cabinet/booking/internal/config"
	"github.com/cabinet/booking/internal/domain/scheduling"
	"github.com/cabinet/booking/internal/platform/auth"
	"github.com/cabinet/booking/internal/platform/crm"
	"github.com/cabinet/booking/internal/platform/db"
	"github.com/cabinet/booking/internal/platform/jobs"
	"github.com/cabinet/booking/internal/platform/middleware"
	"github.com/cabinet/booking/internal/platform/notification"
	"github.com/cabinet/booking/internal/platform/slotlock"
)

const (
	jobReminders  = "appointment-reminders"
	jobCompletion = "appointment-completion"
)

// app is the wired server with the resources it must release.
type app struct {
	echo      *echo.Echo
	scheduler *jobs.Scheduler
	contacts  *crm.Logger
	mail      *notification.Manager
	manager   *scheduling.AppointmentManager
	pool      *pgxpool.Pool
	redis     *redis.Client
	logger    zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}
	checks := map[string]db.Check{}

	// Storage
	var repo scheduling.AppointmentRepository
	if cfg.UseMemoryStore() {
		logger.Warn().Msg("DATABASE_URL not set, appointments are kept in memory only")
		repo = scheduling.NewAppointmentRepoMemory()
	} else {
		a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		repo = scheduling.NewAppointmentRepoPG(a.pool)
		checks["database"] = a.pool.Ping
	}

	// Slot locking
	var locker slotlock.Locker = slotlock.NewLocalLocker()
	if cfg.RedisURL != "" {
		a.redis, err = slotlock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info().Msg("connected to redis, slot locks are shared")
		locker = slotlock.NewRedisLocker(a.redis)
		rc := a.redis
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	// Email
	var sender notification.EmailSender
	if cfg.UseSMTP() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, emails are recorded but not sent")
		sender = &notification.MockEmailSender{}
	}
	a.mail = notification.NewManager(sender, notification.NewTemplateEngine())
	notifier := scheduling.NewEmailNotifier(a.mail, cfg.PracticeEmail, logger)

	// Contact log
	var crmOpts []crm.Option
	if cfg.CRMWebhookURL != "" {
		crmOpts = append(crmOpts, crm.WithEndpoint(cfg.CRMWebhookURL, cfg.CRMWebhookSecret))
	}
	a.contacts = crm.NewLogger(logger, crmOpts...)

	// Booking core
	hours := scheduling.DefaultBusinessHours()
	slots := scheduling.NewSlotGenerator(hours)
	validator := scheduling.NewValidator(hours, scheduling.WithLocation(loc))
	a.manager = scheduling.NewAppointmentManager(repo, locker, logger,
		scheduling.WithManagerLocation(loc), scheduling.WithSlotRules(validator))
	booking := scheduling.NewBookingService(validator, a.manager, notifier, a.contacts, logger)

	// Background jobs
	a.scheduler = jobs.NewScheduler(logger, loc, 5*time.Minute)
	if err := a.scheduler.Add(jobReminders, cfg.ReminderCron, func(ctx context.Context) (int, error) {
		return a.manager.SendDueReminders(ctx, notifier)
	}); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.scheduler.Add(jobCompletion, cfg.CompletionCron, a.manager.CompletePastAppointments); err != nil {
		a.Close()
		return nil, err
	}

	a.echo = newRouter(cfg, logger, checks, a.pool, func(api *echo.Group, admin ...echo.MiddlewareFunc) {
		scheduling.NewHandler(booking, a.manager, slots, loc).RegisterRoutes(api, admin...)

		adminGroup := api.Group("/admin", admin...)
		notification.NewHandler(a.mail).RegisterRoutes(adminGroup)
		a.scheduler.RegisterRoutes(adminGroup)
	})
	return a, nil
}

// newRouter builds the echo instance with the global middleware chain and
// hands the API group to register.
func newRouter(cfg *config.Config, logger zerolog.Logger, checks map[string]db.Check, pool *pgxpool.Pool,
	register func(api *echo.Group, admin ...echo.MiddlewareFunc)) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks))

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		SigningKey: []byte(cfg.AuthSigningKey),
		Leeway:     30 * time.Second,
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: admin routes accept unauthenticated requests")
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}
	register(api, authMW, auth.RequireRole(auth.RoleSecretary))
	return e
}

// Shutdown drains HTTP traffic, stops the jobs and waits for pending CRM
// deliveries.
func (a *app) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.echo.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		a.contacts.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
