package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/waitlist/internal/config"
	"github.com/ehr/waitlist/internal/domain/notification"
	"github.com/ehr/waitlist/internal/domain/waitlist"
	"github.com/ehr/waitlist/internal/platform/db"
	"github.com/ehr/waitlist/internal/platform/delivery"
	"github.com/ehr/waitlist/internal/platform/middleware"
	"github.com/ehr/waitlist/internal/platform/scheduler"
)

// app holds the long-lived dependencies shared by every subcommand.
type app struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	waitlistHandler     *waitlist.Handler
	notificationHandler *notification.Handler
	scheduler           *scheduler.Scheduler
	health              echo.HandlerFunc
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	ncfg, err := config.LoadNotificationConfig(cfg.NotificationConfigFile)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: serviceName,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")
	a := &app{pool: pool}

	checks := map[string]db.Check{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
		logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	}

	transport, err := buildTransport(cfg, a.redis, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	entries := waitlist.NewRepoPG(pool)
	notifySvc := notification.NewService(
		notification.NewRepoPG(pool),
		transport,
		waitlist.NewRecipientDirectory(entries),
		ncfg,
		notification.WithLogger(logger.With().Str("component", "notification").Logger()),
		notification.WithClaimLease(cfg.SchedulerClaimLease),
	)
	waitlistSvc := waitlist.NewService(
		entries,
		db.NewTxManager(pool),
		notifySvc,
		ncfg,
		waitlist.WithLogger(logger.With().Str("component", "waitlist").Logger()),
		waitlist.WithMatchLimit(cfg.MatchLimit),
	)

	var locker scheduler.Locker = scheduler.NoopLocker{}
	if a.redis != nil {
		locker = scheduler.NewRedisLocker(a.redis, cfg.SchedulerLockKey)
	}
	a.scheduler = scheduler.New(notifySvc, waitlistSvc, scheduler.Config{
		Interval:      cfg.SchedulerInterval,
		BatchSize:     cfg.SchedulerBatchSize,
		ClaimLease:    cfg.SchedulerClaimLease,
		ExpirationAge: ncfg.ExpirationAge(),
		// The lock must outlive one dispatch between refreshes.
		LockTTL:       max(cfg.SchedulerInterval, cfg.SchedulerClaimLease),
	},
		scheduler.WithLocker(locker),
		scheduler.WithLogger(logger.With().Str("component", "scheduler").Logger()),
	)

	a.waitlistHandler = waitlist.NewHandler(waitlistSvc)
	a.notificationHandler = notification.NewHandler(notifySvc)
	a.health = db.HealthHandler(pool, checks)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildTransport picks a provider per channel. Channels without provider
// settings log instead of sending, which Validate forbids in production.
func buildTransport(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (*delivery.Transport, error) {
	fallback := delivery.NewLogSender(logger.With().Str("component", "delivery").Logger())

	var email delivery.EmailSender = fallback
	if cfg.PostmarkServerToken != "" {
		pm, err := delivery.NewPostmarkEmailSender(delivery.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.EmailSender,
			ReplyTo:      cfg.EmailReplyTo,
		})
		if err != nil {
			return nil, err
		}
		email = pm
	} else {
		logger.Warn().Msg("POSTMARK_SERVER_TOKEN not set, emails are logged only")
	}

	var sms delivery.SMSSender = fallback
	if cfg.SMSWebhookURL != "" {
		sms = delivery.NewWebhookSMSSender(cfg.SMSWebhookURL, cfg.SMSWebhookToken, cfg.TransportTimeout)
	} else {
		logger.Warn().Msg("SMS_WEBHOOK_URL not set, SMS are logged only")
	}

	var internal delivery.InternalSender = fallback
	if rdb != nil {
		internal = delivery.NewRedisInternalSender(rdb, cfg.InternalChannel)
	}

	return delivery.NewTransport(email, sms, internal, cfg.TransportTimeout), nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, wl *waitlist.Handler, nh *notification.Handler, health echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	apiV1 := e.Group("/api/v1",
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
	)
	wl.RegisterRoutes(apiV1)
	nh.RegisterRoutes(apiV1)

	if health != nil {
		e.GET("/health/db", health)
	}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	return e
}
