package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/care-whatsapp-bot/internal/api/router"
	"github.com/wolfman30/care-whatsapp-bot/internal/auth"
	"github.com/wolfman30/care-whatsapp-bot/internal/bot"
	"github.com/wolfman30/care-whatsapp-bot/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/care-whatsapp-bot/internal/config"
	httpmiddleware "github.com/wolfman30/care-whatsapp-bot/internal/http/middleware"
	"github.com/wolfman30/care-whatsapp-bot/internal/observability/metrics"
	"github.com/wolfman30/care-whatsapp-bot/internal/worker/cleanup"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// App is the assembled API process.
type App struct {
	Handler     http.Handler
	Sweeper     *cleanup.Sweeper
	Metrics     *metrics.BotMetrics
	Router      *bot.Router
	SMSProvider string

	closers []func()
}

// Deps overrides infrastructure Build would otherwise connect to itself.
// Tests use it to inject miniredis or skip Postgres.
type Deps struct {
	Redis    *redis.Client
	Pool     *pgxpool.Pool
	Registry *prometheus.Registry
	Now      func() time.Time
}

// Build connects the stores and wires the router, handlers and channel.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	app := &App{}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	app.Metrics = metrics.NewBotMetrics(reg)

	pool := deps.Pool
	if pool == nil {
		p, err := BuildPostgresPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if p != nil {
			pool = p
			app.closers = append(app.closers, p.Close)
		}
	}

	rdb := deps.Redis
	if rdb == nil && cfg.SessionStore == "redis" {
		rdb = BuildRedisClient(ctx, cfg, logger, true)
		if rdb != nil {
			app.closers = append(app.closers, func() { _ = rdb.Close() })
		}
	}

	store, storeSweep, err := BuildSessionStore(ctx, cfg, rdb, deps.Now)
	if err != nil {
		app.Close()
		return nil, err
	}
	dedupe, dedupeSweep := BuildDeduper(rdb, pool, deps.Now)

	provider := BuildEMRProvider(pool, logger)
	var auditor bot.Auditor
	if svc, sqlDB := BuildAuditService(pool); svc != nil {
		auditor = svc
		app.closers = append(app.closers, func() { _ = sqlDB.Close() })
	}

	sms, smsProvider := BuildSMSSender(cfg, app.Metrics, logger.Component("sms"))
	app.SMSProvider = smsProvider

	authOpts := append(AuthOptions(cfg), auth.WithClock(deps.Now))
	authenticator := auth.NewAuthenticator(store, provider, provider, sms, logger.Component("auth"), authOpts...)

	app.Router = bot.NewRouter(bot.RouterConfig{
		Auth:    authenticator,
		Common:  bot.CommonHandler{},
		Patient: bot.NewPatientHandler(provider, provider, logger.Component("patient"), deps.Now),
		Staff:   bot.NewStaffHandler(provider, auditor, logger.Component("staff"), deps.Now),
		Audit:   auditor,
		Metrics: app.Metrics,
		Logger:  logger.Component("router"),
		Policy:  AuthPolicy(cfg),
	})

	adapter := whatsapp.NewAdapter(whatsapp.Config{
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		VerifyToken:   cfg.WhatsAppVerifyToken,
		AppSecret:     cfg.WhatsAppWebhookSecret,
		GraphAPIBase:  cfg.GraphAPIBase(),
	}, app.Router, dedupe, app.Metrics, logger.Component("whatsapp"))

	var limiter *httpmiddleware.RateLimiter
	if cfg.WebhookRatePerMinute > 0 {
		limiter = httpmiddleware.NewRateLimiter(float64(cfg.WebhookRatePerMinute)/60, cfg.WebhookRatePerMinute)
	}

	app.Sweeper = cleanup.NewSweeper(cfg.CleanupInterval, logger.Component("cleanup")).
		Add("sessions", storeSweep).
		Add("processed_events", dedupeSweep)
	if limiter != nil {
		app.Sweeper.Add("rate_limit_visitors", func(context.Context) (int, error) {
			return limiter.Evict(), nil
		})
	}

	app.Handler = router.New(&router.Config{
		Logger:         logger,
		WhatsApp:       adapter,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookLimiter: limiter,
		HealthChecks:   healthChecks(pool, rdb),
	})

	logger.Info("bot wired",
		"session_store", cfg.SessionStore,
		"sms_provider", smsProvider,
		"postgres", pool != nil,
		"redis", rdb != nil,
	)
	return app, nil
}

func healthChecks(pool *pgxpool.Pool, rdb *redis.Client) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
