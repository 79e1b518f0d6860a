package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kycops/internal/alerting"
	"kycops/internal/documents"
	documentshandler "kycops/internal/documents/handler"
	jwttoken "kycops/internal/jwt_token"
	"kycops/internal/lifecycle"
	lifecyclehandler "kycops/internal/lifecycle/handler"
	monmetrics "kycops/internal/monitoring/metrics"
	monmw "kycops/internal/monitoring/middleware"
	"kycops/internal/monitoring/probe"
	"kycops/internal/monitoring/thresholds"
	"kycops/internal/notify"
	"kycops/internal/notify/mail"
	"kycops/internal/platform/config"
	"kycops/internal/platform/kafka"
	"kycops/internal/platform/logger"
	"kycops/internal/platform/metrics"
	"kycops/internal/platform/postgres"
	platformredis "kycops/internal/platform/redis"
	"kycops/internal/platform/tracing"
	"kycops/internal/ratelimit"
	"kycops/internal/registry/store"
	"kycops/internal/relay"
	"kycops/internal/scheduler"
	httptransport "kycops/internal/transport/http"
)

// application is the wired process. close releases every external resource
// in reverse order of acquisition.
type application struct {
	logger     *slog.Logger
	router     http.Handler
	queue      *lifecycle.Queue
	scheduler  *scheduler.Scheduler
	dispatcher *alerting.Dispatcher
	sweeper    *ratelimit.InMemory
	closers    []func()
}

func (a *application) onClose(f func()) {
	a.closers = append(a.closers, f)
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config) (_ *application, err error) {
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	app := &application{logger: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	shutdownTracing, err := tracing.Setup(cfg.Server.Tracing, os.Stdout, version)
	if err != nil {
		return nil, err
	}
	app.onClose(func() { _ = shutdownTracing(context.Background()) })

	prom := metrics.New()
	reg := prom.Registry

	agg := monmetrics.NewAggregator(monmetrics.WithSampleRetention(cfg.Monitoring.SampleRetention))
	reg.MustRegister(monmetrics.NewCollector(agg))

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		app.onClose(func() { _ = redisClient.Close() })
	}

	records, err := buildRegistry(ctx, cfg, redisClient, app)
	if err != nil {
		return nil, err
	}

	// SMTP is optional. Without it applicant messages are only logged and the
	// mail alert channel stays unregistered.
	var notifier lifecycle.Notifier = notify.NewLogNotifier(log)
	var alertSender alerting.Sender
	mailCfg := mail.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Timeout:  cfg.Mail.Timeout,
	}
	if mailCfg.Enabled() {
		smtp, err := mail.New(mailCfg)
		if err != nil {
			return nil, fmt.Errorf("configure smtp: %w", err)
		}
		notifier = smtp
		alertSender = smtp
	}

	downstream, err := buildRelay(ctx, cfg, log, app)
	if err != nil {
		return nil, err
	}

	lifecycleMetrics := lifecycle.NewMetrics(reg)
	app.queue = lifecycle.NewQueue(cfg.Monitoring.NotificationQueue,
		lifecycle.WithQueueWorkers(cfg.Monitoring.QueueWorkers),
		lifecycle.WithQueueLogger(log),
		lifecycle.WithQueueErrorRecorder(agg),
		lifecycle.WithQueueMetrics(lifecycleMetrics),
	)
	engine := lifecycle.New(records, app.queue,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(lifecycleMetrics),
		lifecycle.WithRecorder(agg),
		lifecycle.WithNotifier(notifier, notify.Composer{
			PortalURL:         cfg.Portal.AgentPortalURL,
			AdminDashboardURL: cfg.Portal.AdminDashboardURL,
			SupportEmail:      cfg.Portal.SupportEmail,
		}),
		lifecycle.WithAdminRecipients(cfg.Mail.Admins...),
		lifecycle.WithRelay(downstream),
		lifecycle.WithRateLimit(cfg.Registry.RateLimit, cfg.Registry.RateWindow),
	)

	channels := alerting.BuildChannels(alerting.ChannelConfig{
		EmailRecipients: cfg.Alerts.EmailRecipients,
		SlackWebhookURL: cfg.Alerts.SlackWebhookURL,
		TelegramToken:   cfg.Alerts.TelegramToken,
		TelegramChatID:  cfg.Alerts.TelegramChatID,
		TelegramAPIURL:  cfg.Alerts.TelegramAPIURL,
	}, alertSender, &http.Client{Timeout: cfg.Alerts.ChannelTimeout})
	app.dispatcher = alerting.NewDispatcher(channels,
		alerting.WithChannelTimeout(cfg.Alerts.ChannelTimeout),
		alerting.WithLogger(log),
		alerting.WithErrorRecorder(agg),
		alerting.WithMetrics(alerting.NewMetrics(reg)),
	)
	if len(channels) == 0 {
		log.Warn("no alert channels configured; alerts are only logged")
	}

	evaluator := thresholds.New(agg, probe.NewDisk(cfg.Thresholds.DiskPath), app.dispatcher,
		thresholds.Thresholds{
			ErrorRate:      cfg.Thresholds.ErrorRate,
			UploadFailRate: cfg.Thresholds.UploadFailRate,
			ResponseTime:   cfg.Thresholds.ResponseTime,
			DiskUsage:      cfg.Thresholds.DiskUsage,
		},
		thresholds.WithLogger(log),
		thresholds.WithRegisterer(reg),
	)

	app.scheduler, err = buildScheduler(cfg, log, reg, agg, evaluator, app.dispatcher)
	if err != nil {
		return nil, err
	}

	docs, err := buildDocumentStore(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	var limitStore ratelimit.Store
	if redisClient != nil {
		limitStore = ratelimit.NewRedis(redisClient.Client)
	} else {
		app.sweeper = ratelimit.NewInMemory()
		limitStore = app.sweeper
	}
	limiter := ratelimit.New(limitStore, log,
		ratelimit.WithDisabled(cfg.Server.DisableRateLimits),
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
	)

	queue := app.queue
	monitor := monmw.New(agg,
		monmw.WithDispatcher(app.dispatcher),
		monmw.WithObserver(prom),
		monmw.WithLogger(log),
		monmw.WithAsync(func(f func()) {
			queue.Enqueue(context.Background(), lifecycle.Task{
				Kind: "error_alert",
				Run: func(context.Context) error {
					f()
					return nil
				},
			})
		}),
	)

	app.router = httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Lifecycle:      lifecyclehandler.New(engine, log),
		Documents:      documentshandler.New(docs, log),
		Ops:            httptransport.NewOpsHandler(agg, app.scheduler, log),
		Admin:          jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
		Limiter:        limiter,
		Monitor:        monitor.Handler,
		Prometheus:     prom.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return app, nil
}

func buildRegistry(ctx context.Context, cfg config.Config, redisClient *platformredis.Client, app *application) (lifecycle.RegistryStore, error) {
	switch cfg.Registry.Backend {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.onClose(func() { _ = db.Close() })
		return ensurePostgres(ctx, db)
	case "redis":
		return store.NewRedis(redisClient.Client), nil
	default:
		return store.NewInMemory(), nil
	}
}

func ensurePostgres(ctx context.Context, db *sql.DB) (*store.Postgres, error) {
	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

// buildRelay fans new records out to every configured downstream.
func buildRelay(ctx context.Context, cfg config.Config, log *slog.Logger, app *application) (lifecycle.Relay, error) {
	var targets relay.Fanout
	if wh := relay.NewWebhook(cfg.Relay.WebhookURL, cfg.Relay.Secret,
		relay.WithLogger(log),
		relay.WithHTTPClient(&http.Client{Timeout: cfg.Relay.Timeout}),
	); wh != nil {
		targets = append(targets, wh)
	}

	kcfg := kafka.Config{
		Brokers:           cfg.Kafka.Brokers,
		Topic:             cfg.Kafka.Topic,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		ProduceTimeout:    cfg.Kafka.ProduceTimeout,
	}
	if kcfg.Enabled() {
		producer, err := kafka.NewProducer(kcfg)
		if err != nil {
			return nil, err
		}
		app.onClose(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			producer.Close(closeCtx)
		})
		if err := producer.EnsureTopic(ctx, kcfg.Partitions, kcfg.ReplicationFactor); err != nil {
			return nil, fmt.Errorf("ensure kafka topic: %w", err)
		}
		targets = append(targets, relay.NewKafka(producer))
	}

	if len(targets) == 0 {
		return relay.Noop{}, nil
	}
	return targets, nil
}

func buildScheduler(
	cfg config.Config,
	log *slog.Logger,
	reg prometheus.Registerer,
	agg *monmetrics.Aggregator,
	evaluator *thresholds.Evaluator,
	dispatcher *alerting.Dispatcher,
) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}
	daily, err := scheduler.ParseDaily(cfg.Schedule.DailyAt, loc)
	if err != nil {
		return nil, err
	}

	s := scheduler.New(
		scheduler.WithLogger(log),
		scheduler.WithMetrics(scheduler.NewMetrics(reg)),
	)
	jobs := []struct {
		name     string
		schedule scheduler.Schedule
		run      scheduler.JobFunc
	}{
		{scheduler.JobThresholdCheck, scheduler.Every(cfg.Schedule.CheckInterval), scheduler.ThresholdCheck(evaluator, log)},
		{scheduler.JobDailySummary, daily, scheduler.DailySummary(agg, dispatcher, time.Now)},
		{scheduler.JobHeartbeat, scheduler.Every(cfg.Schedule.HeartbeatInterval), scheduler.Heartbeat(agg, log)},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.schedule, j.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func buildDocumentStore(ctx context.Context, cfg config.Config, app *application) (documents.Store, error) {
	if cfg.Documents.Backend == "gcs" {
		gcs, err := documents.NewGCS(ctx, documents.GCSConfig{
			Bucket:          cfg.Documents.Bucket,
			Prefix:          cfg.Documents.Prefix,
			CredentialsFile: cfg.Documents.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		app.onClose(func() { _ = gcs.Close() })
		return gcs, nil
	}
	return documents.NewLocal(cfg.Documents.Dir, cfg.Documents.BaseURL)
}
