package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"building-cloud/internal/audit"
	audithttp "building-cloud/internal/audit/interfaces/http"
	"building-cloud/internal/auth"
	billingapp "building-cloud/internal/billing/application"
	billingevents "building-cloud/internal/billing/application/events"
	billingrepo "building-cloud/internal/billing/infrastructure/postgres"
	billinginterfaces "building-cloud/internal/billing/interfaces"
	billinghttp "building-cloud/internal/billing/interfaces/http"
	"building-cloud/internal/eventing"
	eventingrepo "building-cloud/internal/eventing/infrastructure/postgres"
	eventinghttp "building-cloud/internal/eventing/interfaces/http"
	masterdatarepo "building-cloud/internal/masterdata/infrastructure/postgres"
	notifymasterdata "building-cloud/internal/notify/adapters/masterdata"
	notifyapp "building-cloud/internal/notify/application"
	"building-cloud/internal/notify/channels"
	"building-cloud/internal/notify/fanout"
	notifyrepo "building-cloud/internal/notify/infrastructure/postgres"
	notifyhttp "building-cloud/internal/notify/interfaces/http"
	"building-cloud/internal/notify/template"
	"building-cloud/internal/observability/logging"
	"building-cloud/internal/observability/metrics"
	paymentsbilling "building-cloud/internal/payments/adapters/billing"
	paymentsapp "building-cloud/internal/payments/application"
	paymentevents "building-cloud/internal/payments/application/events"
	"building-cloud/internal/payments/gateway"
	paymentsrepo "building-cloud/internal/payments/infrastructure/postgres"
	paymentshttp "building-cloud/internal/payments/interfaces/http"
	"building-cloud/internal/providers"
	providersrepo "building-cloud/internal/providers/infrastructure/postgres"
	providershttp "building-cloud/internal/providers/interfaces/http"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := logging.New("building-cloud", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	tenantRepo := masterdatarepo.NewTenantRepository(db)
	apartmentRepo := masterdatarepo.NewApartmentRepository(db)
	residentRepo := masterdatarepo.NewResidentRepository(db)
	deviceRepo := masterdatarepo.NewDeviceRepository(db)

	// Provider configuration.
	providerStore := providersrepo.NewStore(db)
	providerCache, err := providers.NewCache(providerStore, providers.WithTTL(cfg.ProviderCacheTTL), providers.WithCacheLogger(logger))
	if err != nil {
		logger.Fatalf("provider cache error: %v", err)
	}
	serviceOpts := []providers.ServiceOption{providers.WithServiceLogger(logger)}
	if cfg.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("redis url error: %v", err)
		}
		redisClient := goredis.NewClient(redisOpts)
		defer redisClient.Close()
		invalidator := providers.NewRedisInvalidator(redisClient, cfg.InvalidationChannel, logger)
		serviceOpts = append(serviceOpts, providers.WithBroadcaster(invalidator))
		go func() {
			if err := invalidator.Run(ctx, providerCache); err != nil {
				logger.WithError(err).Error("provider invalidation stopped")
			}
		}()
	}
	providerService, err := providers.NewService(providerStore, providerCache, serviceOpts...)
	if err != nil {
		logger.Fatalf("provider service error: %v", err)
	}
	var bootstrap *providers.BootstrapFile
	if cfg.ProvidersFile != "" {
		bootstrap, err = providers.LoadFile(cfg.ProvidersFile)
		if err != nil {
			logger.Fatalf("providers file error: %v", err)
		}
		if err := bootstrap.Apply(ctx, providerService); err != nil {
			logger.WithError(err).Warn("providers file applied with errors")
		}
	}

	// Eventing.
	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(
		paymentevents.StatusChanged{},
		billingevents.DueDefinitionSent{},
		billingevents.ApartmentDueSettled{},
	)
	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore, eventing.WithDispatcherLogger(logger))
	publisher := eventing.NewOutboxPublisher(outboxStore, dispatcher, baseBus, eventing.WithPublisherLogger(logger))
	go dispatcher.Run(ctx, cfg.OutboxInterval, cfg.OutboxBatch)
	go purgeProcessed(ctx, processedStore, cfg.ProcessedRetention, logger)

	eventing.On(baseBus, "billing.log", processedStore, func(ctx context.Context, evt billingevents.DueDefinitionSent) error {
		logger.WithFields(logging.Fields{
			"tenant_id":     evt.TenantID,
			"definition_id": evt.DefinitionID,
			"period":        evt.Period,
			"sent":          evt.SentCount,
		}).Info("due definition sent")
		return nil
	})
	eventing.On(baseBus, "billing.settled.log", processedStore, func(ctx context.Context, evt billingevents.ApartmentDueSettled) error {
		logger.WithFields(logging.Fields{
			"tenant_id":    evt.TenantID,
			"due_id":       evt.DueID,
			"apartment_id": evt.ApartmentID,
			"order_id":     evt.PaymentOrderID,
		}).Info("apartment due settled")
		return nil
	})

	// Billing.
	definitionRepo := billingrepo.NewDefinitionRepository(db)
	dueRepo := billingrepo.NewApartmentDueRepository(db)
	definitionService, err := billingapp.NewDefinitionService(definitionRepo, tenantRepo,
		billingapp.WithPublisher(publisher),
		billingapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("definition service error: %v", err)
	}
	ledgerService, err := billingapp.NewLedgerService(definitionRepo, dueRepo, apartmentRepo, residentRepo,
		billingapp.WithLedgerPublisher(publisher),
		billingapp.WithLedgerLogger(logger),
	)
	if err != nil {
		logger.Fatalf("ledger service error: %v", err)
	}
	overdueScheduler, err := billingapp.NewOverdueScheduler(ledgerService, cfg.OverdueSchedule, logger)
	if err != nil {
		logger.Fatalf("overdue scheduler error: %v", err)
	}
	overdueScheduler.Start()
	defer overdueScheduler.Stop()

	paymentConsumer, err := billinginterfaces.NewPaymentCompletedConsumer(ledgerService, logger)
	if err != nil {
		logger.Fatalf("payment consumer error: %v", err)
	}
	paymentConsumer.Register(baseBus, processedStore)

	billingHandler, err := billinghttp.NewHandler(definitionService, ledgerService, tenantRepo, apartmentRepo, auditRepo,
		billinghttp.WithApartmentChecker(auth.NewApartmentChecker(apartmentRepo)),
	)
	if err != nil {
		logger.Fatalf("billing handler error: %v", err)
	}

	// Notifications.
	templateService, err := template.NewService(notifyrepo.NewTemplateStore(db))
	if err != nil {
		logger.Fatalf("template service error: %v", err)
	}
	if bootstrap != nil {
		seedTemplates(ctx, templateService, bootstrap.Templates, logger)
	}
	mailLog := notifyrepo.NewMailLogRepository(db)
	emailSender := channels.NewEmailSender(channels.SMTPTransport{},
		channels.WithMailLog(mailLog),
		channels.WithEmailLogger(logger),
	)
	smsSender := channels.NewSMSSender(channels.WithSMSURLs(cfg.SMSSendURL, cfg.SMSBalanceURL))
	expoSender := channels.NewExpoSender(channels.WithExpoURL(cfg.ExpoPushURL))
	fcmSender := channels.NewFCMSender(channels.NewFirebaseMessenger)

	directory, err := notifymasterdata.NewRecipientDirectory(residentRepo, apartmentRepo, deviceRepo)
	if err != nil {
		logger.Fatalf("recipient directory error: %v", err)
	}
	fanoutDispatcher, err := fanout.NewDispatcher(directory, providerCache, templateService.Resolver(), tenantRepo,
		[]channels.Sender{emailSender, smsSender, expoSender, fcmSender},
		fanout.WithDefinitions(definitionService),
		fanout.WithDeliveryLedger(notifyrepo.NewDeliveryLedger(db)),
		fanout.WithWorkers(cfg.FanoutWorkers),
		fanout.WithCallTimeout(cfg.ProviderTimeout),
		fanout.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("fanout dispatcher error: %v", err)
	}
	messagingService, err := notifyapp.NewMessagingService(providerCache, emailSender, smsSender, mailLog)
	if err != nil {
		logger.Fatalf("messaging service error: %v", err)
	}
	deviceService, err := notifyapp.NewDeviceService(deviceRepo,
		notifyapp.WithTopics(providerCache, fcmSender),
		notifyapp.WithDeviceLogger(logger),
	)
	if err != nil {
		logger.Fatalf("device service error: %v", err)
	}

	notificationsHandler, err := notifyhttp.NewNotificationsHandler(fanoutDispatcher, messagingService, auditRepo)
	if err != nil {
		logger.Fatalf("notifications handler error: %v", err)
	}
	templatesHandler, err := notifyhttp.NewTemplatesHandler(templateService, auditRepo)
	if err != nil {
		logger.Fatalf("templates handler error: %v", err)
	}
	devicesHandler, err := notifyhttp.NewDevicesHandler(deviceService, auditRepo)
	if err != nil {
		logger.Fatalf("devices handler error: %v", err)
	}

	// Payments.
	dueReader, err := paymentsbilling.NewDueReader(dueRepo)
	if err != nil {
		logger.Fatalf("due reader error: %v", err)
	}
	gatewayClient := gateway.NewClient(
		gateway.WithURLs(cfg.GatewayTestURL, cfg.GatewayLiveURL),
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.GatewayTimeout}),
	)
	paymentService, err := paymentsapp.NewService(paymentsrepo.NewTransactionRepository(db), providerCache, gatewayClient,
		paymentsapp.WithDueReader(dueReader),
		paymentsapp.WithPublisher(publisher),
		paymentsapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("payment service error: %v", err)
	}
	paymentsHandler, err := paymentshttp.NewHandler(paymentService, auditRepo)
	if err != nil {
		logger.Fatalf("payments handler error: %v", err)
	}

	providersHandler, err := providershttp.NewHandler(providerService, auditRepo)
	if err != nil {
		logger.Fatalf("providers handler error: %v", err)
	}
	deadLettersHandler, err := eventinghttp.NewDeadLettersHandler(dlqStore,
		eventinghttp.WithReplay(eventingrepo.NewReplayer(db), dispatcher),
		eventinghttp.WithAuditLogger(auditRepo),
	)
	if err != nil {
		logger.Fatalf("dead letters handler error: %v", err)
	}

	auditHandler, err := audithttp.NewHandler(auditRepo)
	if err != nil {
		logger.Fatalf("audit handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	tokenOpts := []auth.TokenOption{auth.WithLeeway(cfg.JWTLeeway)}
	if cfg.JWTIssuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.JWTIssuer))
	}
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy,
		auth.WithMiddlewareLogger(logger),
		auth.WithTokenOptions(tokenOpts...),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/dues", billingHandler)
	mux.Handle("/api/v1/dues/", billingHandler)
	mux.Handle("/api/v1/payments", paymentsHandler)
	mux.Handle("/api/v1/payments/", paymentsHandler)
	mux.Handle("/api/v1/notifications/", notificationsHandler)
	mux.Handle("/api/v1/templates", templatesHandler)
	mux.Handle("/api/v1/templates/", templatesHandler)
	mux.Handle("/api/v1/devices", devicesHandler)
	mux.Handle("/api/v1/devices/", devicesHandler)
	mux.Handle("/api/v1/providers", providersHandler)
	mux.Handle("/api/v1/providers/", providersHandler)
	mux.Handle("/api/v1/events/dead-letters", deadLettersHandler)
	mux.Handle("/api/v1/events/dead-letters/", deadLettersHandler)
	mux.Handle("/api/v1/audit-logs", auditHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server error: %v", err)
	}
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	LogLevel            string
	JWTSecret           string
	JWTIssuer           string
	JWTLeeway           time.Duration
	RedisURL            string
	InvalidationChannel string
	ProvidersFile       string
	ProviderCacheTTL    time.Duration
	ProviderTimeout     time.Duration
	GatewayTimeout      time.Duration
	OutboxInterval      time.Duration
	OutboxBatch         int
	ProcessedRetention  time.Duration
	OverdueSchedule     string
	FanoutWorkers       int
	GatewayTestURL      string
	GatewayLiveURL      string
	SMSSendURL          string
	SMSBalanceURL       string
	ExpoPushURL         string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		JWTIssuer:           getenvDefault("AUTH_JWT_ISSUER", ""),
		JWTLeeway:           getenvDuration("AUTH_JWT_LEEWAY", 30*time.Second),
		RedisURL:            getenvDefault("REDIS_URL", ""),
		InvalidationChannel: getenvDefault("PROVIDER_INVALIDATION_CHANNEL", providers.DefaultInvalidationChannel),
		ProvidersFile:       getenvDefault("PROVIDER_CONFIG_FILE", ""),
		ProviderCacheTTL:    getenvDuration("PROVIDER_CACHE_TTL", providers.DefaultCacheTTL),
		ProviderTimeout:     getenvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		GatewayTimeout:      getenvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		OutboxInterval:      getenvDuration("OUTBOX_DISPATCH_INTERVAL", 2*time.Second),
		OutboxBatch:         getenvIntDefault("OUTBOX_DISPATCH_BATCH", 100),
		ProcessedRetention:  getenvDuration("PROCESSED_EVENTS_RETENTION", 30*24*time.Hour),
		OverdueSchedule:     getenvDefault("OVERDUE_CRON", billingapp.DefaultOverdueSchedule),
		FanoutWorkers:       getenvIntDefault("FANOUT_WORKERS", 8),
		GatewayTestURL:      getenvDefault("PARATIKA_TEST_URL", ""),
		GatewayLiveURL:      getenvDefault("PARATIKA_LIVE_URL", ""),
		SMSSendURL:          getenvDefault("SMS_SEND_URL", ""),
		SMSBalanceURL:       getenvDefault("SMS_BALANCE_URL", ""),
		ExpoPushURL:         getenvDefault("EXPO_PUSH_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		logging.New("building-cloud", "").Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		logging.New("building-cloud", "").Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func seedTemplates(ctx context.Context, svc *template.Service, seeds []providers.TemplateSeed, logger logging.Logger) {
	for _, seed := range seeds {
		tpl := template.Template{
			Scope:       template.ScopeSharedCustom,
			TenantID:    seed.TenantID,
			Name:        seed.Name,
			Subject:     seed.Subject,
			BodyRich:    seed.BodyHTML,
			BodyPlain:   seed.BodyText,
			Variables:   seed.Variables,
			Description: seed.Description,
			Active:      true,
		}
		if seed.TenantID != "" {
			tpl.Scope = template.ScopeTenantOverride
		}
		if _, err := svc.Save(ctx, tpl); err != nil {
			logger.WithError(err).WithField("template", seed.Name).Warn("seed template failed")
		}
	}
}

func purgeProcessed(ctx context.Context, store *eventingrepo.ProcessedStore, retention time.Duration, logger logging.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			removed, err := store.PurgeBefore(ctx, tick.UTC().Add(-retention))
			if err != nil {
				logger.WithError(err).Warn("purge processed events failed")
				continue
			}
			if removed > 0 {
				logger.WithField("removed", removed).Info("purged processed events")
			}
		}
	}
}

func loggingMiddleware(next http.Handler, logger logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(eventing.WithCorrelationID(r.Context(), requestID))

		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.WithFields(logging.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     resp.status,
			"duration":   time.Since(start).String(),
		}).Info("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
