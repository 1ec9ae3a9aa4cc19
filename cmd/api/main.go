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

	"voice-relay/internal/archive"
	"voice-relay/internal/audit"
	"voice-relay/internal/auth"
	"voice-relay/internal/calls"
	"voice-relay/internal/config"
	"voice-relay/internal/crm"
	"voice-relay/internal/dispatch"
	"voice-relay/internal/events"
	"voice-relay/internal/httpapi"
	"voice-relay/internal/relay"
	"voice-relay/internal/reporting"
	"voice-relay/internal/session"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
	"voice-relay/internal/voiceai"
	"voice-relay/pkg/logger"
	"voice-relay/pkg/telemetry"
	"voice-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown; live relays stop with it.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(cfg.Metrics.Namespace, reg)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrate(rootCtx, db); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	sessions, closeSessions, err := openSessions(rootCtx, cfg)
	if err != nil {
		log.Error("session store init failed", "err", err)
		os.Exit(1)
	}
	defer closeSessions()

	publisher := events.Open(cfg.Events.AMQPURL, cfg.Events.Queue, log)
	defer publisher.Close()

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Bucket != "" {
		s3a, err := archive.NewS3(archive.S3Config{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			log.Error("transcript archive init failed", "err", err)
			os.Exit(1)
		}
		archiver = s3a
	}

	// Services
	tenantSvc := tenants.NewService(tenants.NewPostgresRepo(db), authManager)
	callRepo := calls.NewPostgresRepo(db)
	writer := calls.NewWriter(callRepo)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	carrier := telephony.NewTwilioClient(telephony.TwilioConfig{
		BaseURL:    cfg.Twilio.BaseURL,
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	}, metrics)
	voice := voiceai.NewClient(voiceai.Config{BaseURL: cfg.VoiceAI.BaseURL, APIKey: cfg.VoiceAI.APIKey}, metrics)
	broker := crm.NewBroker(tenantSvc, crm.NewClient(crm.ClientConfig{
		BaseURL:      cfg.CRM.BaseURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RedirectURI:  cfg.CRM.RedirectURI,
	}, metrics), metrics)

	reports := reporting.NewService(reporting.NewPostgresRepo(db), reporting.Deps{
		Tenants:       tenantSvc,
		Calls:         callRepo,
		Conversations: voice,
		Appointments:  broker,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Sessions:     sessions,
		Writer:       writer,
		Tenants:      tenantSvc,
		Carrier:      carrier,
		Events:       publisher,
		Metrics:      metrics,
		HoldMusicURL: cfg.Twilio.HoldMusicURL,
	})

	relays := relay.New(relay.Config{
		Context:        rootCtx,
		Sessions:       sessions,
		Writer:         writer,
		Tenants:        tenantSvc,
		Tools:          dispatcher,
		Counter:        reports,
		Dialer:         relay.NewSignedURLDialer(voice),
		Archiver:       archiver,
		Events:         publisher,
		Metrics:        metrics,
		DefaultAgentID: cfg.VoiceAI.DefaultAgentID,
	})

	api := httpapi.Handlers{
		Auth:       authManager,
		Tenants:    tenantSvc,
		Calls:      callRepo,
		Writer:     writer,
		Reporting:  reports,
		CRM:        broker,
		Carrier:    carrier,
		Transfers:  dispatcher,
		Sessions:   sessions,
		Audit:      auditSvc,
		PublicHost: cfg.App.PublicHost,
		DBPing: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	}

	webhooks := telephony.WebhookHandler{
		PublicHost: cfg.App.PublicHost,
		ResolveNumber: func(ctx context.Context, to string) (string, string, bool, error) {
			t, a, err := tenantSvc.ResolveByNumber(ctx, to)
			if errors.Is(err, tenants.ErrNotFound) || errors.Is(err, tenants.ErrInvalidArgument) {
				return "", "", false, nil
			}
			if err != nil {
				return "", "", false, err
			}
			return t.ClientID, a.AgentID, true, nil
		},
		RecordInbound: func(ctx context.Context, in telephony.InboundCall) error {
			_, _, err := writer.RecordStart(ctx, calls.StartRecord{
				TenantID:  in.TenantID,
				CallSid:   in.CallSid,
				RequestID: in.RequestID,
				Phone:     in.From,
				From:      in.To,
				AgentID:   in.AgentID,
				Direction: calls.DirectionInbound,
				Status:    calls.StatusFollowUp,
				StartTime: in.ReceivedAt,
			})
			return err
		},
		RecordStatus: func(ctx context.Context, cb telephony.StatusCallback) error {
			return writer.RecordStatus(ctx, calls.StatusUpdate{
				TenantID: cb.TenantID,
				CallSid:  cb.CallSid,
				Status:   cb.CallStatus,
				Duration: cb.CallDuration,
			})
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())

	registerRoutes(r, routeDeps{
		auth:     authManager,
		api:      api,
		webhooks: webhooks,
		relay:    relays,
		metrics:  metrics,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Hijacked media sockets are not tracked by Shutdown.
	done := make(chan struct{})
	go func() {
		relays.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("all relays closed")
	case <-shutdownCtx.Done():
		log.Warn("relays still open at shutdown deadline")
	}
}

func migrate(ctx context.Context, db *sql.DB) error {
	var stmts []string
	stmts = append(stmts, tenants.Schema...)
	stmts = append(stmts, calls.Schema...)
	stmts = append(stmts, reporting.Schema...)
	stmts = append(stmts, audit.Schema...)
	return utils.Migrate(ctx, db, stmts)
}

// openSessions returns the configured session registry and its cleanup.
func openSessions(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.Session.Backend != "redis" {
		return session.NewMemoryStore(cfg.Session.TTL), func() {}, nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisStore(rdb, cfg.Session.TTL), func() { _ = rdb.Close() }, nil
}
