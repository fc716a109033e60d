// Command server runs the identity HTTP API.
//
// @title                       DevLink Identity API
// @version                     1.0
// @description                 Authentication and authorization service: credentials, rotating refresh tokens and role-based access control.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devlink/identity/internal/api"
	"github.com/devlink/identity/internal/api/metrics"
	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/core/service"
	"github.com/devlink/identity/internal/infrastructure/config"
	"github.com/devlink/identity/internal/infrastructure/db"
	"github.com/devlink/identity/internal/infrastructure/db/redis"
	httpserver "github.com/devlink/identity/internal/infrastructure/http"
	"github.com/devlink/identity/internal/infrastructure/http/handlers"
	"github.com/devlink/identity/internal/infrastructure/mail"
	"github.com/devlink/identity/internal/infrastructure/queue"
	"github.com/devlink/identity/internal/infrastructure/seed"
	"github.com/devlink/identity/internal/infrastructure/tracing"
	"github.com/devlink/identity/pkg/logger"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "identity"})
	log.Info().Str("env", cfg.Env).Str("store", cfg.Store.Driver).Msg("starting identity service")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
		Version:      version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store, err := db.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
	}()
	deps := []handlers.Dependency{{Name: cfg.Store.Driver, Pinger: store}}

	catalog, err := seed.Default()
	if err != nil {
		return err
	}
	seeded, err := catalog.Apply(ctx, store.Roles())
	if err != nil {
		return err
	}
	log.Info().Strs("roles", seeded).Msg("role catalog applied")

	var cache ports.PermissionCache
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Store.Timeout,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		pc := redis.NewPermissionCache(rdb, cfg.Redis.CacheTTL)
		if err := pc.Invalidate(ctx, seeded...); err != nil {
			log.Warn().Err(err).Msg("failed to invalidate permission cache")
		}
		cache = pc
		deps = append(deps, handlers.Dependency{Name: "redis", Pinger: pc})
	}

	composer, err := mail.NewComposer(cfg.Mail.VerifyURL, cfg.Mail.ResetURL, cfg.Auth.VerifyTTL, cfg.Auth.ResetTTL)
	if err != nil {
		return err
	}
	var sender mail.Sender = mail.NewLogSender(log, cfg.Mail.LogLinks)
	if cfg.Mail.Driver == config.MailMQTT {
		mq, err := mail.ConnectMQTT(mail.MQTTConfig{
			Broker:      cfg.Mail.MQTTBroker,
			ClientID:    cfg.Mail.MQTTClientID,
			Username:    cfg.Mail.MQTTUsername,
			Password:    cfg.Mail.MQTTPassword,
			TopicPrefix: cfg.Mail.MQTTTopicPrefix,
		})
		if err != nil {
			return err
		}
		defer mq.Close()
		sender = mq
		deps = append(deps, handlers.Dependency{Name: "mqtt", Pinger: mq})
	}

	recorder := metrics.NewRecorder()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	dispatcher := queue.NewDispatcher(cfg.Mail.Workers, composer, sender, recorder, log)
	dispatcher.Start(workerCtx)
	metrics.RegisterQueueDepth(dispatcher.Pending)
	defer func() {
		stopWorkers()
		dispatcher.Wait()
	}()

	keys, err := service.NewKeyring(cfg.Auth.ActiveKeyID, cfg.Auth.SigningKeys)
	if err != nil {
		return err
	}
	authService := service.NewAuthService(service.Config{
		BcryptCost: cfg.Auth.BcryptCost,
		Token: service.TokenConfig{
			Issuer:     cfg.Auth.Issuer,
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
		},
		Credentials: service.CredentialConfig{
			DefaultRole: cfg.Auth.DefaultRole,
			VerifyTTL:   cfg.Auth.VerifyTTL,
			ResetTTL:    cfg.Auth.ResetTTL,
		},
	}, service.Deps{
		Store:   store,
		Keys:    keys,
		Mailer:  dispatcher,
		Cache:   cache,
		Metrics: recorder,
		Log:     log,
	})

	sweeper := service.NewSweeper(store, cfg.SweepInterval, nil, log)
	go sweeper.Run(workerCtx)

	proxies, err := cfg.TrustedProxyRanges()
	if err != nil {
		return err
	}
	router := api.NewRouter(api.RouterConfig{
		Auth:           authService,
		Dependencies:   deps,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: proxies,
		Log:            log,
	})

	return httpserver.Serve(ctx, router, ":"+cfg.Port, 10*time.Second, log)
}
