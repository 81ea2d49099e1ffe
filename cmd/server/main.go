package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calebJoshwa/EduReuse/internal/app"
	"github.com/calebJoshwa/EduReuse/internal/config"
	"github.com/calebJoshwa/EduReuse/internal/server"
	"github.com/calebJoshwa/EduReuse/internal/util"
	"github.com/calebJoshwa/EduReuse/pkg/mail"
	"github.com/calebJoshwa/EduReuse/pkg/queue"
	"github.com/calebJoshwa/EduReuse/pkg/storage"
	"github.com/calebJoshwa/EduReuse/pkg/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// persistence
	var st store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to init postgres store", "error", err)
			os.Exit(1)
		}
		st = gormStore
	} else {
		logger.Warn("databaseURL not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	sessionTTL, _ := config.ParseDurationOr(cfg.SessionTTL, 24*time.Hour)
	var sessions store.SessionStore
	if cfg.SessionBackend == "jwt" {
		sessions = store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL)
	} else {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	}

	// mail transport
	var mailer mail.Mailer
	if cfg.SMTPAddr != "" {
		smtpMailer, err := mail.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err != nil {
			logger.Error("failed to init smtp mailer", "error", err)
			os.Exit(1)
		}
		mailer = smtpMailer
	} else {
		logger.Warn("smtpAddr not set, mail goes to the log")
		mailer = mail.LogMailer{}
	}

	notifyTimeout, _ := config.ParseDurationOr(cfg.NotifyTimeout, 10*time.Second)

	var emailQueue *queue.RedisEmailQueue
	if cfg.MailQueueEnabled {
		emailQueue, err = queue.NewRedisEmailQueue(queue.RedisEmailQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.MailQueueStream,
			Group:    cfg.MailQueueGroup,
		})
		if err != nil {
			logger.Error("failed to init email queue", "error", err)
			os.Exit(1)
		}
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Error("failed to init object storage", "error", err)
			os.Exit(1)
		}
		objects = minioStore
	}

	appCfg := app.Config{
		Store:           st,
		Sessions:        sessions,
		Mailer:          mailer,
		Objects:         objects,
		OrderRecipients: cfg.OrderRecipients,
		NotifyTimeout:   notifyTimeout,
	}
	if emailQueue != nil {
		appCfg.EmailQueue = emailQueue
	}
	appCore := app.New(appCfg)

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		logger.Error("failed to parse trusted proxy cidrs", "error", err)
		os.Exit(1)
	}
	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		AllowedOrigin:            cfg.AllowedOrigin,
		TrustedProxies:           trustedProxies,
		SessionTTL:               sessionTTL,
		CookieSecure:             cfg.CookieSecure,
		MaxUploadBytes:           cfg.MaxUploadBytes,
	})
	if err != nil {
		logger.Error("failed to init http server", "error", err)
		os.Exit(1)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if emailQueue != nil {
		concurrency := cfg.MailQueueConcurrency
		if concurrency <= 0 {
			concurrency = 2
		}
		logger.Info("email queue worker starting", "concurrency", concurrency)
		emailQueue.Start(util.ContextWithLogger(groupCtx, logger), concurrency,
			func(jobCtx context.Context, job queue.EmailJob) error {
				sendCtx, cancel := context.WithTimeout(jobCtx, notifyTimeout)
				defer cancel()
				return mailer.Send(sendCtx, job.To, job.Subject, job.Body)
			})
	}

	if err := group.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
