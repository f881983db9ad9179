package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saas-portal/config"
	"saas-portal/database"
	"saas-portal/internal"
	routes "saas-portal/internal/app/http"
	"saas-portal/internal/app/logger"
	"saas-portal/internal/infra/mail"
	"saas-portal/internal/infra/storage"
	"saas-portal/internal/infra/stripe"
	"saas-portal/internal/service/authtoken"
	"saas-portal/internal/service/passwordreset"
	"saas-portal/internal/service/payments"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	boot, _ := zap.NewDevelopment()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		boot.Fatal("Failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.Production())
	if err != nil {
		boot.Fatal("Failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBURL, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	d := &internal.Deps{
		Config:   cfg,
		DB:       db,
		Log:      log,
		Tokens:   authtoken.NewIssuer(cfg.JWTSecret),
		Resets:   passwordreset.New(db),
		Payments: payments.New(db, log),
		Stripe:   stripe.NewClient(cfg.StripeSecretKey),
		Webhooks: stripe.NewVerifier(cfg.StripeWebhookSecret),
	}

	if cfg.SMTPEnabled() {
		d.Mailer = mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		log.Warn("SMTP not configured, emails will only be logged")
		d.Mailer = mail.NewLog(log)
	}

	if !cfg.StripeEnabled() {
		log.Warn("Stripe not configured, checkout and webhooks are disabled")
	}

	if cfg.S3Enabled() {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatal("Failed to initialize S3 client", zap.Error(err))
		}
		d.Storage = s3
	}

	if cfg.ResetTokenSweepInterval > 0 {
		go passwordreset.RunSweeper(ctx, d.Resets, cfg.ResetTokenSweepInterval, log)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.NewEngine(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Listening", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
