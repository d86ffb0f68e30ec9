package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/api"
	"github.com/soaringjerry/csat/internal/catalog"
	"github.com/soaringjerry/csat/internal/config"
	"github.com/soaringjerry/csat/internal/jobs"
	"github.com/soaringjerry/csat/internal/logger"
	"github.com/soaringjerry/csat/internal/mailer"
	"github.com/soaringjerry/csat/internal/middleware"
	"github.com/soaringjerry/csat/internal/services"
	"github.com/soaringjerry/csat/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, "csat-api")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, store, err := openStore(cfg.Database, lg)
	if err != nil {
		return err
	}
	defer conn.Close()

	questions, err := catalog.NewHolder(cfg.Catalog.Path, lg.Named("catalog"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	files, err := uploads.New(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		return err
	}
	mail, err := mailer.New(ctx, cfg.Mail, lg.Named("mailer"))
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}
	limiter, closeLimiter, err := otpLimiter(ctx, cfg, store, lg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	gate, err := services.NewGate(cfg.Verification.Mode, store)
	if err != nil {
		return err
	}
	brand := cfg.Mail.Brand
	if brand == "" {
		brand = cfg.App.Name
	}
	tokens := middleware.NewTokenIssuer(cfg.Auth.JWTSecret)

	submissions := services.NewSubmissionService(store, questions, gate, files, lg.Named("submissions"))
	if cfg.Notify.SubmissionTo != "" {
		submissions.WithNotifications(mail, services.NotifyOptions{
			To:          cfg.Notify.SubmissionTo,
			From:        cfg.Mail.From,
			Brand:       brand,
			MailTimeout: cfg.Mail.Timeout,
		})
	}

	router := api.NewRouter(api.Deps{
		App:         cfg.App,
		Catalog:     questions,
		Submissions: submissions,
		OTP: services.NewOTPService(store, limiter, mail, lg.Named("otp"), services.OTPOptions{
			TTL:         cfg.OTP.TTL,
			MaxAttempts: cfg.OTP.MaxAttempts,
			From:        cfg.Mail.From,
			Brand:       brand,
			MailTimeout: cfg.Mail.Timeout,
		}),
		Auth: services.NewAuthService(services.AdminCredentials{
			Email:        cfg.Admin.Email,
			Password:     cfg.Admin.Password,
			PasswordHash: cfg.Admin.PasswordHash,
		}, tokens.Sign, cfg.Admin.TokenTTL),
		Admin:          services.NewAdminService(store, questions, files, lg.Named("admin")),
		Stats:          services.NewStatsService(store, questions),
		Export:         services.NewExportService(store, questions),
		Tokens:         tokens,
		UploadsDir:     files.Dir(),
		MaxUploadBytes: files.MaxBytes(),
		StaticDir:      cfg.Server.StaticDir,
		Logger:         lg.Named("http"),
	})

	scheduler := jobs.New(questions, store, lg.Named("jobs"), jobs.Options{
		CatalogEvery: cfg.Catalog.ReloadInterval,
		PurgeEvery:   cfg.Jobs.PurgeInterval,
	})
	scheduler.Start()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				lg.Info("SIGHUP received, reloading catalog")
				scheduler.ReloadCatalog(true)
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router.Handler(cfg.Server.AllowedOrigin, !cfg.App.IsDevelopment()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("allowed_origin", cfg.Server.AllowedOrigin),
			zap.String("verification", cfg.Verification.Mode),
			zap.String("mail", cfg.Mail.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
