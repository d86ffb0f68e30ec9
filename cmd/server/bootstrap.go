package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/config"
	"github.com/soaringjerry/csat/internal/db"
	"github.com/soaringjerry/csat/internal/ratelimit"
)

// openStore opens the SQLite file, brings its schema up to date and wraps
// it in the store.
func openStore(cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, *db.SQLiteStore, error) {
	conn, err := db.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(conn, cfg.MigrationsDir); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := db.NewSQLiteStore(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("init sqlite store: %w", err)
	}
	logger.Info("database ready", zap.String("path", cfg.Path))
	return conn, store, nil
}

// otpLimiter shares the send limit through Redis when an address is
// configured, otherwise keeps it in the service database.
func otpLimiter(ctx context.Context, cfg *config.Config, store *db.SQLiteStore, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.Redis.Address == "" {
		logger.Info("otp rate limit backed by sqlite", zap.Int("max_per_hour", cfg.OTP.MaxPerHour))
		return ratelimit.NewSQLLimiter(store, cfg.OTP.MaxPerHour, time.Hour), func() {}, nil
	}
	client := ratelimit.NewRedisClient(cfg.Redis)
	limiter := ratelimit.NewRedisLimiter(client, "csat:rl:", cfg.OTP.MaxPerHour, time.Hour)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := limiter.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
	}
	logger.Info("otp rate limit backed by redis", zap.String("address", cfg.Redis.Address))
	return limiter, func() { _ = client.Close() }, nil
}
