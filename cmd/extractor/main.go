// Команда extractor — HTTP-сервис авторизации Telegram-аккаунтов и выгрузки
// их данных (группы, каналы, контакты).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"telegram-extractor/internal/authflow"
	"telegram-extractor/internal/extract"
	"telegram-extractor/internal/infra/config"
	"telegram-extractor/internal/infra/db"
	"telegram-extractor/internal/infra/logger"
	"telegram-extractor/internal/infra/ratelimit"
	"telegram-extractor/internal/store"
	tgclient "telegram-extractor/internal/telegram"
	"telegram-extractor/internal/web"
)

const appVersion = "0.3.0"

const shutdownTimeout = 10 * time.Second

func main() {
	envPath := flag.String("env", ".env", "путь к .env файлу")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	env := config.Env()

	logger.Init(env.LogLevel)
	if env.LogFile != "" {
		logger.InitFile(logger.FileOptions{
			Path:       env.LogFile,
			Level:      env.LogFileLevel,
			MaxSizeMB:  env.LogFileMaxSize,
			MaxBackups: env.LogFileMaxBackups,
			MaxAgeDays: env.LogFileMaxAge,
			Compress:   env.LogFileCompress,
		})
	}
	for _, warn := range config.Warnings() {
		logger.Warn(warn)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env); err != nil {
		logger.Fatal("extractor failed", zap.Error(err))
	}
}

func run(ctx context.Context, env config.EnvConfig) error {
	sessions, records, closeStore, err := openStores(ctx, env)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()

	pool := tgclient.NewPool(tgclient.Options{
		ThrottleRPS: env.ThrottleRPS,
		TestDC:      env.TestDC,
		IdleTimeout: time.Duration(env.ClientIdleSec) * time.Second,
		AppVersion:  appVersion,
	})
	defer pool.Close()

	limiter := ratelimit.New(env.RateLimitMax, time.Duration(env.RateLimitWindowSec)*time.Second)
	flow := authflow.New(sessions, tgclient.NewConnector(pool), limiter)
	service := extract.NewService(flow, records)
	server := web.NewServer(env.ListenAddr, flow, service)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// openStores поднимает выбранный бэкенд хранения и накатывает миграции
// (для Postgres). Оба интерфейса хранилища реализуются одним объектом.
func openStores(ctx context.Context, env config.EnvConfig) (store.SessionStore, store.RecordStore, func() error, error) {
	if env.IsPostgres() {
		conn, err := db.Open(ctx, env.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(conn); err != nil {
			_ = conn.Close()
			return nil, nil, nil, err
		}
		pg := store.NewPostgresStore(conn)
		return pg, pg, conn.Close, nil
	}

	bs, err := store.OpenBolt(env.BoltFile)
	if err != nil {
		return nil, nil, nil, err
	}
	return bs, bs, bs.Close, nil
}
