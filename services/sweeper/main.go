package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chitchat/internal/config"
	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/repository"
	"github.com/chitchat/internal/scheduler"
	"github.com/chitchat/internal/startup"
)

// Отдельный процесс подстраховывает перевод отложенных сообщений: открытые
// чаты показывают созревшие записи сами, а sweeper переносит их в ленту даже
// когда никто не смотрит на диалог.
func main() {
	logger.SetPrefix("sweeper")
	logger.Info("starting sweeper service")
	cfg := config.Load()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "sweeper")
	defer pool.Close()

	bus := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "sweeper")
	defer bus.Close()

	schedRepo := repository.NewScheduledRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	svc := scheduler.NewService(schedRepo, convRepo, bus, cfg.Scheduler.MinLead)
	sweeper := scheduler.NewSweeper(svc, cfg.Scheduler.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	cancel()
	<-done
	logger.Info("sweeper stopped")
}
