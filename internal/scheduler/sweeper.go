package scheduler

import (
	"context"
	"time"

	"github.com/chitchat/internal/logger"
)

// Sweeper периодически запускает SweepDue. Первый проход выполняется сразу
// при старте, чтобы сообщения, созревшие за время простоя, не ждали целый
// интервал.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

// Run блокируется до отмены контекста.
func (w *Sweeper) Run(ctx context.Context) {
	logger.Infof("sweeper: started, interval %s", w.interval)
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("sweeper: stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	if _, err := w.svc.SweepDue(ctx); err != nil {
		logger.Errorf("sweeper: %v", err)
	}
}
