package startup

import (
	"os"
	"time"

	"github.com/chitchat/internal/logger"
)

// withRetry повторяет connect с экспоненциальной задержкой (2s → 30s cap).
// По истечении maxWait процесс завершается: без БД или шины сервис бесполезен,
// пусть его перезапустит оркестратор.
func withRetry(what, logPrefix string, maxWait time.Duration, connect func() error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := connect()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
