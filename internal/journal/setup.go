package journal

import (
	"io"
	"log/slog"

	"netfixture/internal/config"
)

// Set is the journal wiring for one fixture process.
type Set struct {
	Recorder Recorder
	Memory   *Memory
	closers  []io.Closer
}

// Setup builds the recorders enabled by cfg. The in-memory ring is always
// present; Redis and Postgres are added when configured. A backend that
// cannot be reached is logged and skipped so the fixture still starts.
func Setup(cfg *config.Config, logger *slog.Logger) *Set {
	set := &Set{Memory: NewMemory(cfg.JournalSize)}
	recorders := Multi{set.Memory}

	if cfg.RedisURL != "" {
		rs, err := NewRedisStream(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			logger.Warn("redis_journal_unavailable", "error", err)
		} else {
			logger.Info("redis_journal_enabled", "stream", DefaultStream)
			recorders = append(recorders, rs)
			set.closers = append(set.closers, rs)
		}
	}

	if cfg.DatabaseURL != "" {
		pg, err := OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("postgres_journal_unavailable", "error", err)
		} else {
			recorders = append(recorders, pg)
			set.closers = append(set.closers, pg)
		}
	}

	set.Recorder = recorders
	return set
}

// Close releases every backend, newest first.
func (s *Set) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}
