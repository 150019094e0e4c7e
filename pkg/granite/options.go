package granite

import (
	"go.uber.org/zap"

	"granite/internal/backend"
	"granite/internal/base"
	"granite/internal/config"
	"granite/internal/metrics"
)

type settings struct {
	cfg      *config.Config
	logger   *zap.Logger
	recorder metrics.Recorder
	be       backend.Backend
}

// Option adjusts the resolved mount configuration.
type Option interface {
	apply(*settings)
}

type optionFunc func(*settings)

func (f optionFunc) apply(s *settings) { f(s) }

// WithLogger routes allocator logging to log.
func WithLogger(log *zap.Logger) Option {
	return optionFunc(func(s *settings) { s.logger = log })
}

// WithRecorder routes allocator metrics to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return optionFunc(func(s *settings) { s.recorder = rec })
}

// WithBackend mounts a pre-built backend instead of the configured kind.
func WithBackend(be backend.Backend) Option {
	return optionFunc(func(s *settings) { s.be = be })
}

// WithLevels sets the number of lifetime classes.
func WithLevels(n int) Option {
	return optionFunc(func(s *settings) { s.cfg.Levels = n })
}

// WithLifetimeBegin maps class 0 to the given lifetime hint.
func WithLifetimeBegin(lt Lifetime) Option {
	return optionFunc(func(s *settings) { s.cfg.LifetimeBegin = base.Lifetime(lt) })
}

// WithFinishThreshold sets the finish policy percentage; zero disables it.
func WithFinishThreshold(pct uint64) Option {
	return optionFunc(func(s *settings) { s.cfg.FinishThreshold = pct })
}

// WithReadOnly opens the device without taking the exclusive write lock.
func WithReadOnly(readonly bool) Option {
	return optionFunc(func(s *settings) { s.cfg.ReadOnly = readonly })
}
