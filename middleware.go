package keel

import (
	"context"
	"time"

	"github.com/xraph/go-utils/log"
)

// Observer provides hooks around top-level resolutions. Observers can be used
// for logging, metrics, tracing, testing, etc. Hooks run on the resolving
// goroutine and must be safe for concurrent use.
type Observer interface {
	// BeforeResolve runs before a resolution is executed.
	BeforeResolve(ctx context.Context, serviceType string, key ServiceKey)

	// AfterResolve runs after a resolution completes, successfully or not.
	AfterResolve(ctx context.Context, serviceType string, key ServiceKey, service any, err error, elapsed time.Duration)
}

// FuncObserver wraps functions as an Observer. Nil hooks are skipped.
type FuncObserver struct {
	OnBeforeResolve func(ctx context.Context, serviceType string, key ServiceKey)
	OnAfterResolve  func(ctx context.Context, serviceType string, key ServiceKey, service any, err error, elapsed time.Duration)
}

// BeforeResolve implements Observer.
func (f *FuncObserver) BeforeResolve(ctx context.Context, serviceType string, key ServiceKey) {
	if f.OnBeforeResolve != nil {
		f.OnBeforeResolve(ctx, serviceType, key)
	}
}

// AfterResolve implements Observer.
func (f *FuncObserver) AfterResolve(ctx context.Context, serviceType string, key ServiceKey, service any, err error, elapsed time.Duration) {
	if f.OnAfterResolve != nil {
		f.OnAfterResolve(ctx, serviceType, key, service, err, elapsed)
	}
}

// LoggingObserver logs every resolution outcome with its duration.
type LoggingObserver struct {
	logger log.Logger
}

// NewLoggingObserver creates an observer that logs resolutions to the given
// logger.
func NewLoggingObserver(logger log.Logger) *LoggingObserver {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &LoggingObserver{logger: logger}
}

// BeforeResolve implements Observer.
func (o *LoggingObserver) BeforeResolve(ctx context.Context, serviceType string, key ServiceKey) {
	o.logger.Debug("resolving service",
		log.String("service_type", serviceType),
		log.String("service_key", key.String()),
	)
}

// AfterResolve implements Observer.
func (o *LoggingObserver) AfterResolve(ctx context.Context, serviceType string, key ServiceKey, service any, err error, elapsed time.Duration) {
	if err != nil {
		o.logger.Warn("service resolution failed",
			log.String("service_type", serviceType),
			log.String("service_key", key.String()),
			log.Duration("elapsed", elapsed),
			log.Error(err),
		)

		return
	}

	o.logger.Debug("service resolved",
		log.String("service_type", serviceType),
		log.String("service_key", key.String()),
		log.Duration("elapsed", elapsed),
	)
}

// observeStart notifies observers that a resolution is starting and returns
// the completion callback. With no observers registered both sides are
// no-ops.
func (p *ServiceProvider) observeStart(ctx context.Context, id serviceIdentifier) func(service any, err error) {
	if len(p.observers) == 0 {
		return func(any, error) {}
	}

	serviceType := id.serviceType.String()

	for _, o := range p.observers {
		o.BeforeResolve(ctx, serviceType, id.key)
	}

	start := time.Now()

	return func(service any, err error) {
		elapsed := time.Since(start)
		for _, o := range p.observers {
			o.AfterResolve(ctx, serviceType, id.key, service, err, elapsed)
		}
	}
}
