package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StoryRisk/internal/domain/repository"
	"StoryRisk/internal/handler/api"
	"StoryRisk/internal/usecase"
	xhttp "StoryRisk/pkg/http"
	pkgkafka "StoryRisk/pkg/kafka"
	applogger "StoryRisk/pkg/logger"
	"StoryRisk/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	log        *applogger.Logger
	httpServer *xhttp.Server
	estimator  *usecase.Estimator
	events     repository.EventPublisher
	stream     *api.StreamHub
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	requests   *queue.RedisQueue
	scheduler  *usecase.BackfillScheduler

	shutdownTimeout time.Duration
}

// New creates a new App instance with its required parts.
func New(l *applogger.Logger, httpServer *xhttp.Server, est *usecase.Estimator, events repository.EventPublisher) *App {
	if l == nil {
		l = applogger.Nop()
	}
	timeout := 10 * time.Second
	if httpServer != nil && httpServer.ShutdownTimeout() > 0 {
		timeout = httpServer.ShutdownTimeout()
	}
	return &App{
		log:             l,
		httpServer:      httpServer,
		estimator:       est,
		events:          events,
		shutdownTimeout: timeout,
	}
}

// SetStream lets shutdown disconnect websocket subscribers before the server stops.
func (a *App) SetStream(h *api.StreamHub) { a.stream = h }

// SetConsumer attaches a Kafka consumer and the handler it feeds.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = h
}

// SetQueue attaches the Redis request queue. Jobs must already be registered.
func (a *App) SetQueue(q *queue.RedisQueue) { a.requests = q }

// SetScheduler attaches the periodic backfill sweep.
func (a *App) SetScheduler(s *usecase.BackfillScheduler) { a.scheduler = s }

// Run starts the application and blocks until ctx is done or a termination
// signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.requests != nil {
		if err := a.requests.Start(ctx); err != nil {
			a.log.Error("request queue start error", applogger.Error(err))
			return err
		}
	}

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		a.log.Info("backfill scheduler started", applogger.String("next", a.scheduler.Next(time.Now()).Format(time.RFC3339)))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	var errs []error

	if a.stream != nil {
		_ = a.stream.Close()
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.requests != nil {
		if err := a.requests.Stop(ctx); err != nil {
			a.log.Warn("request queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	// Backfill writes started by the last requests may still be running.
	if a.estimator != nil {
		if err := a.estimator.Drain(ctx); err != nil {
			a.log.Warn("backfill drain incomplete", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("event publisher close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
