package di

import (
	"context"
	"fmt"
	"time"

	"StoryRisk/internal/domain/repository"
	"StoryRisk/internal/domain/service"
	"StoryRisk/internal/handler/api"
	internalrepo "StoryRisk/internal/repository"
	"StoryRisk/internal/service/ratelimit"
	"StoryRisk/internal/services/predictor"
	"StoryRisk/internal/usecase"
	"StoryRisk/pkg/cache"
	pkgch "StoryRisk/pkg/clickhouse"
	"StoryRisk/pkg/config"
	xhttp "StoryRisk/pkg/http"
	pkgkafka "StoryRisk/pkg/kafka"
	"StoryRisk/pkg/logger"
	"StoryRisk/pkg/metrics"
	"StoryRisk/pkg/server"
	"StoryRisk/pkg/queue"
	"StoryRisk/pkg/sqlite"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.New()
}

// ProvideCache returns Redis when enabled, otherwise a process-local cache.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		c := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Predictor.Cache.Size))
		return c, func() { _ = c.Close() }, nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

// ProvideStoryStore opens the configured store and makes sure its schema exists.
func ProvideStoryStore(cfg *config.Config, c cache.Service, l *logger.Logger) (repository.StoryStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Store.Type {
	case "memory":
		l.Warn("using in-memory story store, records are lost on exit")
		return internalrepo.NewMemoryStoryStore(), func() {}, nil

	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		store, err := internalrepo.NewClickHouseStoryStore(ctx, client.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table, c)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse store: %w", err)
		}
		l.Info("clickhouse story store ready", logger.String("db", cfg.ClickHouse.Database), logger.String("table", cfg.ClickHouse.Table))
		return store, func() { _ = client.Close() }, nil

	default:
		client, err := sqlite.NewClient(sqlite.WithPath(cfg.SQLite.Path))
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite client: %w", err)
		}
		if err := client.InitSchema(ctx, internalrepo.SQLiteSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("sqlite schema: %w", err)
		}
		l.Info("sqlite story store ready", logger.String("path", cfg.SQLite.Path))
		return internalrepo.NewSQLiteStoryStore(client.DB()), func() { _ = client.Close() }, nil
	}
}

// ProvidePredictor builds the model adapter, optionally behind a result cache.
func ProvidePredictor(cfg *config.Config, c cache.Service, l *logger.Logger) service.Predictor {
	pc := cfg.Predictor
	var p service.Predictor
	switch pc.Type {
	case "http":
		p = predictor.NewHTTPPredictor(pc.URL, pc.Timeout)
	default:
		p = predictor.NewProcessPredictor(pc.PythonPath, pc.ScriptPath, pc.Timeout, l)
	}
	if !pc.Cache.Enabled {
		return p
	}
	var store cache.Service = c
	if cfg.Redis.Enabled {
		store = cache.NewLayeredCache(c, pc.Cache.Size, pc.Cache.TTL)
	}
	return predictor.NewCachedPredictor(p, store, pc.Cache.TTL, l)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideStreamHub creates the websocket hub, or nil when the stream is off.
func ProvideStreamHub(cfg *config.Config, l *logger.Logger) *api.StreamHub {
	if !cfg.Stream.Enabled {
		return nil
	}
	return api.NewStreamHub(api.StreamConfig{
		BufferSize:   cfg.Stream.BufferSize,
		PingInterval: cfg.Stream.PingInterval,
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, l)
}

// ProvideEventPublisher fans story events out to Kafka and the websocket hub.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, hub *api.StreamHub) repository.EventPublisher {
	var pubs []repository.EventPublisher
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic))
	}
	if hub != nil {
		pubs = append(pubs, hub)
	}
	if len(pubs) == 0 {
		return internalrepo.NoopPublisher{}
	}
	return internalrepo.NewMultiPublisher(pubs...)
}

// ProvideEstimator creates the estimation use case.
func ProvideEstimator(
	cfg *config.Config,
	p service.Predictor,
	store repository.StoryStore,
	events repository.EventPublisher,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Estimator {
	return usecase.NewEstimator(p, store, events, m, l, cfg.Predictor.DefaultInfluence)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook{},
		pkgkafka.SlowHook{Log: l, Threshold: cfg.Kafka.Consumer.SlowThreshold},
	))
	l.Info("kafka consumer configured",
		logger.Strings("brokers", cfg.Kafka.Brokers),
		logger.String("group_id", cfg.Kafka.Consumer.GroupID),
		logger.String("requests_topic", cfg.Kafka.RequestsTopic),
	)
	return consumer, nil
}

// ProvideEstimationRequestsHandler handles the estimation requests topic.
func ProvideEstimationRequestsHandler(cfg *config.Config, est *usecase.Estimator, l *logger.Logger) *usecase.EstimationRequestsHandler {
	return usecase.NewEstimationRequestsHandler(cfg.Kafka.RequestsTopic, est, l)
}

// ProvideRequestQueue builds the Redis request queue, or nil when it is off.
// It shares the Redis connection of the cache.
func ProvideRequestQueue(cfg *config.Config, c cache.Service, kh *usecase.EstimationRequestsHandler, l *logger.Logger) (*queue.RedisQueue, error) {
	if !cfg.Queue.Enabled {
		return nil, nil
	}
	rc, ok := c.(*cache.RedisCache)
	if !ok {
		return nil, fmt.Errorf("request queue needs the redis cache, got %T", c)
	}
	q := queue.NewRedisQueue(l, queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		KeyPrefix:  cfg.Queue.KeyPrefix,
	}, rc.Client())
	q.RegisterJob(kh)
	return q, nil
}

// ProvideBackfillScheduler returns nil when no schedule is configured.
func ProvideBackfillScheduler(cfg *config.Config, est *usecase.Estimator, c cache.Service, l *logger.Logger) (*usecase.BackfillScheduler, error) {
	if cfg.Backfill.Schedule == "" {
		return nil, nil
	}
	var locker cache.Locker
	if cfg.Redis.Enabled {
		locker = c
	}
	return usecase.NewBackfillScheduler(est, cfg.Backfill.Schedule, cfg.Backfill.Timezone, locker, l)
}

// ProvideEstimateHandler creates the HTTP API handler.
func ProvideEstimateHandler(cfg *config.Config, l *logger.Logger, est *usecase.Estimator, store repository.StoryStore, hub *api.StreamHub, requests *queue.RedisQueue) *api.EstimateHandler {
	rl := api.RateLimitConfig{}
	if cfg.RateLimit.Enabled {
		rl = api.RateLimitConfig{Capacity: cfg.RateLimit.Capacity, RefillPerSec: cfg.RateLimit.RefillPerSec}
	}
	h := api.NewEstimateHandler(l, est, store, hub, ratelimit.New(), rl)
	if requests != nil {
		h.WithRequestQueue(requests)
	}
	return h
}

// ProvideHTTPServer creates the Echo server with the API routes.
func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, h *api.EstimateHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideApp assembles the application. Optional parts may be nil.
func ProvideApp(
	l *logger.Logger,
	httpServer *xhttp.Server,
	est *usecase.Estimator,
	events repository.EventPublisher,
	hub *api.StreamHub,
	consumer *pkgkafka.Consumer,
	kh *usecase.EstimationRequestsHandler,
	requests *queue.RedisQueue,
	scheduler *usecase.BackfillScheduler,
) *server.App {
	app := server.New(l, httpServer, est, events)
	if hub != nil {
		app.SetStream(hub)
	}
	if consumer != nil {
		app.SetConsumer(consumer, kh)
	}
	if requests != nil {
		app.SetQueue(requests)
	}
	if scheduler != nil {
		app.SetScheduler(scheduler)
	}
	return app
}
