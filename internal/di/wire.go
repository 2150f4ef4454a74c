//go:build wireinject
// +build wireinject

package di

import (
	"StoryRisk/internal/handler/api"
	"StoryRisk/internal/usecase"
	"StoryRisk/pkg/config"
	pkgkafka "StoryRisk/pkg/kafka"
	"StoryRisk/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes the cache and the story store.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideStoryStore,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Adapters
		ProvidePredictor,
		ProvideStreamHub,
		ProvideEventPublisher,

		// Use cases
		ProvideEstimator,
		ProvideEstimationRequestsHandler,
		ProvideRequestQueue,
		ProvideBackfillScheduler,

		// Transport
		ProvideEstimateHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil, nil
}

// InitializeEstimator wires only what the estimation use case needs, for
// one-shot CLI commands.
func InitializeEstimator(cfg *config.Config) (*usecase.Estimator, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideStoryStore,
		ProvidePredictor,
		wire.Value((*pkgkafka.Producer)(nil)),
		wire.Value((*api.StreamHub)(nil)),
		ProvideEventPublisher,
		ProvideEstimator,
	)
	return nil, nil, nil
}
