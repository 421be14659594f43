//go:build wireinject
// +build wireinject

package di

import (
	"AgentFlow/pkg/config"
	"AgentFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisClient,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideExecutionStore,
		ProvideCatalog,
		ProvideFeatureStore,

		// Domain services
		ProvideRegistry,
		ProvideLedger,
		ProvideBrokers,
		ProvideAgents,
		ProvideExecutionStream,
		ProvideEventPublisher,
		ProvideNotifiers,

		// Execution core
		ProvideEngine,
		ProvideExecutionJob,
		ProvideJobQueue,
		ProvideRequestQueue,
		ProvideMonitor,
		ProvideDispatcher,
		ProvideScheduler,

		// Signal ingest
		ProvideSignalProcessor,
		ProvideSignalGate,
		ProvideKafkaConsumer,
		ProvideKafkaSignalsHandler,
		ProvideSignalCollector,

		// HTTP and application server
		ProvideHandlers,
		ProvideApp,
	)
	return &server.App{}, nil
}
