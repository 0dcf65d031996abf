//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"perpbot/internal/config"
)

// buildApp wires every component from the loaded configuration.
// Wire generates the implementation in wire_gen.go.
func buildApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		// Observability
		provideRegistry,
		provideMetrics,
		provideAlerter,

		// Infrastructure
		provideCache,
		provideOrderStore,
		provideSource,
		provideGateway,
		provideKlineStore,
		provideSnapshotStore,

		// Strategy
		provideVariants,
		provideScope,

		// Services
		provideCoordinator,
		providePipeline,
		provideEngines,
		provideUpdater,
		provideQuotes,
		provideStartup,
		provideAdmin,

		newApp,
	)
	return nil, nil, nil
}
