//go:build wireinject
// +build wireinject

package di

import (
	"TapeFlow/pkg/config"
	"TapeFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideBus,

		// Market state
		ProvideBuffers,
		ProvideCVDTracker,
		ProvidePatternEngine,
		ProvideRegimeDetector,
		ProvideManipulationDetector,
		ProvideTapeService,

		// Setups and risk
		ProvideSetupDetectors,
		ProvideRiskManager,
		ProvideLifecycle,
		ProvideSweeper,
		ProvidePositionManager,

		// Feed and persistence
		ProvideMarketStream,
		ProvideIngestor,
		ProvideJournal,

		// HTTP and application
		ProvideStatusHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
