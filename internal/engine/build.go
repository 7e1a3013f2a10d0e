package engine

import (
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/config"
	"github.com/lvonguyen/threatlens/internal/mitre"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/sources"
)

// FromConfig wires the default connectors, the ATT&CK catalog and the
// pipeline from a loaded configuration. The aggregator is returned so
// callers can list its connectors.
func FromConfig(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*Engine, *sources.Aggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	agg := sources.NewDefaultAggregator(cfg.Sources, logger.Named("sources"), metrics)

	e, err := New(agg, Options{
		Weights: cfg.Ranking,
		Rules:   cfg.Analyst,
		Attack:  mitre.NewAttackFramework(logger.Named("mitre")),
		Logger:  logger.Named("engine"),
		Metrics: metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, agg, nil
}
