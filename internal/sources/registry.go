package sources

import (
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Config holds the configuration of every built-in connector.
type Config struct {
	NVD         SourceConfig    `yaml:"nvd"`
	KEV         SourceConfig    `yaml:"cisa_kev"`
	VendorFeeds []FeedConfig    `yaml:"vendor_feeds"`
	GitHub      SourceConfig    `yaml:"github"`
	Shodan      SourceConfig    `yaml:"shodan"`
	WebSearch   WebSearchConfig `yaml:"web_search"`
}

// DefaultConfig returns defaults for all built-in connectors.
func DefaultConfig() Config {
	return Config{
		NVD:         DefaultNVDConfig(),
		KEV:         DefaultKEVConfig(),
		VendorFeeds: DefaultVendorFeeds(),
		GitHub:      DefaultGitHubConfig(),
		Shodan:      DefaultShodanConfig(),
		WebSearch:   DefaultWebSearchConfig(),
	}
}

// NewDefaultAggregator builds an aggregator with every enabled connector
// registered in priority order: OFFICIAL, then VERIFIED, then COMMUNITY.
// Connectors that need credentials are skipped when none are set.
func NewDefaultAggregator(cfg Config, logger *zap.Logger, recorder Recorder) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	var regs []registration
	add := func(c Connector, timeout time.Duration) {
		regs = append(regs, registration{connector: c, timeout: timeout})
	}

	if cfg.NVD.Enabled {
		add(NewNVDConnector(cfg.NVD), cfg.NVD.Timeout)
	}
	if cfg.KEV.Enabled {
		add(NewKEVConnector(cfg.KEV), cfg.KEV.Timeout)
	}
	for _, feed := range cfg.VendorFeeds {
		if feed.Enabled && feed.URL != "" {
			add(NewFeedConnector(feed), feed.Timeout)
		}
	}
	if cfg.GitHub.Enabled {
		add(NewGitHubConnector(cfg.GitHub), cfg.GitHub.Timeout)
	}
	if cfg.Shodan.Enabled {
		if cfg.Shodan.apiKey() != "" {
			add(NewShodanConnector(cfg.Shodan), cfg.Shodan.Timeout)
		} else {
			logger.Info("Shodan connector disabled: API key not set", zap.String("env", cfg.Shodan.APIKeyEnv))
		}
	}
	if cfg.WebSearch.Enabled {
		if os.Getenv(cfg.WebSearch.APIKeyEnv) != "" && os.Getenv(cfg.WebSearch.EngineIDEnv) != "" {
			for _, c := range NewSearchConnectors(cfg.WebSearch) {
				add(c, cfg.WebSearch.Timeout)
			}
		} else {
			logger.Info("Web search connectors disabled: credentials not set",
				zap.String("api_key_env", cfg.WebSearch.APIKeyEnv),
				zap.String("engine_id_env", cfg.WebSearch.EngineIDEnv),
			)
		}
	}

	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].connector.Authority().Rank() > regs[j].connector.Authority().Rank()
	})

	agg := NewAggregator(logger, recorder)
	for _, r := range regs {
		agg.Register(r.connector, r.timeout)
	}
	return agg
}
