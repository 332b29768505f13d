package oracle

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/lazarus/api/schemas"
	"github.com/xkilldash9x/lazarus/internal/config"
)

// NewOracle is a factory function that creates an Oracle based on the
// configured provider, wrapped with the configured rate limit.
func NewOracle(cfg config.OracleConfig, logger *zap.Logger) (schemas.Oracle, error) {
	var (
		o   schemas.Oracle
		err error
	)

	switch cfg.Provider {
	case config.ProviderGemini:
		o, err = NewGeminiOracle(cfg, logger)
	case config.ProviderOpenAI:
		o, err = NewOpenAIOracle(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported oracle provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		o = NewRateLimited(o, cfg.RequestsPerMinute)
	}
	return o, nil
}
