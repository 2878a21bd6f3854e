package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"solana-swap-engine/internal/domain"
)

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs error

	if c.Solana.RPCEndpoint == "" {
		errs = multierr.Append(errs, errors.New("solana.rpc_endpoint is required"))
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = multierr.Append(errs, fmt.Errorf("solana.commitment %q is not processed, confirmed or finalized", c.Solana.Commitment))
	}

	switch strings.ToLower(c.Logging.Encoding) {
	case "console", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.encoding %q is not console or json", c.Logging.Encoding))
	}

	if err := c.Engine.OrchestratorConfig().Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Engine.DefaultSlippageBps > domain.MaxSlippageBps {
		errs = multierr.Append(errs, fmt.Errorf("engine.default_slippage_bps %d exceeds %d", c.Engine.DefaultSlippageBps, domain.MaxSlippageBps))
	}

	switch c.Wallet.Source {
	case "env":
		if c.Wallet.EnvVar == "" {
			errs = multierr.Append(errs, errors.New("wallet.env_var is required for source env"))
		}
	case "file":
		if c.Wallet.KeypairPath == "" {
			errs = multierr.Append(errs, errors.New("wallet.keypair_path is required for source file"))
		}
	case "secretsmanager":
		if c.Wallet.SecretID == "" {
			errs = multierr.Append(errs, errors.New("wallet.secret_id is required for source secretsmanager"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("wallet.source %q is not env, file or secretsmanager", c.Wallet.Source))
	}

	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		errs = multierr.Append(errs, errors.New("storage.postgres_dsn is required unless storage.use_memory is set"))
	}

	if c.Reconcile.BatchSize > 256 {
		errs = multierr.Append(errs, fmt.Errorf("reconcile.batch_size %d exceeds 256", c.Reconcile.BatchSize))
	}

	return errs
}
