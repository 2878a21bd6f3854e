// Package engine assembles the trade pipeline from configuration.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/orchestrator"
	"solana-swap-engine/internal/quote"
	"solana-swap-engine/internal/signer"
	"solana-swap-engine/internal/solana"
	"solana-swap-engine/internal/tracker"
	"solana-swap-engine/internal/txbuilder"
)

// Engine is a wired orchestrator and the chain client it runs on.
type Engine struct {
	Orchestrator *orchestrator.Orchestrator
	RPC          *solana.HTTPClient
	Payer        string

	closers []func() error
}

// Close releases the chain connections.
func (e *Engine) Close() error {
	var errs error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, e.closers[i]())
	}
	e.closers = nil
	return errs
}

// New builds the engine. notifier and metrics may be nil.
func New(ctx context.Context, cfg *config.Config, notifier *orchestrator.Notifier, metrics *observability.Metrics, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := []solana.ClientOption{
		solana.WithTimeout(cfg.Solana.Timeout),
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
		solana.WithCommitment(cfg.Solana.Commitment),
		solana.WithLogger(logger.Named("rpc")),
	}
	if metrics != nil {
		clientOpts = append(clientOpts, solana.WithObserver(metrics.RecordRPC))
	}
	e := &Engine{RPC: solana.NewHTTPClient(cfg.Solana.RPCEndpoint, clientOpts...)}

	var subscriber solana.SignatureSubscriber
	if cfg.Solana.WSEndpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Commitment = cfg.Solana.Commitment
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &wsCfg, logger.Named("ws"))
		if err != nil {
			// polling alone still reaches a terminal state
			logger.Warn("ws.connect_failed", zap.String("endpoint", cfg.Solana.WSEndpoint), zap.Error(err))
		} else {
			e.closers = append(e.closers, ws.Close)
			subscriber = ws
		}
	}

	source, err := CredentialSource(ctx, cfg.Wallet)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("credential source: %w", err)
	}
	sgn, err := signer.New(ctx, source, logger.Named("signer"))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init signer: %w", err)
	}
	e.Payer = sgn.PublicKey().String()
	logger.Info("signer.ready", zap.String("payer", e.Payer), zap.String("source", cfg.Wallet.Source))

	quotes, err := QuoteRouter(cfg, e.RPC, e.Payer, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.Orchestrator, err = orchestrator.New(orchestrator.Options{
		Quotes: quotes,
		Builder: txbuilder.New(txbuilder.Options{
			ComputeUnitLimit: cfg.Builder.ComputeUnitLimit,
			ComputeUnitPrice: cfg.Builder.ComputeUnitPrice,
			Logger:           logger.Named("builder"),
		}),
		Signer: sgn,
		Submitter: tracker.New(tracker.Options{
			Chain:      e.RPC,
			Subscriber: subscriber,
			Config:     cfg.Engine.TrackerConfig(),
			Logger:     logger.Named("tracker"),
		}),
		Chain:    e.RPC,
		Config:   cfg.Engine.OrchestratorConfig(),
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger.Named("orchestrator"),
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// CredentialSource selects the key source named by cfg. It never reads the key.
func CredentialSource(ctx context.Context, cfg config.WalletConfig) (signer.Source, error) {
	switch cfg.Source {
	case "env":
		return signer.EnvSource{Var: cfg.EnvVar}, nil
	case "file":
		return signer.KeypairFileSource{Path: cfg.KeypairPath}, nil
	case "secretsmanager":
		return signer.NewSecretsManagerSource(ctx, cfg.AWSRegion, cfg.SecretID, cfg.SecretField)
	default:
		return nil, fmt.Errorf("unknown wallet source %q", cfg.Source)
	}
}

// QuoteRouter builds the Jupiter source and, when enabled, the Raydium pool source.
func QuoteRouter(cfg *config.Config, chain solana.ChainClient, payer string, logger *zap.Logger) (*quote.Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	jupiter, err := quote.NewJupiterSource(quote.JupiterOptions{
		BaseURL:                 cfg.Jupiter.BaseURL,
		APIKey:                  cfg.Jupiter.APIKey,
		UserPublicKey:           payer,
		OnlyDirectRoutes:        cfg.Jupiter.OnlyDirectRoutes,
		MaxAccounts:             cfg.Jupiter.MaxAccounts,
		WrapAndUnwrapSOL:        cfg.Jupiter.WrapAndUnwrapSOL,
		DynamicComputeUnitLimit: cfg.Jupiter.DynamicComputeUnitLimit,
		RequestsPerSecond:       cfg.Jupiter.RequestsPerSecond,
		Chain:                   chain,
		Logger:                  logger.Named("jupiter"),
	})
	if err != nil {
		return nil, err
	}

	var raydium quote.Source
	if cfg.Raydium.Enabled {
		src, err := quote.NewRaydiumSource(quote.RaydiumOptions{
			BaseURL:           cfg.Raydium.BaseURL,
			FeeBps:            cfg.Raydium.FeeBps,
			RequestsPerSecond: cfg.Raydium.RequestsPerSecond,
			Chain:             chain,
			Logger:            logger.Named("raydium"),
		})
		if err != nil {
			return nil, err
		}
		raydium = src
	}
	return quote.NewRouter(jupiter, raydium), nil
}
