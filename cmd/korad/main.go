// Command korad runs the gasless transaction relayer: it loads a
// config file, builds every collaborator named in spec.md §4, and
// serves the JSON-RPC 2.0 API over HTTP. Exit codes follow spec.md
// §6: 1 on a config error, 2 on a signer pool init error, 3 if the
// HTTP server cannot bind or exits with an error.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/solana-relay/kora/internal/bundle"
	"github.com/solana-relay/kora/internal/chain"
	"github.com/solana-relay/kora/internal/config"
	"github.com/solana-relay/kora/internal/kv"
	"github.com/solana-relay/kora/internal/metrics"
	"github.com/solana-relay/kora/internal/oracle"
	"github.com/solana-relay/kora/internal/rpcserver"
	"github.com/solana-relay/kora/internal/signer"
	"github.com/solana-relay/kora/internal/state"
	"github.com/solana-relay/kora/internal/usagelimit"
	"github.com/solana-relay/kora/internal/webhook"
)

// version is stamped by the build process; getVersion falls back to
// this literal when unset.
var version = "dev"

func main() {
	app := &cli.App{
		Name:  "korad",
		Usage: "gasless transaction relayer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the relayer's YAML config file",
				Value: "config.yaml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("korad exited", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	pool, err := signer.BuildPool(cfg.Signers)
	if err != nil {
		log.Error("signer pool init failed", "err", err)
		os.Exit(2)
	}
	log.Info("signer pool ready", "strategy", cfg.Signers.Strategy, "signers", len(cfg.Signers.Signers))

	callTimeout := time.Duration(cfg.Server.CallTimeoutMs) * time.Millisecond
	var chainClient chain.Client
	if callTimeout > 0 {
		chainClient = chain.NewWithTimeout(cfg.Server.RPCEndpoint, callTimeout)
	} else {
		chainClient = chain.New(cfg.Server.RPCEndpoint)
	}

	priceOracle := buildOracle(cfg)
	handle := state.New(cfg, pool)

	deps := rpcserver.Deps{
		State:      handle,
		Chain:      chainClient,
		Oracle:     priceOracle,
		Metrics:    buildMetrics(cfg),
		Webhook:    buildWebhook(cfg),
		UsageLimit: buildUsageLimit(cfg),
		Bundle:     buildBundle(cfg),
		Version:    version,
	}
	srv := rpcserver.New(deps)

	log.Info("korad listening", "addr", cfg.Server.ListenAddr, "rpc_endpoint", cfg.Server.RPCEndpoint)
	if err := listenAndServe(cfg.Server.ListenAddr, srv); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(3)
	}
	return nil
}

// buildOracle assembles the consensus oracle's sources from
// validation.price_source and the oracle config block (spec.md §4.C).
// An unset fetch timeout falls back to 10 seconds per price request;
// a zero retry count disables retrying.
func buildOracle(cfg *config.Config) *oracle.ConsensusOracle {
	timeout := time.Duration(cfg.Oracle.FetchTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var base oracle.Source
	switch cfg.Validation.PriceSource {
	case "pyth":
		base = oracle.NewPythSource(cfg.Oracle.PythBaseURL, cfg.Oracle.PythFeedIDs, timeout)
	case "mock":
		prices := make(map[string]decimal.Decimal, len(cfg.Oracle.MockPrices))
		for mint, raw := range cfg.Oracle.MockPrices {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				log.Warn("oracle: mock price unparsable, skipping", "mint", mint, "price", raw, "err", err)
				continue
			}
			prices[mint] = d
		}
		base = oracle.NewMockSource(prices)
	default:
		base = oracle.NewJupiterSource(cfg.Oracle.JupiterBaseURL, timeout)
	}

	if cfg.Oracle.RetryMaxRetries > 0 {
		retryCfg := oracle.DefaultRetryConfig()
		retryCfg.MaxRetries = cfg.Oracle.RetryMaxRetries
		if cfg.Oracle.RetryBaseDelayMs > 0 {
			retryCfg.BaseDelay = time.Duration(cfg.Oracle.RetryBaseDelayMs) * time.Millisecond
		}
		base = oracle.NewRetryingSource(base, retryCfg)
	}
	return oracle.NewConsensusOracle(base)
}

func buildMetrics(cfg *config.Config) metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return metrics.NoopRecorder{}
	}
	return metrics.NewRegistry()
}

func buildWebhook(cfg *config.Config) webhook.Notifier {
	if !cfg.Webhook.Enabled || cfg.Webhook.URL == "" {
		return webhook.NoopNotifier{}
	}
	return webhook.NewHTTPNotifier(cfg.Webhook.URL, 10*time.Second)
}

func buildUsageLimit(cfg *config.Config) usagelimit.Limiter {
	if !cfg.UsageLimit.Enabled {
		return usagelimit.Unlimited{}
	}
	window := time.Duration(cfg.UsageLimit.WindowSeconds) * time.Second
	return usagelimit.NewWindowedLimiter(kv.NewMemoryStore(), cfg.UsageLimit.MaxLamportsPerWindow, window)
}

func buildBundle(cfg *config.Config) bundle.Submitter {
	if !cfg.Bundle.Enabled || cfg.Bundle.BlockEngineURL == "" {
		return bundle.NoopSubmitter{}
	}
	return bundle.NewJitoSubmitter(cfg.Bundle.BlockEngineURL, 10*time.Second)
}

func listenAndServe(addr string, srv *rpcserver.Server) error {
	if addr == "" {
		addr = ":8080"
	}
	return http.ListenAndServe(addr, srv.Handler())
}
