// Command facilitator is the composition root: it loads configuration,
// dials a chain signer per supported network, wires the exact-evm scheme,
// the cross-chain bridge subsystem, and the HTTP surface, then serves
// until terminated.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcoBrian/RailBridge/internal/bridge"
	"github.com/MarcoBrian/RailBridge/internal/cache"
	"github.com/MarcoBrian/RailBridge/internal/config"
	"github.com/MarcoBrian/RailBridge/internal/metrics"
	"github.com/MarcoBrian/RailBridge/internal/nonce"
	"github.com/MarcoBrian/RailBridge/internal/orchestrator"
	"github.com/MarcoBrian/RailBridge/internal/server"
	"github.com/MarcoBrian/RailBridge/mechanisms/evm"
	exactfacilitator "github.com/MarcoBrian/RailBridge/mechanisms/evm/exact/facilitator"
	evmsigner "github.com/MarcoBrian/RailBridge/signers/evm"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, continuing in degraded mode", "error", err)
		redisClient = nil
	}

	// Shared across the settlement and bridge signer sets so a hot wallet
	// used by both never races on its own pending nonce.
	nonceManager := nonce.NewManager()

	signers, err := dialSigners(ctx, cfg, logger, nonceManager)
	if err != nil {
		return err
	}

	bridgeSigners, err := dialBridgeSigners(ctx, cfg, logger, signers, nonceManager)
	if err != nil {
		return err
	}

	var bridgeStore bridge.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, bridge.Schema); err != nil {
			return err
		}
		bridgeStore = bridge.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, bridge jobs will not persist across restarts")
		bridgeStore = bridge.NewInMemoryStore()
	}

	domains := map[string]bridge.DomainConfig{}
	bridgeProviderSigners := map[string]evm.FacilitatorEvmSigner{}
	waiters := map[string]bridge.ReceiptWaiter{}
	for network, cfgEntry := range evm.NetworkConfigs {
		signer, ok := bridgeSigners[network]
		if !ok {
			continue
		}
		bridgeProviderSigners[network] = signer
		waiters[network] = signer
		domains[network] = bridge.NewDomainConfig(cfgEntry.ChainID, cctpDomainFor(network), cfgEntry.DefaultAsset.Address)
	}
	bridgeProvider := bridge.NewBurnAndMintProvider(bridgeProviderSigners, domains)

	m := metrics.New()
	worker := bridge.NewWorker(bridgeStore, bridgeProvider, waiters, workerConfig(cfg), logger, m)
	worker.Start(ctx)
	defer worker.Stop()

	facilitator := orchestrator.New(logger, bridgeProvider, bridgeStore, cfg.CrossChainEnabled)
	facilitator.SetBridgeEnqueue(func(ctx context.Context, req bridge.EnqueueRequest) {
		worker.Enqueue(ctx, req)
	})

	schemeConfig := &exactfacilitator.ExactEvmSchemeConfig{DeployERC4337WithEIP6492: cfg.DeployERC4337WithEIP6492}
	for network, signer := range signers {
		scheme := exactfacilitator.NewExactEvmScheme(signer, schemeConfig)
		address := ""
		if addrs := signer.GetAddresses(); len(addrs) > 0 {
			address = addrs[0]
		}
		facilitator.Register(evm.SchemeExact, network, scheme, address, map[string]interface{}{
			"name":    evm.NetworkConfigs[network].DefaultAsset.Name,
			"version": evm.NetworkConfigs[network].DefaultAsset.Version,
		})
		if cfg.CrossChainEnabled {
			facilitator.Register("cross-chain", network, scheme, address, nil)
		}
	}

	facilitator.OnAfterVerify(func(r orchestrator.VerifyResultContext) {
		logger.Info("verify completed", "network", r.Requirements.Network, "isValid", r.Result.IsValid)
	})
	facilitator.OnAfterSettle(func(r orchestrator.SettleResultContext) {
		logger.Info("settle completed", "network", r.Requirements.Network, "success", r.Result.Success, "transaction", r.Result.Transaction)
	})
	facilitator.OnVerifyFailure(func(f orchestrator.VerifyFailureContext) orchestrator.VerifyFailureHookResult {
		logger.Warn("verify failed", "network", f.Requirements.Network, "error", f.Error)
		return orchestrator.VerifyFailureHookResult{}
	})
	facilitator.OnSettleFailure(func(f orchestrator.SettleFailureContext) orchestrator.SettleFailureHookResult {
		logger.Warn("settle failed", "network", f.Requirements.Network, "error", f.Error)
		return orchestrator.SettleFailureHookResult{}
	})

	srv := server.New(cfg, facilitator, bridgeStore, worker, redisClient, logger, m)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func dialSigners(ctx context.Context, cfg *config.Config, logger *slog.Logger, nonceManager *nonce.Manager) (map[string]*evmsigner.FacilitatorSigner, error) {
	signers := make(map[string]*evmsigner.FacilitatorSigner)
	for network := range evm.NetworkConfigs {
		rpcURL, err := cfg.RPCURLFor(network)
		if err != nil {
			logger.Warn("no RPC configured, skipping network", "network", network)
			continue
		}
		signer, err := evmsigner.NewFacilitatorSigner(ctx, rpcURL, cfg.EVMPrivateKey, nonceManager)
		if err != nil {
			logger.Warn("failed to dial signer, skipping network", "network", network, "error", err)
			continue
		}
		signers[network] = signer
	}
	if len(signers) == 0 {
		return nil, errNoNetworksConfigured
	}
	return signers, nil
}

func dialBridgeSigners(ctx context.Context, cfg *config.Config, logger *slog.Logger, fallback map[string]*evmsigner.FacilitatorSigner, nonceManager *nonce.Manager) (map[string]*evmsigner.FacilitatorSigner, error) {
	if cfg.BridgeEVMPrivateKey == cfg.EVMPrivateKey {
		return fallback, nil
	}
	signers := make(map[string]*evmsigner.FacilitatorSigner)
	for network := range evm.NetworkConfigs {
		rpcURL, err := cfg.RPCURLFor(network)
		if err != nil {
			continue
		}
		signer, err := evmsigner.NewFacilitatorSigner(ctx, rpcURL, cfg.BridgeEVMPrivateKey, nonceManager)
		if err != nil {
			logger.Warn("failed to dial bridge signer, falling back to settlement signer", "network", network, "error", err)
			if s, ok := fallback[network]; ok {
				signers[network] = s
			}
			continue
		}
		signers[network] = signer
	}
	return signers, nil
}

func workerConfig(cfg *config.Config) bridge.WorkerConfig {
	wc := bridge.DefaultWorkerConfig()
	wc.MaxAttempts = cfg.BridgeMaxAttempts
	wc.RetryBaseIntervalSeconds = int64(cfg.BridgeRetryIntervalSeconds)
	wc.StaleJobThresholdSeconds = int64(cfg.BridgeStaleJobThresholdSeconds)
	return wc
}

// cctpDomainFor maps a CAIP-2 network to its CCTP domain id. Values per
// Circle's published domain registry; networks outside this table use 0
// as a placeholder since CCTP is not yet deployed there.
func cctpDomainFor(network string) uint32 {
	switch network {
	case "eip155:1":
		return 0
	case "eip155:43114":
		return 1
	case "eip155:10":
		return 2
	case "eip155:42161":
		return 3
	case "eip155:8453":
		return 6
	case "eip155:137":
		return 7
	default:
		return 0
	}
}

var errNoNetworksConfigured = &startupError{"no EVM networks could be configured; check RPC URLs"}

type startupError struct{ msg string }

func (e *startupError) Error() string { return e.msg }
