package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/chain-relay/evmindexor/internal/common"
	"github.com/chain-relay/evmindexor/internal/config"
	"github.com/chain-relay/evmindexor/internal/db"
	"github.com/chain-relay/evmindexor/internal/logger"
	"github.com/chain-relay/evmindexor/internal/metrics"
	"github.com/chain-relay/evmindexor/internal/progressstore"
	"github.com/chain-relay/evmindexor/internal/reorg"
	internalrpc "github.com/chain-relay/evmindexor/internal/rpc"
	"github.com/chain-relay/evmindexor/pkg/indexing"
	pkgconfig "github.com/chain-relay/evmindexor/pkg/config"
	"github.com/chain-relay/evmindexor/pkg/provider"
	"github.com/chain-relay/evmindexor/pkg/provider/ethprovider"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║              evmindexor v%s             ║
║   EVM Event Indexing Engine                ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath   string
	manifestPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexer",
	Short:   "evmindexor - EVM event indexing engine",
	Long:    `evmindexor plans, fetches, decodes and dispatches EVM contract events, tracking per-network progress and guarding against chain reorganizations.`,
	Version: version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start indexing the events declared in the manifest",
	RunE:  runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to the ambient configuration file")
	startCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "manifest.toml", "path to the indexing manifest")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down gracefully...")
		cancel()
	}()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
		log.Infow("metrics server started", "address", cfg.Metrics.ListenAddress, "path", cfg.Metrics.Path)
	}

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	migrations := append(reorg.Migrations(), db.Migration{ID: "0001_erc20_transfers", SQL: erc20Migration()})
	if err := db.RunMigrationsDB(log, sqlDB, migrations); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	maintenanceLog := log.WithComponent(common.ComponentMaintenance)
	maintenanceCoordinator := db.NewMaintenanceCoordinator(cfg.DB.Path, sqlDB, &cfg.Maintenance, maintenanceLog)
	if err := maintenanceCoordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance coordinator: %w", err)
	}
	defer maintenanceCoordinator.Stop()

	store := progressstore.New(sqlDB, log.WithComponent(common.ComponentProgressStore))

	registry := indexing.NewRegistry(func(topic0 ethcommon.Hash, err error) {
		log.Errorw("handler error", "topic0", topic0.Hex(), "error", err)
	})
	registry.Register(erc20TransferTopic, decodeERC20Transfer, newERC20Handler(sqlDB, log))
	registry.Complete()

	fetcherLog := log.WithComponent(common.ComponentLogFetcher)
	dial := func(network, rpcURL string, chainID uint64) (provider.Provider, error) {
		fetcherLog.Infow("dialing network", "network", network, "chain_id", chainID)
		return ethprovider.Dial(ctx, rpcURL, &cfg.Retry)
	}

	events, err := eventDescriptors(manifest, dial)
	if err != nil {
		return fmt.Errorf("failed to resolve manifest: %w", err)
	}

	settings := indexing.StartIndexingSettings{
		Fetcher: indexing.FetcherConfig{},
	}
	verifier, wired, err := buildSingleNetworkVerifier(ctx, manifest, sqlDB, &cfg.Retry, maintenanceCoordinator, log)
	if err != nil {
		return fmt.Errorf("failed to set up reorg verifier: %w", err)
	}
	if wired {
		settings.Fetcher.Verifier = verifier
	} else {
		log.Info("manifest spans more than one network; skipping the single-network hash-chain verifier and relying on safe-distance clamping only")
	}

	log.Info("starting indexing supervisor")
	if err := indexing.StartIndexing(ctx, registry, store, events, settings, log); err != nil {
		return fmt.Errorf("indexing supervisor failed: %w", err)
	}

	log.Info("evmindexor stopped successfully")
	return nil
}

// distinctNetworks collects the unique network names referenced anywhere in
// the manifest, keeping the first NetworkManifest (and so the first rpc_url)
// seen for each name.
func distinctNetworks(manifest *Manifest) []NetworkManifest {
	seen := make(map[string]bool)
	var out []NetworkManifest
	for _, idx := range manifest.Indexers {
		for _, c := range idx.Contracts {
			for _, ev := range c.Events {
				for _, n := range ev.Networks {
					if seen[n.Network] {
						continue
					}
					seen[n.Network] = true
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// buildSingleNetworkVerifier wires the deeper hash-chain reorg check for
// manifests that target exactly one network. StartIndexingSettings.Fetcher
// is a single template shared by every unit, so a hash-chain verifier keyed
// only by block number can't safely serve two networks at once without
// conflating their block numbers in one cache table; multi-network
// manifests fall back to the per-chain safe-distance clamp in
// pkg/indexing/reorg.go instead.
func buildSingleNetworkVerifier(
	ctx context.Context,
	manifest *Manifest,
	sqlDB *sql.DB,
	retry *pkgconfig.RetryConfig,
	maintenance db.Maintenance,
	log *logger.Logger,
) (indexing.HashChainVerifier, bool, error) {
	networks := distinctNetworks(manifest)
	if len(networks) != 1 {
		return nil, false, nil
	}

	ethClient, err := internalrpc.NewClient(ctx, networks[0].RPCURL, retry)
	if err != nil {
		return nil, false, fmt.Errorf("dialing %s for reorg verification: %w", networks[0].Network, err)
	}

	detector, err := reorg.NewReorgDetector(sqlDB, ethClient, log.WithComponent(common.ComponentReorgDetector), maintenance)
	if err != nil {
		return nil, false, err
	}

	return reorg.NewVerifier(detector), true, nil
}
