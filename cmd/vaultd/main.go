package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/audit"
	"omnivault/config"
	"omnivault/core"
	"omnivault/core/events"
	"omnivault/core/types"
	"omnivault/native/valuation"
	"omnivault/observability"
	"omnivault/observability/logging"
	"omnivault/observability/metrics"
	"omnivault/observability/otel"
	"omnivault/rpc"
	"omnivault/storage"
)

const (
	genesisPathEnv  = "OMNIVAULT_GENESIS"
	refreshInterval = 30 * time.Second
	shutdownGrace   = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis spec JSON file (overrides OMNIVAULT_GENESIS and config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OMNIVAULT_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if cfg.RPC.AuthFile != "" {
		policy, err := config.LoadAuthPolicy(cfg.RPC.AuthFile)
		if err != nil {
			panic(fmt.Sprintf("Failed to load RPC auth policy: %v", err))
		}
		policy.Apply(&cfg.RPC)
	}

	logger := logging.Setup(logging.Options{
		Service:    "vaultd",
		Env:        env,
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Info("configuration loaded",
		slog.String("path", *configFile),
		slog.String("rpc", cfg.RPCAddress),
		logging.MaskField("auth_token", cfg.RPC.AuthToken),
	)

	if cfg.Telemetry.Enabled {
		endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
		if fromEnv := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); fromEnv != "" {
			endpoint = fromEnv
		}
		shutdownTelemetry, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "vaultd",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			panic(fmt.Sprintf("Failed to initialise telemetry: %v", err))
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	bank, err := cfg.BuildFuseBank()
	if err != nil {
		panic(fmt.Sprintf("Failed to build fuse bank: %v", err))
	}

	oracle := valuation.NewManualOracle()

	var samples *valuation.SampleStore
	if path := strings.TrimSpace(cfg.Oracle.SamplePath); path != "" {
		samples, err = valuation.OpenSampleStore(path)
		if err != nil {
			panic(fmt.Sprintf("Failed to open oracle sample store: %v", err))
		}
		defer samples.Close()
		seeded, err := samples.Seed(ctx, oracle)
		if err != nil {
			panic(fmt.Sprintf("Failed to seed oracle from samples: %v", err))
		}
		if seeded > 0 {
			logger.Info("oracle seeded from durable samples", slog.Int("quotes", seeded))
		}
	}

	// Config-declared prices land after seeding so operator intent beats
	// whatever the store remembers.
	for i, price := range cfg.Oracle.Prices {
		trimmed := strings.TrimSpace(price.Asset)
		if !common.IsHexAddress(trimmed) {
			panic(fmt.Sprintf("Invalid oracle price asset at index %d: %q", i, price.Asset))
		}
		asset := common.HexToAddress(trimmed)
		if err := oracle.SetPriceString(asset, price.Value, price.Source); err != nil {
			panic(fmt.Sprintf("Failed to apply boot price for %s: %v", asset.Hex(), err))
		}
		if samples != nil {
			if quote, ok := oracle.Lookup(asset); ok {
				if err := samples.Record(ctx, asset, quote.Num, quote.Decimals, quote.Source, quote.UpdatedAt); err != nil {
					logger.Warn("boot price not journalled", slog.String("asset", asset.Hex()), slog.Any("error", err))
				}
			}
		}
	}

	addrs, err := cfg.VaultAddresses()
	if err != nil {
		panic(fmt.Sprintf("Invalid vault addresses: %v", err))
	}

	vault, err := core.NewVault(db, bank, oracle, core.Config{
		BaseAsset:    addrs.BaseAsset,
		VaultAddress: addrs.Vault,
		Pauses:       cfg.PauseSettings(),
		Quota:        cfg.QuotaSettings(),
		Emitter:      &engineEmitter{logger: logger.With(slog.String("component", "engine"))},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to open vault: %v", err))
	}

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	initialised, err := vault.Initialised()
	if err != nil {
		panic(fmt.Sprintf("Failed to inspect vault state: %v", err))
	}
	switch {
	case !initialised:
		if genesisPath == "" {
			logger.Error(fmt.Sprintf("no genesis file provided; supply one via --genesis, %s, or config GenesisFile", genesisPathEnv))
			os.Exit(1)
		}
		spec, err := config.LoadGenesisSpec(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis spec: %v", err))
		}
		gen, err := spec.Build()
		if err != nil {
			panic(fmt.Sprintf("Failed to build genesis state: %v", err))
		}
		if err := vault.InitGenesis(gen); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis: %v", err))
		}
		logger.Info("genesis state applied", slog.String("path", genesisPath))
	case genesisPath != "":
		logger.Info("vault already initialised, ignoring genesis file", slog.String("path", genesisPath))
	}

	var journal *audit.Journal
	if dsn := strings.TrimSpace(cfg.Audit.DSN); dsn != "" {
		journal, err = audit.Open(dsn)
		if err != nil {
			panic(fmt.Sprintf("Failed to open audit journal: %v", err))
		}
		defer journal.Close()
		metrics.Audit().InitStatus(string(audit.StatusCommitted))
		metrics.Audit().InitStatus(string(audit.StatusRejected))
		logger.Info("audit journal opened", slog.String("dsn", logging.SanitizeDSN(dsn)))
	}

	rpcServer, err := rpc.NewServer(vault, samples, journal, rpc.ServerConfig{
		AuthToken:    cfg.RPC.AuthToken,
		AuthTokenEnv: cfg.RPC.AuthTokenEnv,
		JWT: rpc.JWTConfig{
			Enable:    strings.TrimSpace(cfg.RPC.JWTSecretEnv) != "",
			SecretEnv: cfg.RPC.JWTSecretEnv,
			Issuer:    cfg.RPC.JWTIssuer,
			Audience:  cfg.RPC.JWTAudience,
			Skew:      time.Duration(cfg.RPC.JWTSkewSeconds) * time.Second,
		},
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPC.IdleTimeout) * time.Second,
	})
	if err != nil {
		logger.Error("failed to initialise RPC server", slog.Any("error", err))
		os.Exit(1)
	}
	rpcErrCh := make(chan error, 1)
	go func() {
		err := rpcServer.Start(cfg.RPCAddress)
		rpcErrCh <- err
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		if err, ok := <-rpcErrCh; ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
		}
	}()

	go runPortfolioRefresher(ctx, logger.With(slog.String("component", "refresher")), vault, refreshInterval)

	logger.Info("omnivault daemon initialised and running", slog.String("rpc", cfg.RPCAddress))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC shutdown failed", slog.Any("error", err))
	}
	logger.Info("omnivault daemon stopped")
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath picks the genesis spec location: CLI flag beats the
// environment, which beats the config file. Empty means no spec, which is
// only an error when the vault has no state yet.
func resolveGenesisPath(cliPath string, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// engineEmitter mirrors engine events into the structured log and the event
// counter so operators see state transitions without tailing the journal.
type engineEmitter struct {
	logger *slog.Logger
}

func (e *engineEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	if e.logger == nil {
		return
	}
	args := []any{slog.String("type", evt.EventType())}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		if converted := payload.Event(); converted != nil {
			keys := make([]string, 0, len(converted.Attributes))
			for key := range converted.Attributes {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				args = append(args, slog.String(key, converted.Attributes[key]))
			}
		}
	}
	e.logger.Info("engine event", args...)
}

// runPortfolioRefresher keeps the valuation gauges warm. Failures are
// expected while markets await quotes, so they log at debug and the next
// tick retries.
func runPortfolioRefresher(ctx context.Context, logger *slog.Logger, vault *core.Vault, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshPortfolio(logger, vault)
		}
	}
}

func refreshPortfolio(logger *slog.Logger, vault *core.Vault) {
	total, err := vault.TotalAssets()
	if err != nil {
		logger.Debug("portfolio valuation unavailable", slog.Any("error", err))
		return
	}
	ledger, err := vault.Ledger()
	if err != nil {
		logger.Debug("ledger read failed", slog.Any("error", err))
		return
	}
	price, err := vault.SharePrice()
	if err != nil {
		logger.Debug("share price unavailable", slog.Any("error", err))
		return
	}
	observability.Engine().SetPortfolio(total, ledger.ShareSupply, price)

	markets, err := vault.Markets()
	if err != nil {
		logger.Debug("market listing failed", slog.Any("error", err))
		return
	}
	for _, market := range markets {
		value, err := vault.MarketValue(market.ID)
		if err != nil {
			logger.Debug("market valuation unavailable",
				slog.Uint64("market", market.ID), slog.Any("error", err))
			continue
		}
		observability.Engine().SetMarketValue(market.ID, value)
	}

	now := time.Now()
	for _, entry := range vault.Oracle().Entries() {
		observability.Oracle().RecordFreshness(entry.Asset.Hex(), now.Sub(entry.UpdatedAt))
	}
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
