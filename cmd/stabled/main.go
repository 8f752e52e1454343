package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"stablecore/config"
	"stablecore/core/events"
	"stablecore/core/state"
	"stablecore/core/types"
	"stablecore/crypto"
	"stablecore/native/oracle"
	"stablecore/native/stable"
	"stablecore/native/token"
	"stablecore/observability/logging"
	"stablecore/observability/metrics"
	stableotel "stablecore/observability/otel"
	"stablecore/rpc"
	"stablecore/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const debtSymbol = "NUSD"

var weiPerToken = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// tokensFromWei scales a wei amount to whole tokens for the float-valued
// liquidation counters. Whole-token totals stay exact far beyond the range
// where raw wei counts start losing bits.
func tokensFromWei(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	tokens, _ := new(big.Float).Quo(new(big.Float).SetInt(v), weiPerToken).Float64()
	return tokens
}

// slogEmitter renders engine events onto the structured log and feeds the
// liquidation volume counters.
type slogEmitter struct {
	logger *slog.Logger
}

func (e slogEmitter) Emit(ev events.Event) {
	if liq, ok := ev.(events.PositionLiquidated); ok {
		metrics.Stable().ObserveLiquidation(tokensFromWei(liq.DebtCovered), tokensFromWei(liq.SeizedAmount))
	}
	typed, ok := ev.(interface{ Event() *types.Event })
	if !ok {
		e.logger.Info("engine event", "type", ev.EventType())
		return
	}
	record := typed.Event()
	attrs := make([]any, 0, 2+2*len(record.Attributes))
	attrs = append(attrs, "type", record.Type)
	for key, value := range record.Attributes {
		attrs = append(attrs, key, value)
	}
	e.logger.Info("engine event", attrs...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("stabled", cfg.Environment, logging.Options{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if cfg.Telemetry.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		shutdown, err := stableotel.Init(ctx, stableotel.Config{
			ServiceName: "stabled",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     stableotel.ParseHeaders(cfg.Telemetry.Headers),
		})
		cancel()
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) == ":memory:" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		db = ldb
	}
	defer db.Close()

	module := cfg.Module()
	params, err := cfg.EngineParams()
	if err != nil {
		logger.Error("Invalid engine parameters", slog.Any("error", err))
		os.Exit(1)
	}

	debt := token.NewDebtToken(debtSymbol, token.NewKVStore(db, debtSymbol), module)

	assets := make([]crypto.Address, 0, len(cfg.Assets))
	feeds := make([]stable.Feed, 0, len(cfg.Assets))
	assetTokens := make(map[string]*token.AssetToken, len(cfg.Assets))
	manualFeeds := make(map[string]*oracle.ManualFeed, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(asset.Address))
		if err != nil {
			logger.Error("Invalid asset address", "symbol", asset.Symbol, slog.Any("error", err))
			os.Exit(1)
		}
		feedName := strings.ToLower(strings.TrimSpace(asset.Symbol))
		feed := oracle.NewManualFeed(feedName)
		agg := oracle.NewAggregator([]string{feedName}, cfg.OracleMaxAge())
		agg.Register(feedName, feed)

		assets = append(assets, addr)
		feeds = append(feeds, stable.Feed{Source: agg, Pair: asset.FeedPair})
		assetTokens[asset.Symbol] = token.NewAssetToken(asset.Symbol, token.NewKVStore(db, asset.Symbol))
		manualFeeds[feedName] = feed
	}

	engine, err := stable.NewEngine(module, assets, feeds, params)
	if err != nil {
		logger.Error("Failed to construct engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(state.NewManager(db))
	engine.SetDebtToken(debt)
	for i, asset := range cfg.Assets {
		engine.SetAssetToken(assets[i], assetTokens[asset.Symbol])
	}
	engine.SetPauses(cfg.PauseView())
	engine.SetEmitter(slogEmitter{logger: logger})

	server := rpc.NewServer(engine, debt, logger)
	for symbol, ledger := range assetTokens {
		server.RegisterAsset(symbol, ledger)
	}
	for name, feed := range manualFeeds {
		server.RegisterFeed(name, feed)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("starting metrics server", "addr", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("stable core online",
		"module", module.String(),
		"assets", len(assets),
		"rpc", cfg.RPCAddress,
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
