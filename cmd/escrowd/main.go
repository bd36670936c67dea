package main

import (
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/config"
	"escrowd/core"
	"escrowd/core/types"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("escrowd", cfg.Environment, cfg.LogFile)
	logger.Info("starting node", "network", cfg.NetworkName, "backend", cfg.Backend)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	params, err := cfg.EscrowParams()
	if err != nil {
		logger.Error("invalid escrow parameters", "error", err)
		os.Exit(1)
	}
	node := core.NewNode(db, params)

	allocs, err := genesisAllocations(cfg)
	if err != nil {
		logger.Error("invalid genesis allocations", "error", err)
		os.Exit(1)
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("failed to apply genesis", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("starting metrics server", "addr", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "state.bolt"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	}
}

func genesisAllocations(cfg *config.Config) (map[types.Address]*big.Int, error) {
	allocs := make(map[types.Address]*big.Int, len(cfg.Genesis))
	for _, alloc := range cfg.Genesis {
		addr, err := types.ParseAddress(alloc.Address)
		if err != nil {
			return nil, err
		}
		amount := new(big.Int)
		amount.SetString(strings.TrimSpace(alloc.Balance), 10)
		allocs[addr] = amount
	}
	return allocs, nil
}
