package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/native/escrow"
)

// Config is the node's runtime configuration, loaded from a TOML file.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	// Backend selects the storage engine: "leveldb", "bolt" or "memory".
	Backend     string `toml:"Backend"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile"`

	Escrow  EscrowConfig        `toml:"Escrow"`
	Token   TokenConfig         `toml:"Token"`
	Genesis []GenesisAllocation `toml:"Genesis"`
}

// EscrowConfig carries the escrow engine limits.
type EscrowConfig struct {
	StandardDurationSeconds int64  `toml:"StandardDurationSeconds"`
	StringLimit             int    `toml:"StringLimit"`
	BulkBalanceLimit        string `toml:"BulkBalanceLimit"`
	BulkAccountsLimit       int    `toml:"BulkAccountsLimit"`
	HandlersLimit           int    `toml:"HandlersLimit"`
}

// TokenConfig describes the single ledger asset.
type TokenConfig struct {
	Name     string `toml:"Name"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// GenesisAllocation seeds a ledger balance on first start.
type GenesisAllocation struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	def := escrow.DefaultParams()
	if cfg.Escrow.StandardDurationSeconds <= 0 {
		cfg.Escrow.StandardDurationSeconds = def.StandardDuration
	}
	if cfg.Escrow.StringLimit <= 0 {
		cfg.Escrow.StringLimit = def.StringLimit
	}
	if strings.TrimSpace(cfg.Escrow.BulkBalanceLimit) == "" {
		cfg.Escrow.BulkBalanceLimit = def.BulkBalanceLimit.String()
	}
	if cfg.Escrow.BulkAccountsLimit <= 0 {
		cfg.Escrow.BulkAccountsLimit = def.BulkAccountsLimit
	}
	if cfg.Escrow.HandlersLimit <= 0 {
		cfg.Escrow.HandlersLimit = def.HandlersLimit
	}
	if strings.TrimSpace(cfg.Token.Name) == "" {
		cfg.Token.Name = "Escrow Token"
	}
	if strings.TrimSpace(cfg.Token.Symbol) == "" {
		cfg.Token.Symbol = "ESC"
	}
	if cfg.Token.Decimals == 0 {
		cfg.Token.Decimals = 18
	}
}

// EscrowParams converts the configured limits into engine parameters.
func (c *Config) EscrowParams() (escrow.Params, error) {
	limit := new(big.Int)
	if _, ok := limit.SetString(strings.TrimSpace(c.Escrow.BulkBalanceLimit), 10); !ok {
		return escrow.Params{}, fmt.Errorf("config: invalid BulkBalanceLimit %q", c.Escrow.BulkBalanceLimit)
	}
	return escrow.Params{
		StandardDuration:  c.Escrow.StandardDurationSeconds,
		StringLimit:       c.Escrow.StringLimit,
		BulkBalanceLimit:  limit,
		BulkAccountsLimit: c.Escrow.BulkAccountsLimit,
		HandlersLimit:     c.Escrow.HandlersLimit,
	}.Sanitize(), nil
}
