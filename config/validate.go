package config

import (
	"fmt"
	"math/big"
	"strings"

	"escrowd/core/types"
)

// Validate checks the configuration for values that would make the node
// misbehave at runtime. It is called after defaults are applied.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unsupported Backend %q", c.Backend)
	}
	if c.Escrow.StandardDurationSeconds <= 0 {
		return fmt.Errorf("config: StandardDurationSeconds must be positive")
	}
	if c.Escrow.StringLimit <= 0 {
		return fmt.Errorf("config: StringLimit must be positive")
	}
	if c.Escrow.BulkAccountsLimit <= 0 {
		return fmt.Errorf("config: BulkAccountsLimit must be positive")
	}
	if c.Escrow.HandlersLimit <= 0 {
		return fmt.Errorf("config: HandlersLimit must be positive")
	}
	if _, err := c.EscrowParams(); err != nil {
		return err
	}
	for i, alloc := range c.Genesis {
		if _, err := types.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: genesis allocation %d: %w", i, err)
		}
		amount := new(big.Int)
		if _, ok := amount.SetString(strings.TrimSpace(alloc.Balance), 10); !ok || amount.Sign() <= 0 {
			return fmt.Errorf("config: genesis allocation %d: invalid balance %q", i, alloc.Balance)
		}
	}
	return nil
}
