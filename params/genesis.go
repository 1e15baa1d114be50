package params

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Genesis declares the reference contracts a fresh ledger starts with.
//
//	tokens:
//	  - address: "0x7000000000000000000000000000000000000007"
//	    symbol: USDC
//	    decimals: 6
//	    balances:
//	      "0xb0e4...": "1000.5"     # whole tokens, scaled by decimals
//	collectibles:
//	  - address: "0x8000000000000000000000000000000000000008"
//	    name: Farm
//	    owners:
//	      "1": "0x5e11..."
type Genesis struct {
	Tokens       []GenesisToken       `yaml:"tokens"`
	Collectibles []GenesisCollectible `yaml:"collectibles"`
}

type GenesisToken struct {
	Address  string            `yaml:"address"`
	Symbol   string            `yaml:"symbol"`
	Decimals uint8             `yaml:"decimals"`
	Balances map[string]string `yaml:"balances"`
}

type GenesisCollectible struct {
	Address string            `yaml:"address"`
	Name    string            `yaml:"name"`
	Owners  map[string]string `yaml:"owners"` // token id -> owner
}

// LoadGenesis reads a YAML genesis file
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes and validates YAML genesis bytes
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// DefaultGenesis is an empty devnet: one payment token and one collectible
func DefaultGenesis() *Genesis {
	return &Genesis{
		Tokens: []GenesisToken{{
			Address:  "0x7000000000000000000000000000000000000007",
			Symbol:   "USDC",
			Decimals: 6,
		}},
		Collectibles: []GenesisCollectible{{
			Address: "0x8000000000000000000000000000000000000008",
			Name:    "Farm",
		}},
	}
}

// Validate checks addresses, amounts and ids
func (g *Genesis) Validate() error {
	seen := make(map[common.Address]bool)
	claim := func(addr string) error {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("genesis: invalid contract address %q", addr)
		}
		a := common.HexToAddress(addr)
		if seen[a] {
			return fmt.Errorf("genesis: duplicate contract %s", a.Hex())
		}
		seen[a] = true
		return nil
	}

	for _, t := range g.Tokens {
		if err := claim(t.Address); err != nil {
			return err
		}
		for holder, amount := range t.Balances {
			if !common.IsHexAddress(holder) {
				return fmt.Errorf("genesis: %s: invalid holder %q", t.Symbol, holder)
			}
			if _, err := t.BaseUnits(amount); err != nil {
				return err
			}
		}
	}
	for _, c := range g.Collectibles {
		if err := claim(c.Address); err != nil {
			return err
		}
		for id, owner := range c.Owners {
			if _, err := ParseTokenID(id); err != nil {
				return fmt.Errorf("genesis: %s: %w", c.Name, err)
			}
			if !common.IsHexAddress(owner) {
				return fmt.Errorf("genesis: %s #%s: invalid owner %q", c.Name, id, owner)
			}
		}
	}
	return nil
}

// BaseUnits converts a whole-token amount such as "12.5" into base units.
// Amounts finer than the token's decimals are rejected.
func (t GenesisToken) BaseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("genesis: %s: invalid amount %q: %w", t.Symbol, amount, err)
	}
	scaled := d.Shift(int32(t.Decimals))
	if !scaled.Equal(scaled.Truncate(0)) || scaled.Sign() < 0 {
		return nil, fmt.Errorf("genesis: %s: amount %q not representable in %d decimals", t.Symbol, amount, t.Decimals)
	}
	return scaled.BigInt(), nil
}

// ParseTokenID parses a decimal collectible id
func ParseTokenID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", s)
	}
	return id, nil
}
