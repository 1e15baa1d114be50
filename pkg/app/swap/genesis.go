package swap

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
)

// BuildHost registers and mints the genesis contracts. Stored contract
// state, when present, later replaces the minted state (see New).
func BuildHost(g *params.Genesis) (*asset.Host, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	host := asset.NewHost()

	for _, gt := range g.Tokens {
		tok := asset.NewToken(common.HexToAddress(gt.Address), gt.Symbol, gt.Decimals)
		if err := host.Register(tok); err != nil {
			return nil, err
		}
		for holder, amount := range gt.Balances {
			units, err := gt.BaseUnits(amount)
			if err != nil {
				return nil, err
			}
			tok.Mint(nil, common.HexToAddress(holder), units)
		}
	}

	for _, gc := range g.Collectibles {
		col := asset.NewCollectible(common.HexToAddress(gc.Address), gc.Name)
		if err := host.Register(col); err != nil {
			return nil, err
		}
		for idStr, owner := range gc.Owners {
			id, err := params.ParseTokenID(idStr)
			if err != nil {
				return nil, err
			}
			if err := col.Mint(nil, common.HexToAddress(owner), id); err != nil {
				return nil, fmt.Errorf("genesis %s #%s: %w", gc.Name, idStr, err)
			}
		}
	}
	return host, nil
}
