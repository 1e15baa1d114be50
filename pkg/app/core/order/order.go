package order

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeRate is the largest fee rate an order may carry (whole percent).
const MaxFeeRate = 100

// ErrInvalidOrder is returned for orders whose fields cannot be encoded.
var ErrInvalidOrder = errors.New("invalid order")

// Order is one party's signed intent in a two-party swap.
//
// The seller's order authorizes its proxy to perform ActionPayload against
// Target; the buyer's order authorizes its proxy to pay Price of
// PaymentAsset. Both parties sign identical economic terms.
type Order struct {
	Signer           common.Address
	Target           common.Address
	ActionPayload    []byte
	PaymentAsset     common.Address
	Price            *big.Int
	FeeRate          uint64 // whole percent
	ExpirationHeight uint64 // 0 = never expires
	Nonce            *big.Int
}

// Validate checks that every numeric field fits its 256-bit slot.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if err := checkUint256("price", o.Price); err != nil {
		return err
	}
	if err := checkUint256("nonce", o.Nonce); err != nil {
		return err
	}
	if o.FeeRate > MaxFeeRate {
		return fmt.Errorf("%w: fee rate %d exceeds %d", ErrInvalidOrder, o.FeeRate, MaxFeeRate)
	}
	return nil
}

func checkUint256(field string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: missing %s", ErrInvalidOrder, field)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative %s", ErrInvalidOrder, field)
	}
	if v.BitLen() > 256 {
		return fmt.Errorf("%w: %s overflows uint256", ErrInvalidOrder, field)
	}
	return nil
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	c.ActionPayload = common.CopyBytes(o.ActionPayload)
	if o.Price != nil {
		c.Price = new(big.Int).Set(o.Price)
	}
	if o.Nonce != nil {
		c.Nonce = new(big.Int).Set(o.Nonce)
	}
	return &c
}
