package asset

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

// Token is a reference ERC-20 payment token.
// An allowance of 2^256-1 is treated as unlimited and never decremented.
type Token struct {
	mu         sync.RWMutex
	address    common.Address
	Symbol     string
	Decimals   uint8
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewToken creates an empty token at addr
func NewToken(addr common.Address, symbol string, decimals uint8) *Token {
	return &Token{
		address:    addr,
		Symbol:     symbol,
		Decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }

// BalanceOf returns a copy of owner's balance
func (t *Token) BalanceOf(owner common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balanceOf(owner))
}

// Allowance returns a copy of what spender may move from owner
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.allowance(owner, spender))
}

// Mint credits amount to to
func (t *Token) Mint(j *state.Journal, to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setBalance(j, to, new(big.Int).Add(t.balanceOf(to), amount))
}

// Call implements Contract
func (t *Token) Call(j *state.Journal, caller common.Address, data []byte) error {
	method, args, err := decodeCall(tokenABI, data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch method.Name {
	case "transfer":
		return t.transfer(j, caller, args[0].(common.Address), args[1].(*big.Int))
	case "approve":
		t.setAllowance(j, caller, args[0].(common.Address), args[1].(*big.Int))
		return nil
	case "transferFrom":
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if caller != from {
			if err := t.spendAllowance(j, from, caller, amount); err != nil {
				return err
			}
		}
		return t.transfer(j, from, to, amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMethod, method.Name)
	}
}

func (t *Token) transfer(j *state.Journal, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to the zero address", ErrInvalidReceiver)
	}
	fromBal := t.balanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	t.setBalance(j, from, new(big.Int).Sub(fromBal, amount))
	t.setBalance(j, to, new(big.Int).Add(t.balanceOf(to), amount))
	return nil
}

func (t *Token) spendAllowance(j *state.Journal, owner, spender common.Address, amount *big.Int) error {
	current := t.allowance(owner, spender)
	if current.Cmp(math.MaxBig256) == 0 {
		return nil
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
			ErrInsufficientAllowance, spender.Hex(), current, owner.Hex(), amount)
	}
	t.setAllowance(j, owner, spender, new(big.Int).Sub(current, amount))
	return nil
}

func (t *Token) balanceOf(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(big.Int)
}

// setBalance must be called with t.mu held. The undo closure takes the
// lock itself since it runs after Call returns.
func (t *Token) setBalance(j *state.Journal, owner common.Address, v *big.Int) {
	prev, had := t.balances[owner]
	t.balances[owner] = v
	j.Append(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if had {
			t.balances[owner] = prev
		} else {
			delete(t.balances, owner)
		}
	})
}

func (t *Token) setAllowance(j *state.Journal, owner, spender common.Address, v *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	prev, had := t.allowances[owner][spender]
	t.allowances[owner][spender] = new(big.Int).Set(v)
	j.Append(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if had {
			t.allowances[owner][spender] = prev
		} else {
			delete(t.allowances[owner], spender)
		}
	})
}

type tokenState struct {
	Balances   map[common.Address]*big.Int                    `json:"balances"`
	Allowances map[common.Address]map[common.Address]*big.Int `json:"allowances"`
}

// MarshalState implements Stateful
func (t *Token) MarshalState() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(tokenState{Balances: t.balances, Allowances: t.allowances})
}

// UnmarshalState implements Stateful
func (t *Token) UnmarshalState(data []byte) error {
	var st tokenState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode token state: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[common.Address]*big.Int)
	t.allowances = make(map[common.Address]map[common.Address]*big.Int)
	for k, v := range st.Balances {
		t.balances[k] = v
	}
	for k, v := range st.Allowances {
		t.allowances[k] = v
	}
	return nil
}
