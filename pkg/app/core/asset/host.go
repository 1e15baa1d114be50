// Package asset hosts the contracts that settlements act on: the target
// asset contracts and payment tokens, addressed by Ethereum address and
// driven by ABI calldata.
package asset

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

var (
	ErrNoContract            = errors.New("no contract at address")
	ErrUnknownMethod         = errors.New("unknown method")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotAuthorized         = errors.New("caller is not owner nor approved")
	ErrNonexistentToken      = errors.New("nonexistent token")
	ErrInvalidReceiver       = errors.New("invalid receiver")
	ErrDuplicateRegistration = errors.New("contract already registered")
	ErrTokenAlreadyMinted    = errors.New("token already minted")
)

// Contract is an addressable state machine driven by calldata. Every
// state change must be journaled so a failed settlement can undo it.
type Contract interface {
	Address() common.Address
	Call(j *state.Journal, caller common.Address, data []byte) error
}

// Stateful contracts can be snapshotted to storage at block commit.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// Host maps addresses to contracts and dispatches calls to them.
type Host struct {
	mu        sync.RWMutex
	contracts map[common.Address]Contract
}

// NewHost creates an empty contract host
func NewHost() *Host {
	return &Host{contracts: make(map[common.Address]Contract)}
}

// Register makes c reachable at c.Address()
func (h *Host) Register(c Contract) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.contracts[c.Address()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, c.Address().Hex())
	}
	h.contracts[c.Address()] = c
	return nil
}

// Contract returns the contract at addr
func (h *Host) Contract(addr common.Address) (Contract, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.contracts[addr]
	return c, ok
}

// Contracts returns all registered contracts ordered by address
func (h *Host) Contracts() []Contract {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Contract, 0, len(h.contracts))
	for _, c := range h.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Address(), out[j].Address()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

// Call invokes target with data on behalf of caller.
func (h *Host) Call(j *state.Journal, caller, target common.Address, data []byte) error {
	c, ok := h.Contract(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoContract, target.Hex())
	}
	return c.Call(j, caller, data)
}

// Token returns the fungible token at addr, if that is what lives there
func (h *Host) Token(addr common.Address) (*Token, bool) {
	c, ok := h.Contract(addr)
	if !ok {
		return nil, false
	}
	t, ok := c.(*Token)
	return t, ok
}

// Collectible returns the non-fungible contract at addr, if that is what lives there
func (h *Host) Collectible(addr common.Address) (*Collectible, bool) {
	c, ok := h.Contract(addr)
	if !ok {
		return nil, false
	}
	col, ok := c.(*Collectible)
	return col, ok
}
