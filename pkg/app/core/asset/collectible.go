package asset

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

// Collectible is a reference ERC-721 contract. safeTransferFrom behaves as
// transferFrom since every in-process receiver accepts tokens.
type Collectible struct {
	mu        sync.RWMutex
	address   common.Address
	Name      string
	owners    map[string]common.Address // token id (decimal) -> owner
	approvals map[string]common.Address
	operators map[common.Address]map[common.Address]bool
}

// NewCollectible creates an empty collection at addr
func NewCollectible(addr common.Address, name string) *Collectible {
	return &Collectible{
		address:   addr,
		Name:      name,
		owners:    make(map[string]common.Address),
		approvals: make(map[string]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (c *Collectible) Address() common.Address { return c.address }

// OwnerOf returns the owner of id
func (c *Collectible) OwnerOf(id *big.Int) (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[id.String()]
	return owner, ok
}

// GetApproved returns the single-token approval for id
func (c *Collectible) GetApproved(id *big.Int) common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approvals[id.String()]
}

// IsApprovedForAll reports whether operator manages all of owner's tokens
func (c *Collectible) IsApprovedForAll(owner, operator common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.operators[owner][operator]
}

// Mint creates id owned by to
func (c *Collectible) Mint(j *state.Journal, to common.Address, id *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.owners[id.String()]; exists {
		return fmt.Errorf("%w: %s", ErrTokenAlreadyMinted, id)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: mint to the zero address", ErrInvalidReceiver)
	}
	c.setOwner(j, id.String(), to)
	return nil
}

// Call implements Contract
func (c *Collectible) Call(j *state.Journal, caller common.Address, data []byte) error {
	method, args, err := decodeCall(collectibleABI, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch method.Name {
	case "transferFrom", "safeTransferFrom":
		return c.transferFrom(j, caller, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
	case "approve":
		return c.approve(j, caller, args[0].(common.Address), args[1].(*big.Int))
	case "setApprovalForAll":
		c.setOperator(j, caller, args[0].(common.Address), args[1].(bool))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMethod, method.Name)
	}
}

func (c *Collectible) transferFrom(j *state.Journal, caller, from, to common.Address, id *big.Int) error {
	key := id.String()
	owner, exists := c.owners[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, key)
	}
	if owner != from {
		return fmt.Errorf("%w: token %s is owned by %s, not %s", ErrNotAuthorized, key, owner.Hex(), from.Hex())
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to the zero address", ErrInvalidReceiver)
	}
	if caller != owner && c.approvals[key] != caller && !c.operators[owner][caller] {
		return fmt.Errorf("%w: %s for token %s", ErrNotAuthorized, caller.Hex(), key)
	}

	c.setApproval(j, key, common.Address{})
	c.setOwner(j, key, to)
	return nil
}

func (c *Collectible) approve(j *state.Journal, caller, to common.Address, id *big.Int) error {
	key := id.String()
	owner, exists := c.owners[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, key)
	}
	if caller != owner && !c.operators[owner][caller] {
		return fmt.Errorf("%w: %s cannot approve token %s", ErrNotAuthorized, caller.Hex(), key)
	}
	c.setApproval(j, key, to)
	return nil
}

func (c *Collectible) setOwner(j *state.Journal, key string, owner common.Address) {
	prev, had := c.owners[key]
	c.owners[key] = owner
	j.Append(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if had {
			c.owners[key] = prev
		} else {
			delete(c.owners, key)
		}
	})
}

func (c *Collectible) setApproval(j *state.Journal, key string, to common.Address) {
	prev := c.approvals[key]
	if to == (common.Address{}) {
		delete(c.approvals, key)
	} else {
		c.approvals[key] = to
	}
	j.Append(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if prev == (common.Address{}) {
			delete(c.approvals, key)
		} else {
			c.approvals[key] = prev
		}
	})
}

func (c *Collectible) setOperator(j *state.Journal, owner, operator common.Address, approved bool) {
	if c.operators[owner] == nil {
		c.operators[owner] = make(map[common.Address]bool)
	}
	prev := c.operators[owner][operator]
	c.operators[owner][operator] = approved
	j.Append(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.operators[owner][operator] = prev
	})
}

type collectibleState struct {
	Owners    map[string]common.Address                  `json:"owners"`
	Approvals map[string]common.Address                  `json:"approvals"`
	Operators map[common.Address]map[common.Address]bool `json:"operators"`
}

// MarshalState implements Stateful
func (c *Collectible) MarshalState() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(collectibleState{Owners: c.owners, Approvals: c.approvals, Operators: c.operators})
}

// UnmarshalState implements Stateful
func (c *Collectible) UnmarshalState(data []byte) error {
	var st collectibleState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode collectible state: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = make(map[string]common.Address)
	c.approvals = make(map[string]common.Address)
	c.operators = make(map[common.Address]map[common.Address]bool)
	for k, v := range st.Owners {
		c.owners[k] = v
	}
	for k, v := range st.Approvals {
		c.approvals[k] = v
	}
	for k, v := range st.Operators {
		c.operators[k] = v
	}
	return nil
}
