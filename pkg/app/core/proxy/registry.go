// Package proxy maintains the per-user escrow proxies through which
// settlements move assets. A proxy acts only on its owner's behalf and only
// inside a settlement the owner signed for.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
)

var (
	ErrNoProxy               = errors.New("no proxy registered")
	ErrActionExecutionFailed = errors.New("action execution failed")
)

// proxyCodeHash stands in for the init code hash in the CREATE2 derivation.
var proxyCodeHash = crypto.Keccak256([]byte("hyperswap.EscrowProxy"))

// Proxy is a user's escrow proxy. It is never destroyed or transferred.
type Proxy struct {
	Owner         common.Address `json:"owner"`
	Address       common.Address `json:"address"`
	CreatedHeight uint64         `json:"createdHeight"`
}

// Address derives the proxy address of owner under registry.
func Address(registry, owner common.Address) common.Address {
	var salt [32]byte
	copy(salt[12:], owner.Bytes())
	return crypto.CreateAddress2(registry, salt, proxyCodeHash)
}

// Registry maps users to their proxies.
type Registry struct {
	mu      sync.RWMutex
	address common.Address
	host    *asset.Host
	byOwner map[common.Address]Proxy
	byProxy map[common.Address]common.Address
	dirty   map[common.Address]struct{}
}

// NewRegistry creates a registry at address whose proxies call into host
func NewRegistry(address common.Address, host *asset.Host) *Registry {
	return &Registry{
		address: address,
		host:    host,
		byOwner: make(map[common.Address]Proxy),
		byProxy: make(map[common.Address]common.Address),
		dirty:   make(map[common.Address]struct{}),
	}
}

// CreateProxy registers user's proxy. It is idempotent: created is false
// and the existing proxy is returned when one is already registered.
func (r *Registry) CreateProxy(j *state.Journal, user common.Address, height uint64) (Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byOwner[user]; ok {
		return p, false
	}

	p := Proxy{Owner: user, Address: Address(r.address, user), CreatedHeight: height}
	r.byOwner[user] = p
	r.byProxy[p.Address] = user
	r.dirty[user] = struct{}{}
	j.Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byOwner, user)
		delete(r.byProxy, p.Address)
		delete(r.dirty, user)
	})
	return p, true
}

// ProxyOf returns user's proxy. It never creates one.
func (r *Registry) ProxyOf(user common.Address) (Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byOwner[user]
	return p, ok
}

// OwnerOf maps a proxy address back to its owner
func (r *Registry) OwnerOf(proxyAddr common.Address) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.byProxy[proxyAddr]
	return owner, ok
}

// ExecuteViaProxy has user's proxy call target with payload. The call
// carries no value and the contract sees the proxy as caller.
func (r *Registry) ExecuteViaProxy(j *state.Journal, user, target common.Address, payload []byte) error {
	p, ok := r.ProxyOf(user)
	if !ok {
		return fmt.Errorf("%w: %w for %s", ErrActionExecutionFailed, ErrNoProxy, user.Hex())
	}
	if err := r.host.Call(j, p.Address, target, payload); err != nil {
		return fmt.Errorf("%w: proxy %s calling %s: %w", ErrActionExecutionFailed, p.Address.Hex(), target.Hex(), err)
	}
	return nil
}

// Len returns the number of registered proxies
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner)
}

// Load installs proxies restored from storage
func (r *Registry) Load(proxies []Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range proxies {
		r.byOwner[p.Owner] = p
		r.byProxy[p.Address] = p.Owner
	}
}

// Dirty returns proxies created since the last ResetDirty, ordered by owner
func (r *Registry) Dirty() []Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Proxy, 0, len(r.dirty))
	for owner := range r.dirty {
		out = append(out, r.byOwner[owner])
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

// ResetDirty forgets the dirty set once it has been persisted
func (r *Registry) ResetDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = make(map[common.Address]struct{})
}
