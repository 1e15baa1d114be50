// Package template matches runtime calldata against the calldata a party
// signed. Only byte ranges declared as wildcard slots may differ.
package template

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrTemplateMismatch = errors.New("template mismatch")

// Selector is the 4-byte function selector heading ABI calldata
type Selector [4]byte

// SelectorFromHex parses "0x23b872dd" style selectors
func SelectorFromHex(s string) (Selector, error) {
	var sel Selector
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(sel) {
		return sel, fmt.Errorf("invalid selector %q", s)
	}
	copy(sel[:], b)
	return sel, nil
}

func (s Selector) String() string { return "0x" + hex.EncodeToString(s[:]) }

// Slot is a byte range of the calldata, counted from the start of the selector.
type Slot struct {
	Offset int
	Length int
}

// ArgSlot is the slot covering the i-th 32-byte argument word.
func ArgSlot(i int) Slot {
	return Slot{Offset: 4 + 32*i, Length: 32}
}

// Pairing decides how runtime payloads relate to the two signed payloads.
type Pairing string

const (
	// PairingPerOrder takes up to two runtime payloads [sell, buy], each
	// resolved against its own order.
	PairingPerOrder Pairing = "per_order"
	// PairingShared takes at most one runtime payload resolved against both orders.
	PairingShared Pairing = "shared"
)

// Well-known selectors
var (
	TransferFromSelector     = Selector{0x23, 0xb8, 0x72, 0xdd} // transferFrom(address,address,uint256)
	SafeTransferFromSelector = Selector{0x42, 0x84, 0x2e, 0x0e} // safeTransferFrom(address,address,uint256)
)

// Config is the protocol-wide template configuration.
type Config struct {
	Slots        map[Selector][]Slot
	SentinelOnly bool // a slot may differ only where the signed bytes are all zero
	Pairing      Pairing
}

// DefaultConfig declares the from and to words of the transfer selectors as wildcards.
func DefaultConfig() Config {
	return Config{
		Slots: map[Selector][]Slot{
			TransferFromSelector:     {ArgSlot(0), ArgSlot(1)},
			SafeTransferFromSelector: {ArgSlot(0), ArgSlot(1)},
		},
		SentinelOnly: true,
		Pairing:      PairingPerOrder,
	}
}

// Matcher applies a Config. It holds no mutable state.
type Matcher struct {
	cfg Config
}

// NewMatcher validates cfg and returns a matcher for it
func NewMatcher(cfg Config) (*Matcher, error) {
	for sel, slots := range cfg.Slots {
		for _, s := range slots {
			if s.Offset < 4 || s.Length <= 0 {
				return nil, fmt.Errorf("invalid slot %+v for selector %s", s, sel)
			}
		}
	}
	switch cfg.Pairing {
	case "":
		cfg.Pairing = PairingPerOrder
	case PairingPerOrder, PairingShared:
	default:
		return nil, fmt.Errorf("unknown pairing mode %q", cfg.Pairing)
	}
	return &Matcher{cfg: cfg}, nil
}

// Config returns the matcher's configuration
func (m *Matcher) Config() Config { return m.cfg }

// Match checks that runtime is an admissible instantiation of signed.
func (m *Matcher) Match(signed, runtime []byte) error {
	if len(signed) != len(runtime) {
		return fmt.Errorf("%w: length %d, signed %d", ErrTemplateMismatch, len(runtime), len(signed))
	}
	if len(signed) < 4 {
		return fmt.Errorf("%w: payload shorter than a selector", ErrTemplateMismatch)
	}

	var sel Selector
	copy(sel[:], signed[:4])
	if !bytes.Equal(signed[:4], runtime[:4]) {
		return fmt.Errorf("%w: selector %x, signed %s", ErrTemplateMismatch, runtime[:4], sel)
	}

	wildcard := make([]bool, len(signed))
	for _, s := range m.cfg.Slots[sel] {
		start, end := s.Offset, s.Offset+s.Length
		if start >= len(signed) {
			continue
		}
		if end > len(signed) {
			end = len(signed)
		}
		if m.cfg.SentinelOnly && !bytes.Equal(signed[start:end], runtime[start:end]) && !isZero(signed[start:end]) {
			return fmt.Errorf("%w: slot at offset %d is not a sentinel in the signed payload", ErrTemplateMismatch, start)
		}
		for i := start; i < end; i++ {
			wildcard[i] = true
		}
	}

	for i := range signed {
		if !wildcard[i] && signed[i] != runtime[i] {
			return fmt.Errorf("%w: fixed byte %d differs", ErrTemplateMismatch, i)
		}
	}
	return nil
}

// Resolve returns the payload to execute: signed when runtime is empty,
// otherwise runtime once it matches signed.
func (m *Matcher) Resolve(signed, runtime []byte) ([]byte, error) {
	if len(runtime) == 0 {
		return common.CopyBytes(signed), nil
	}
	if err := m.Match(signed, runtime); err != nil {
		return nil, err
	}
	return common.CopyBytes(runtime), nil
}

// ResolvePair resolves the payload both parties consented to.
func (m *Matcher) ResolvePair(sellSigned, buySigned []byte, runtime [][]byte) ([]byte, error) {
	var sellRuntime, buyRuntime []byte

	switch m.cfg.Pairing {
	case PairingShared:
		if len(runtime) > 1 {
			return nil, fmt.Errorf("%w: shared pairing takes at most one runtime payload, got %d", ErrTemplateMismatch, len(runtime))
		}
		if len(runtime) == 1 {
			sellRuntime, buyRuntime = runtime[0], runtime[0]
		}
	default:
		if len(runtime) > 2 {
			return nil, fmt.Errorf("%w: per-order pairing takes at most two runtime payloads, got %d", ErrTemplateMismatch, len(runtime))
		}
		if len(runtime) > 0 {
			sellRuntime = runtime[0]
		}
		if len(runtime) > 1 {
			buyRuntime = runtime[1]
		}
	}

	sell, err := m.Resolve(sellSigned, sellRuntime)
	if err != nil {
		return nil, fmt.Errorf("sell payload: %w", err)
	}
	buy, err := m.Resolve(buySigned, buyRuntime)
	if err != nil {
		return nil, fmt.Errorf("buy payload: %w", err)
	}
	if !bytes.Equal(sell, buy) {
		return nil, fmt.Errorf("%w: resolved sell and buy payloads differ", ErrTemplateMismatch)
	}
	return sell, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
