// Package settlement executes a matched pair of signed orders: the seller's
// proxy performs the target action and the buyer's proxy pays, all or nothing.
package settlement

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
	"github.com/uhyunpark/hyperswap/pkg/app/core/nonce"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
	"github.com/uhyunpark/hyperswap/pkg/app/core/template"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Request is one settlement call: the two signed orders, optional runtime
// payloads (see template.Matcher.ResolvePair) and the signatures
// [sell, buy] over the order digests.
type Request struct {
	Sell            *order.Order
	Buy             *order.Order
	RuntimePayloads [][]byte
	Signatures      [2][]byte
}

// CancelRequest closes one order. OrderSignature is the signature the order
// was placed with; Signature is its signer's personal signature over
// nonce.CancelDigest.
type CancelRequest struct {
	Order          *order.Order
	OrderSignature []byte
	Signature      []byte
}

// Result describes a completed settlement
type Result struct {
	SellDigest      common.Hash    `json:"sellDigest"`
	BuyDigest       common.Hash    `json:"buyDigest"`
	Seller          common.Address `json:"seller"`
	Buyer           common.Address `json:"buyer"`
	Target          common.Address `json:"target"`
	ExecutedPayload hexutil.Bytes  `json:"executedPayload"`
	PaymentAsset    common.Address `json:"paymentAsset"`
	Price           *big.Int       `json:"price"`
	Fee             *big.Int       `json:"fee"`
	SellerProceeds  *big.Int       `json:"sellerProceeds"`
	FeeRecipient    common.Address `json:"feeRecipient"`
	Height          uint64         `json:"height"`
}

// Config holds the protocol parameters fixed at construction
type Config struct {
	FeeRecipient common.Address
	Scheme       *crypto.DigestScheme
	Template     template.Config
}

// Engine settles order pairs. All entry points are serialized.
type Engine struct {
	mu           sync.Mutex
	feeRecipient common.Address
	scheme       *crypto.DigestScheme
	matcher      *template.Matcher
	ledger       *nonce.Ledger
	proxies      *proxy.Registry
	journal      *state.Journal
	logger       *zap.Logger
}

// NewEngine wires an engine over ledger and proxies
func NewEngine(cfg Config, ledger *nonce.Ledger, proxies *proxy.Registry, logger *zap.Logger) (*Engine, error) {
	if cfg.Scheme == nil {
		cfg.Scheme = crypto.PackedScheme()
	}
	matcher, err := template.NewMatcher(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to build template matcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		feeRecipient: cfg.FeeRecipient,
		scheme:       cfg.Scheme,
		matcher:      matcher,
		ledger:       ledger,
		proxies:      proxies,
		journal:      state.NewJournal(),
		logger:       logger,
	}, nil
}

// FeeRecipient returns the address that receives protocol fees
func (e *Engine) FeeRecipient() common.Address { return e.feeRecipient }

// Scheme returns the digest scheme orders are signed under
func (e *Engine) Scheme() *crypto.DigestScheme { return e.scheme }

// Digest computes an order's digest under the engine's scheme
func (e *Engine) Digest(o *order.Order) (common.Hash, error) {
	return e.scheme.Hash(o)
}

// IsClosed reports whether a digest has settled or been cancelled
func (e *Engine) IsClosed(digest common.Hash) bool {
	return e.ledger.IsClosed(digest)
}

// ProxyOf returns user's proxy without creating one
func (e *Engine) ProxyOf(user common.Address) (proxy.Proxy, bool) {
	return e.proxies.ProxyOf(user)
}

// CreateProxy registers user's proxy at height, idempotently
func (e *Engine) CreateProxy(user common.Address, height uint64) (proxy.Proxy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, created := e.proxies.CreateProxy(e.journal, user, height)
	e.journal.Commit()
	if created {
		e.logger.Info("proxy_created",
			zap.String("owner", user.Hex()),
			zap.String("proxy", p.Address.Hex()),
			zap.Uint64("height", height))
	}
	return p, created
}

// CancelOrder closes the digest of req.Order. Only the order's signer can
// produce req.Signature.
func (e *Engine) CancelOrder(req CancelRequest) (common.Hash, error) {
	if req.Order == nil {
		return common.Hash{}, fmt.Errorf("%w: missing order", ErrInvalidOrder)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.journal.Snapshot()
	digest, err := e.ledger.Cancel(e.journal, req.Order, req.OrderSignature, req.Signature)
	if err != nil {
		e.journal.RevertToSnapshot(snap)
		return common.Hash{}, err
	}
	e.journal.Commit()
	e.logger.Info("order_cancelled",
		zap.String("digest", digest.Hex()),
		zap.String("signer", req.Order.Signer.Hex()))
	return digest, nil
}

// ComputeFee splits price into the protocol fee (price*feeRate/100,
// truncated) and the seller's proceeds.
func ComputeFee(price *big.Int, feeRate uint64) (fee, proceeds *big.Int) {
	fee = new(big.Int).Mul(price, new(big.Int).SetUint64(feeRate))
	fee.Quo(fee, big.NewInt(100))
	proceeds = new(big.Int).Sub(price, fee)
	return fee, proceeds
}

// Settle executes req at height. On any error every change made during the
// call is reverted and neither digest is closed.
func (e *Engine) Settle(req Request, height uint64) (res *Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.journal.Snapshot()
	defer func() {
		if err != nil {
			e.journal.RevertToSnapshot(snap)
			e.logger.Debug("settlement_rejected",
				zap.Uint64("height", height),
				zap.String("kind", Kind(err)),
				zap.Error(err))
			return
		}
		e.journal.Commit()
	}()

	sell, buy := req.Sell, req.Buy
	if sell == nil || buy == nil {
		return nil, fmt.Errorf("%w: missing order", ErrInvalidOrder)
	}

	// 1. digests and expiry. An expired order fails as expired whatever
	// its signature.
	sellDigest, err := e.scheme.Hash(sell)
	if err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	buyDigest, err := e.scheme.Hash(buy)
	if err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}
	if err := nonce.CheckExpiry(sell.ExpirationHeight, height); err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	if err := nonce.CheckExpiry(buy.ExpirationHeight, height); err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}

	// 2. signatures and replay
	if err := e.scheme.Verify(sell.Signer, sellDigest, req.Signatures[0]); err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	if err := e.scheme.Verify(buy.Signer, buyDigest, req.Signatures[1]); err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}
	if err := e.ledger.CheckOpen(sellDigest); err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	if err := e.ledger.CheckOpen(buyDigest); err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}

	// 3. economic terms
	if err := matchTerms(sell, buy); err != nil {
		return nil, err
	}

	// 4. payload both parties consented to
	payload, err := e.matcher.ResolvePair(sell.ActionPayload, buy.ActionPayload, req.RuntimePayloads)
	if err != nil {
		return nil, err
	}

	// 5. fee split
	fee, proceeds := ComputeFee(sell.Price, sell.FeeRate)

	// 6. target action through the seller's proxy
	if err := e.proxies.ExecuteViaProxy(e.journal, sell.Signer, sell.Target, payload); err != nil {
		return nil, fmt.Errorf("target action: %w", err)
	}

	// 7. payment through the buyer's proxy
	if proceeds.Sign() > 0 {
		data := asset.TransferFromCalldata(buy.Signer, sell.Signer, proceeds)
		if err := e.proxies.ExecuteViaProxy(e.journal, buy.Signer, sell.PaymentAsset, data); err != nil {
			return nil, fmt.Errorf("seller payment: %w", err)
		}
	}
	if fee.Sign() > 0 {
		data := asset.TransferFromCalldata(buy.Signer, e.feeRecipient, fee)
		if err := e.proxies.ExecuteViaProxy(e.journal, buy.Signer, sell.PaymentAsset, data); err != nil {
			return nil, fmt.Errorf("fee payment: %w", err)
		}
	}

	// 8. close both orders
	e.ledger.Close(e.journal, sellDigest)
	e.ledger.Close(e.journal, buyDigest)

	res = &Result{
		SellDigest:      sellDigest,
		BuyDigest:       buyDigest,
		Seller:          sell.Signer,
		Buyer:           buy.Signer,
		Target:          sell.Target,
		ExecutedPayload: payload,
		PaymentAsset:    sell.PaymentAsset,
		Price:           new(big.Int).Set(sell.Price),
		Fee:             fee,
		SellerProceeds:  proceeds,
		FeeRecipient:    e.feeRecipient,
		Height:          height,
	}
	e.logger.Info("settlement_applied",
		zap.Uint64("height", height),
		zap.String("sell_digest", sellDigest.Hex()),
		zap.String("buy_digest", buyDigest.Hex()),
		zap.String("seller", sell.Signer.Hex()),
		zap.String("buyer", buy.Signer.Hex()),
		zap.String("price", sell.Price.String()),
		zap.String("fee", fee.String()))
	return res, nil
}

func matchTerms(sell, buy *order.Order) error {
	switch {
	case sell.Price.Cmp(buy.Price) != 0:
		return fmt.Errorf("%w: price %s vs %s", ErrOrderMismatch, sell.Price, buy.Price)
	case sell.FeeRate != buy.FeeRate:
		return fmt.Errorf("%w: fee rate %d vs %d", ErrOrderMismatch, sell.FeeRate, buy.FeeRate)
	case sell.Target != buy.Target:
		return fmt.Errorf("%w: target %s vs %s", ErrOrderMismatch, sell.Target.Hex(), buy.Target.Hex())
	case sell.PaymentAsset != buy.PaymentAsset:
		return fmt.Errorf("%w: payment asset %s vs %s", ErrOrderMismatch, sell.PaymentAsset.Hex(), buy.PaymentAsset.Hex())
	}
	return nil
}
