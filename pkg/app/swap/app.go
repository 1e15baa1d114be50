// Package swap is the ledger application the sequencer drives: it applies
// each block's transactions in order at the block's height, persists the
// resulting ledger state and publishes receipts.
package swap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/nonce"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperswap/pkg/app/core/template"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// StateStore persists the ledger between restarts. *storage.PebbleStore
// implements it; a nil store keeps everything in memory.
type StateStore interface {
	LoadAppState() (uint64, [32]byte, bool, error)
	LoadClosedDigests() ([]common.Hash, error)
	LoadProxies() ([]proxy.Proxy, error)
	LoadAccountNonces() (map[common.Address]uint64, error)
	LoadContractState(addr common.Address) ([]byte, bool, error)
	CommitState(d *storage.StateDelta) error
	GetReceipt(txHash common.Hash) (*transaction.Receipt, bool, error)
}

var _ StateStore = (*storage.PebbleStore)(nil)

type Config struct {
	ExchangeAddress common.Address
	FeeRecipient    common.Address
	Scheme          *crypto.DigestScheme
	Template        template.Config
	MempoolSize     int
}

type App struct {
	mu sync.Mutex

	cfg      Config
	logger   *zap.Logger
	mempool  *mempool.Mempool
	host     *asset.Host
	ledger   *nonce.Ledger
	proxies  *proxy.Registry
	engine   *settlement.Engine
	verifier *transaction.Verifier
	store    StateStore

	height  uint64
	appHash [32]byte

	accountNonces map[common.Address]uint64
	dirtyNonces   map[common.Address]struct{}

	receipts map[common.Hash]*transaction.Receipt // used when store is nil

	subMu       sync.RWMutex
	subscribers []func(Event)
}

var _ abci.Application = (*App)(nil)

// New builds the application over host and restores persisted state from store.
func New(cfg Config, host *asset.Host, store StateStore, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheme == nil {
		cfg.Scheme = crypto.PackedScheme()
	}

	ledger := nonce.NewLedger(cfg.Scheme)
	proxies := proxy.NewRegistry(cfg.ExchangeAddress, host)
	engine, err := settlement.NewEngine(settlement.Config{
		FeeRecipient: cfg.FeeRecipient,
		Scheme:       cfg.Scheme,
		Template:     cfg.Template,
	}, ledger, proxies, logger.Named("settlement"))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		mempool:       mempool.NewMempool(cfg.MempoolSize),
		host:          host,
		ledger:        ledger,
		proxies:       proxies,
		engine:        engine,
		verifier:      transaction.NewVerifier(),
		store:         store,
		accountNonces: make(map[common.Address]uint64),
		dirtyNonces:   make(map[common.Address]struct{}),
		receipts:      make(map[common.Hash]*transaction.Receipt),
	}
	if store != nil {
		if err := a.restore(); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}
	return a, nil
}

func (a *App) restore() error {
	height, appHash, ok, err := a.store.LoadAppState()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	a.height, a.appHash = height, appHash

	closed, err := a.store.LoadClosedDigests()
	if err != nil {
		return err
	}
	a.ledger.Load(closed)

	proxies, err := a.store.LoadProxies()
	if err != nil {
		return err
	}
	a.proxies.Load(proxies)

	nonces, err := a.store.LoadAccountNonces()
	if err != nil {
		return err
	}
	a.accountNonces = nonces

	for _, c := range a.host.Contracts() {
		st, isStateful := c.(asset.Stateful)
		if !isStateful {
			continue
		}
		data, found, err := a.store.LoadContractState(c.Address())
		if err != nil {
			return err
		}
		if found {
			if err := st.UnmarshalState(data); err != nil {
				return fmt.Errorf("contract %s: %w", c.Address().Hex(), err)
			}
		}
	}

	a.logger.Info("state_restored",
		zap.Uint64("height", height),
		zap.Int("closed_digests", len(closed)),
		zap.Int("proxies", len(proxies)),
		zap.Int("accounts", len(nonces)))
	return nil
}

var ErrTxTooLarge = errors.New("transaction too large")

// SubmitTx admits a structurally valid transaction to the mempool
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	if len(raw) > params.MaxTxBytes {
		return transaction.Hash(raw), fmt.Errorf("%w: %d bytes, max %d", ErrTxTooLarge, len(raw), params.MaxTxBytes)
	}
	if _, err := transaction.ParseTransaction(raw); err != nil {
		return transaction.Hash(raw), err
	}
	return a.mempool.Push(raw)
}

// PendingTxs returns the number of transactions waiting for a block
func (a *App) PendingTxs() int { return a.mempool.Len() }

// Subscribe registers fn for every event published after a block commits.
// fn runs on the block-producing goroutine and must not block.
func (a *App) Subscribe(fn func(Event)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

func (a *App) publish(ev Event) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, fn := range a.subscribers {
		fn(ev)
	}
}

// ---- queries ----

// Height returns the last applied block height
func (a *App) Height() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

// AppHash returns the state hash after the last applied block
func (a *App) AppHash() [32]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appHash
}

// Receipt looks up how a transaction was applied
func (a *App) Receipt(txHash common.Hash) (*transaction.Receipt, bool, error) {
	if a.store != nil {
		return a.store.GetReceipt(txHash)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.receipts[txHash]
	return r, ok, nil
}

// AccountNonce returns the last nonce used by addr for create_proxy / call
func (a *App) AccountNonce(addr common.Address) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountNonces[addr]
}

func (a *App) ProxyOf(user common.Address) (proxy.Proxy, bool) { return a.engine.ProxyOf(user) }

func (a *App) IsClosed(digest common.Hash) bool { return a.engine.IsClosed(digest) }

func (a *App) Digest(o *order.Order) (common.Hash, error) { return a.engine.Digest(o) }

func (a *App) Host() *asset.Host { return a.host }

func (a *App) ExchangeAddress() common.Address { return a.cfg.ExchangeAddress }

func (a *App) FeeRecipient() common.Address { return a.engine.FeeRecipient() }

func (a *App) Scheme() *crypto.DigestScheme { return a.engine.Scheme() }

// ---- abci.Application ----

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any proposal from the sequencer; malformed
// transactions fail individually with a receipt.
func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

var errReplayedHeight = errors.New("height already applied")

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	height := uint64(req.Height)
	if height <= a.height {
		appHash, applied := a.appHash, a.height
		a.mu.Unlock()
		a.logger.Error("finalize_skipped", zap.Uint64("height", height), zap.Uint64("applied", applied), zap.Error(errReplayedHeight))
		return abci.ResponseFinalizeBlock{AppHash: appHash}
	}

	receipts := make([]*transaction.Receipt, 0, len(req.Txs))
	succeeded := 0
	for i, raw := range req.Txs {
		r := a.applyTx(raw, height, i)
		if r.Status == transaction.StatusSuccess {
			succeeded++
		}
		receipts = append(receipts, r)
	}

	appHash := computeStateHash(a.appHash, height, req.Timestamp, receipts)

	if err := a.persist(height, appHash, receipts, succeeded > 0); err != nil {
		a.mu.Unlock()
		// In-memory state is ahead of disk; continuing would fork on restart.
		panic(fmt.Errorf("persist block %d: %w", height, err))
	}
	a.height = height
	a.appHash = appHash
	a.mu.Unlock()

	if len(req.Txs) > 0 {
		a.logger.Info("block_committed",
			zap.Uint64("height", height),
			zap.Int("txs", len(req.Txs)),
			zap.Int("succeeded", succeeded),
			zap.String("apphash", fmt.Sprintf("0x%x", appHash[:])))
	}

	events := make([]string, 0, len(receipts)+1)
	for _, r := range receipts {
		events = append(events, fmt.Sprintf("%s:%s", r.Type, r.Status))
		if ev, ok := eventForReceipt(r); ok {
			a.publish(ev)
		}
	}
	events = append(events, "commit")
	a.publish(Event{
		Type:   EventBlock,
		Height: height,
		Block: &BlockSummary{
			Height:    height,
			AppHash:   common.Hash(appHash),
			Txs:       len(req.Txs),
			Succeeded: succeeded,
			Timestamp: req.Timestamp,
		},
	})

	return abci.ResponseFinalizeBlock{Events: events, AppHash: appHash}
}

// persist writes the block's delta and resets dirty tracking. Caller holds a.mu.
func (a *App) persist(height uint64, appHash [32]byte, receipts []*transaction.Receipt, changed bool) error {
	if a.store == nil {
		for _, r := range receipts {
			a.receipts[r.TxHash] = r
		}
		a.ledger.ResetDirty()
		a.proxies.ResetDirty()
		a.dirtyNonces = make(map[common.Address]struct{})
		return nil
	}

	delta := &storage.StateDelta{
		Height:   height,
		AppHash:  appHash,
		Closed:   a.ledger.Dirty(),
		Proxies:  a.proxies.Dirty(),
		Nonces:   make(map[common.Address]uint64, len(a.dirtyNonces)),
		Receipts: receipts,
	}
	for addr := range a.dirtyNonces {
		delta.Nonces[addr] = a.accountNonces[addr]
	}
	if changed {
		delta.Contracts = make(map[common.Address][]byte)
		for _, c := range a.host.Contracts() {
			st, ok := c.(asset.Stateful)
			if !ok {
				continue
			}
			data, err := st.MarshalState()
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", c.Address().Hex(), err)
			}
			delta.Contracts[c.Address()] = data
		}
	}

	if err := a.store.CommitState(delta); err != nil {
		return err
	}
	a.ledger.ResetDirty()
	a.proxies.ResetDirty()
	a.dirtyNonces = make(map[common.Address]struct{})
	return nil
}
