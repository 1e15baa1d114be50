package swap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TxFeederConfig controls devnet transaction generation
type TxFeederConfig struct {
	BatchSize   int           // Number of txs to generate per batch
	Interval    time.Duration // How often to generate batches
	NumAccounts int           // Number of simulated traders
	// Seed derives the trader keys, so funded genesis accounts and their
	// proxies survive a restart.
	Seed string
}

// DefaultFeederConfig returns reasonable defaults for testing
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   10,                     // 10 txs per batch
		Interval:    100 * time.Millisecond, // Every 100ms
		NumAccounts: 20,
		Seed:        "hyperswap-devnet-traders",
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() TxFeederConfig {
	cfg := DefaultFeederConfig()
	cfg.BatchSize = 100
	cfg.NumAccounts = 200
	return cfg
}

// FeederConfigForMode maps TXGEN_MODE to a preset
func FeederConfigForMode(mode string) (TxFeederConfig, error) {
	switch mode {
	case "default":
		return DefaultFeederConfig(), nil
	case "high":
		return HighLoadConfig(), nil
	default:
		return TxFeederConfig{}, fmt.Errorf("unknown txgen mode %q", mode)
	}
}

const (
	traderTokenUnits  = "1000000" // whole tokens minted to each trader
	traderFirstItemID = 1_000_000
)

// TxGenerator creates signed swap traffic between simulated traders:
// onboarding (proxy + approvals) first, then settlements of the traders'
// collectibles with an occasional cancel.
type TxGenerator struct {
	traders   []*crypto.Signer
	nonces    map[common.Address]uint64 // account nonces for create_proxy / call
	onboarded map[common.Address]bool
	itemIDs   []*big.Int
	rng       *rand.Rand

	exchange common.Address
	token    common.Address
	item     common.Address
	scheme   *crypto.DigestScheme

	stats GeneratorStats
}

// GeneratorStats counts generated transactions by kind
type GeneratorStats struct {
	Onboarding int
	Settles    int
	Cancels    int
	Skipped    int
}

// NewTxGenerator derives cfg.NumAccounts traders from cfg.Seed. The first
// token and collectible of g are traded; Fund must have added the traders'
// holdings to g before the host was built from it.
func NewTxGenerator(cfg TxFeederConfig, g *params.Genesis, exchange common.Address, scheme *crypto.DigestScheme) (*TxGenerator, error) {
	if len(g.Tokens) == 0 || len(g.Collectibles) == 0 {
		return nil, errors.New("txgen: genesis needs a token and a collectible")
	}
	if cfg.NumAccounts < 2 {
		return nil, errors.New("txgen: need at least two accounts")
	}
	seedHash := ethCrypto.Keccak256([]byte(cfg.Seed))
	gen := &TxGenerator{
		nonces:    make(map[common.Address]uint64),
		onboarded: make(map[common.Address]bool),
		rng:       rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(seedHash)))),
		exchange:  exchange,
		token:     common.HexToAddress(g.Tokens[0].Address),
		item:      common.HexToAddress(g.Collectibles[0].Address),
		scheme:    scheme,
	}
	for i := 0; i < cfg.NumAccounts; i++ {
		key := ethCrypto.Keccak256(seedHash, []byte(strconv.Itoa(i)))
		signer, err := crypto.FromPrivateKeyHex(hexutil.Encode(key))
		if err != nil {
			return nil, fmt.Errorf("txgen: trader %d: %w", i, err)
		}
		gen.traders = append(gen.traders, signer)
		gen.itemIDs = append(gen.itemIDs, big.NewInt(int64(traderFirstItemID+i)))
	}
	return gen, nil
}

// Fund adds each trader's token balance and one collectible to g
func (gen *TxGenerator) Fund(g *params.Genesis) {
	tok, col := &g.Tokens[0], &g.Collectibles[0]
	if tok.Balances == nil {
		tok.Balances = make(map[string]string)
	}
	if col.Owners == nil {
		col.Owners = make(map[string]string)
	}
	for i, t := range gen.traders {
		tok.Balances[t.Address().Hex()] = traderTokenUnits
		col.Owners[gen.itemIDs[i].String()] = t.Address().Hex()
	}
}

// Sync picks up account nonces and proxies already on the ledger
func (gen *TxGenerator) Sync(app *App) {
	for _, t := range gen.traders {
		gen.nonces[t.Address()] = app.AccountNonce(t.Address())
		_, gen.onboarded[t.Address()] = app.ProxyOf(t.Address())
	}
}

// Traders returns the simulated trader addresses
func (gen *TxGenerator) Traders() []common.Address {
	out := make([]common.Address, len(gen.traders))
	for i, t := range gen.traders {
		out[i] = t.Address()
	}
	return out
}

// Stats returns counts of generated transactions
func (gen *TxGenerator) Stats() GeneratorStats { return gen.stats }

// GenerateBatch returns up to n serialized transactions. host supplies the
// current collectible owners so settlements name the actual seller.
func (gen *TxGenerator) GenerateBatch(host *asset.Host, n int) [][]byte {
	batch := make([][]byte, 0, n)

	// Onboard traders first; a trader's three txs go out together.
	for _, t := range gen.traders {
		if len(batch)+3 > n {
			break
		}
		if gen.onboarded[t.Address()] {
			continue
		}
		batch = append(batch, gen.onboard(t)...)
		gen.onboarded[t.Address()] = true
	}

	col, ok := host.Collectible(gen.item)
	if !ok {
		return batch
	}
	for attempts := 0; len(batch) < n && attempts < 4*n; attempts++ {
		raw, err := gen.trade(col)
		if err != nil {
			gen.stats.Skipped++
			break
		}
		if raw != nil {
			batch = append(batch, raw)
		}
	}
	return batch
}

func (gen *TxGenerator) nextNonce(s *crypto.Signer) uint64 {
	gen.nonces[s.Address()]++
	return gen.nonces[s.Address()]
}

func (gen *TxGenerator) onboard(t *crypto.Signer) [][]byte {
	p := proxy.Address(gen.exchange, t.Address())
	var out [][]byte
	add := func(tx *transaction.SignedTransaction, err error) {
		if err != nil {
			return
		}
		if raw, err := tx.Serialize(); err == nil {
			out = append(out, raw)
			gen.stats.Onboarding++
		}
	}
	add(transaction.NewCreateProxy(t, gen.nextNonce(t)))
	add(transaction.NewCall(t, gen.item, asset.SetApprovalForAllCalldata(p, true), gen.nextNonce(t)))
	add(transaction.NewCall(t, gen.token, asset.ApproveCalldata(p, math.MaxBig256), gen.nextNonce(t)))
	return out
}

// trade builds one settle (or, one time in ten, a cancel). It returns nil
// bytes when the picked item is held by someone who is not ready to trade.
func (gen *TxGenerator) trade(col *asset.Collectible) ([]byte, error) {
	id := gen.itemIDs[gen.rng.Intn(len(gen.itemIDs))]
	ownerAddr, ok := col.OwnerOf(id)
	if !ok {
		return nil, fmt.Errorf("item %s not minted", id)
	}
	seller := gen.trader(ownerAddr)
	if seller == nil || !gen.onboarded[ownerAddr] {
		gen.stats.Skipped++
		return nil, nil
	}
	buyer := gen.traders[gen.rng.Intn(len(gen.traders))]
	if buyer == seller || !gen.onboarded[buyer.Address()] {
		gen.stats.Skipped++
		return nil, nil
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}
	payload := asset.TransferFromCalldata(seller.Address(), buyer.Address(), id)
	mk := func(signer common.Address) *order.Order {
		return &order.Order{
			Signer:        signer,
			Target:        gen.item,
			ActionPayload: payload,
			PaymentAsset:  gen.token,
			Price:         big.NewInt(int64(gen.rng.Intn(1_000_000) + 1)),
			FeeRate:       uint64(gen.rng.Intn(11)),
			Nonce:         nonce,
		}
	}
	sell := mk(seller.Address())
	buy := sell.Clone()
	buy.Signer = buyer.Address()

	_, sellSig, err := gen.scheme.SignOrder(seller, sell)
	if err != nil {
		return nil, err
	}
	if gen.rng.Intn(10) == 0 {
		gen.stats.Cancels++
		tx, err := transaction.NewCancel(seller, gen.scheme, sell, sellSig)
		if err != nil {
			return nil, err
		}
		return tx.Serialize()
	}
	_, buySig, err := gen.scheme.SignOrder(buyer, buy)
	if err != nil {
		return nil, err
	}
	gen.stats.Settles++
	return transaction.NewSettle(sell, buy, [2][]byte{sellSig, buySig}, nil).Serialize()
}

func (gen *TxGenerator) trader(addr common.Address) *crypto.Signer {
	for _, t := range gen.traders {
		if t.Address() == addr {
			return t
		}
	}
	return nil
}

// StartTxFeeder starts a background goroutine that continuously feeds transactions to the app
// Returns a cancel function to stop the feeder
func StartTxFeeder(ctx context.Context, app *App, gen *TxGenerator, cfg TxFeederConfig, logger *zap.Logger) context.CancelFunc {
	gen.Sync(app)
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		startTime := time.Now()
		lastLog := startTime
		totalTxs, rejected := 0, 0

		logger.Info("txfeeder_started",
			zap.Int("batch", cfg.BatchSize),
			zap.Duration("interval", cfg.Interval),
			zap.Int("accounts", cfg.NumAccounts))

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(startTime)
				logger.Info("txfeeder_stopped",
					zap.Int("txs", totalTxs),
					zap.Duration("elapsed", elapsed.Round(time.Second)),
					zap.Float64("tps", float64(totalTxs)/elapsed.Seconds()))
				return

			case <-ticker.C:
				for _, raw := range gen.GenerateBatch(app.Host(), cfg.BatchSize) {
					if _, err := app.SubmitTx(raw); err != nil {
						rejected++
						continue
					}
					totalTxs++
				}

				if time.Since(lastLog) >= 10*time.Second {
					lastLog = time.Now()
					st := gen.Stats()
					logger.Info("txfeeder_stats",
						zap.Int("submitted", totalTxs),
						zap.Int("rejected", rejected),
						zap.Int("settles", st.Settles),
						zap.Int("cancels", st.Cancels),
						zap.Float64("tps", float64(totalTxs)/time.Since(startTime).Seconds()))
				}
			}
		}
	}()

	return cancel
}
