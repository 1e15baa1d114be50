package storage

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

func openStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlockStores(t *testing.T) {
	stores := map[string]sequencer.BlockStore{
		"pebble": openStore(t),
		"memory": NewInMemoryBlockStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.LastBlock(); ok || err != nil {
				t.Fatalf("empty store: ok=%v err=%v", ok, err)
			}

			b1 := sequencer.Block{Height: 1, Payload: []byte("tx"), Proposer: "seq", Time: time.Unix(10, 0).UTC()}
			b2 := sequencer.Block{Height: 2, Parent: sequencer.HashOfBlock(b1), Proposer: "seq", Time: time.Unix(11, 0).UTC()}
			b2.AppHash[0] = 0xaa
			for _, b := range []sequencer.Block{b1, b2} {
				if err := s.SaveBlock(b); err != nil {
					t.Fatalf("save: %v", err)
				}
			}

			last, ok, err := s.LastBlock()
			if err != nil || !ok {
				t.Fatalf("last: ok=%v err=%v", ok, err)
			}
			if last.Height != 2 || last.AppHash != b2.AppHash || last.Parent != sequencer.HashOfBlock(b1) {
				t.Fatalf("last block = %+v", last)
			}
			got, ok, _ := s.GetBlock(1)
			if !ok || string(got.Payload) != "tx" || !got.Time.Equal(b1.Time) {
				t.Fatalf("block 1 = %+v", got)
			}
			if _, ok, _ := s.GetBlock(3); ok {
				t.Fatal("block 3 should not exist")
			}
		})
	}
}

func TestCommitStateAndReload(t *testing.T) {
	s := openStore(t)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenAddr := common.HexToAddress("0x7000000000000000000000000000000000000007")
	d1 := common.HexToHash("0x01")
	d2 := common.HexToHash("0x02")
	txHash := common.HexToHash("0xfeed")

	delta := &StateDelta{
		Height:  5,
		AppHash: [32]byte{1, 2, 3},
		Closed:  []common.Hash{d1, d2},
		Proxies: []proxy.Proxy{{Owner: owner, Address: proxy.Address(common.Address{}, owner), CreatedHeight: 5}},
		Nonces:  map[common.Address]uint64{owner: 3, other: 1},
		Receipts: []*transaction.Receipt{{
			TxHash: txHash,
			Type:   transaction.TxTypeSettle,
			Height: 5,
			Status: transaction.StatusSuccess,
			Settlement: &settlement.Result{
				Seller: owner, Buyer: other,
				Price: big.NewInt(100), Fee: big.NewInt(10), SellerProceeds: big.NewInt(90),
				ExecutedPayload: []byte{0x23, 0xb8, 0x72, 0xdd},
			},
		}},
		Contracts: map[common.Address][]byte{tokenAddr: []byte(`{"balances":{}}`)},
	}
	if err := s.CommitState(delta); err != nil {
		t.Fatalf("commit: %v", err)
	}

	height, appHash, ok, err := s.LoadAppState()
	if err != nil || !ok || height != 5 || appHash != delta.AppHash {
		t.Fatalf("app state = %d %x ok=%v err=%v", height, appHash, ok, err)
	}

	closed, err := s.LoadClosedDigests()
	if err != nil || len(closed) != 2 || closed[0] != d1 || closed[1] != d2 {
		t.Fatalf("closed = %v err=%v", closed, err)
	}

	proxies, err := s.LoadProxies()
	if err != nil || len(proxies) != 1 || proxies[0] != delta.Proxies[0] {
		t.Fatalf("proxies = %+v err=%v", proxies, err)
	}

	nonces, err := s.LoadAccountNonces()
	if err != nil || nonces[owner] != 3 || nonces[other] != 1 {
		t.Fatalf("nonces = %v err=%v", nonces, err)
	}

	r, ok, err := s.GetReceipt(txHash)
	if err != nil || !ok {
		t.Fatalf("receipt: ok=%v err=%v", ok, err)
	}
	if r.Settlement.Fee.Cmp(big.NewInt(10)) != 0 || r.Settlement.Seller != owner {
		t.Fatalf("receipt = %+v", r.Settlement)
	}
	if _, ok, _ := s.GetReceipt(common.HexToHash("0xbeef")); ok {
		t.Fatal("unknown receipt found")
	}

	st, ok, err := s.LoadContractState(tokenAddr)
	if err != nil || !ok || string(st) != `{"balances":{}}` {
		t.Fatalf("contract state = %s ok=%v err=%v", st, ok, err)
	}
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequencer.wal")
	if recs, err := ReadWAL(path); err != nil || len(recs) != 0 {
		t.Fatalf("missing wal: %v %v", recs, err)
	}

	w, err := NewFileWAL(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	w.Append(sequencer.WALRecord{Op: sequencer.WALPropose, Height: 1, Bytes: 42})
	w.Append(sequencer.WALRecord{Op: sequencer.WALCommit, Height: 1, AppHash: "0x01"})
	w.Append(sequencer.WALRecord{Op: sequencer.WALPropose, Height: 2})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs, err := ReadWAL(path)
	if err != nil || len(recs) != 3 {
		t.Fatalf("read: %v %v", recs, err)
	}
	if recs[0].Bytes != 42 || recs[1].AppHash != "0x01" {
		t.Fatalf("records = %+v", recs)
	}
	if h, ok := PendingProposal(recs); !ok || h != 2 {
		t.Fatalf("pending = %d %v, want 2", h, ok)
	}
	if _, ok := PendingProposal(recs[:2]); ok {
		t.Fatal("committed block reported pending")
	}

	// A torn final line is dropped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"op":"comm`)
	f.Close()
	if recs, err := ReadWAL(path); err != nil || len(recs) != 3 {
		t.Fatalf("torn tail: %d records, err %v", len(recs), err)
	}
}
