package abci

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

// recordingApp returns queued txs in order and remembers what it finalized.
type recordingApp struct {
	mu        sync.Mutex
	queue     [][]byte
	reject    bool
	finalized []RequestFinalizeBlock
}

func (a *recordingApp) PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal {
	a.mu.Lock()
	defer a.mu.Unlock()
	txs := a.queue
	a.queue = nil
	return ResponsePrepareProposal{Txs: txs}
}

func (a *recordingApp) ProcessProposal(RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: !a.reject}
}

func (a *recordingApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = append(a.finalized, req)
	var h sequencer.Hash
	h[0] = byte(req.Height)
	h[1] = byte(len(req.Txs))
	return ResponseFinalizeBlock{AppHash: h}
}

func TestPayloadRoundTrip(t *testing.T) {
	txs := [][]byte{[]byte(`{"type":"settle"}`), {}, {0x00, 0x01, 0x00}, make([]byte, 300)}
	got, err := DecodePayload(EncodePayload(txs))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(txs) {
		t.Fatalf("got %d txs, want %d", len(got), len(txs))
	}
	for i := range txs {
		if string(got[i]) != string(txs[i]) {
			t.Errorf("tx[%d] = %x, want %x", i, got[i], txs[i])
		}
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	for _, p := range [][]byte{{0x05, 'a'}, {0xff}} {
		if _, err := DecodePayload(p); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("DecodePayload(%x) err = %v", p, err)
		}
	}
}

func TestBridgeFinalizesBlock(t *testing.T) {
	app := &recordingApp{queue: [][]byte{[]byte("a"), []byte("b")}}
	b := &Bridge{App: app, MaxTxBytes: 1 << 20}

	payload := b.PreparePayload(sequencer.GenesisBlock(), 1)
	blk := sequencer.Block{Height: 1, Payload: payload, Time: time.Unix(100, 0)}
	appHash := b.OnCommit(blk)

	if appHash[0] != 1 || appHash[1] != 2 {
		t.Fatalf("app hash = %x", appHash[:2])
	}
	req := app.finalized[0]
	if req.Height != 1 || req.Timestamp != 100 || len(req.Txs) != 2 || string(req.Txs[1]) != "b" {
		t.Fatalf("finalize request = %+v", req)
	}
}

func TestBridgeRejectedPayloadFinalizesEmpty(t *testing.T) {
	app := &recordingApp{reject: true}
	b := &Bridge{App: app}

	b.OnCommit(sequencer.Block{Height: 4, Payload: EncodePayload([][]byte{[]byte("x")})})
	b.OnCommit(sequencer.Block{Height: 5, Payload: []byte{0x09}})

	if len(app.finalized) != 2 {
		t.Fatalf("finalized %d blocks", len(app.finalized))
	}
	for _, req := range app.finalized {
		if len(req.Txs) != 0 {
			t.Errorf("height %d finalized %d txs", req.Height, len(req.Txs))
		}
	}
}
