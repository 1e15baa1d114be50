package abci

import (
	"encoding/binary"
	"errors"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	Events  []string
	AppHash sequencer.Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Bridge adapts an Application to the sequencer's AppHook.
type Bridge struct {
	App        Application
	MaxTxBytes int64
	Logger     *zap.Logger
}

var _ sequencer.AppHook = (*Bridge)(nil)

func (b *Bridge) PreparePayload(_ sequencer.Block, next sequencer.Height) []byte {
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: b.MaxTxBytes})
	return EncodePayload(resp.Txs)
}

// OnCommit executes the block. A payload the application rejects is
// finalized as an empty block so the height still advances.
func (b *Bridge) OnCommit(committed sequencer.Block) sequencer.Hash {
	txs, err := DecodePayload(committed.Payload)
	if err == nil {
		if !b.App.ProcessProposal(RequestProcessProposal{Height: int64(committed.Height), Txs: txs}).Accept {
			err = errors.New("proposal rejected")
		}
	}
	if err != nil {
		if b.Logger != nil {
			b.Logger.Error("payload_rejected", zap.Uint64("height", uint64(committed.Height)), zap.Error(err))
		}
		txs = nil
	}

	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       txs,
	})
	return resp.AppHash
}

// EncodePayload length-prefixes each tx (uvarint) so tx bytes are opaque
func EncodePayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = binary.AppendUvarint(payload, uint64(len(tx)))
		payload = append(payload, tx...)
	}
	return payload
}

var ErrMalformedPayload = errors.New("malformed block payload")

func DecodePayload(p []byte) ([][]byte, error) {
	var out [][]byte
	for len(p) > 0 {
		n, w := binary.Uvarint(p)
		if w <= 0 || uint64(len(p)-w) < n {
			return nil, ErrMalformedPayload
		}
		p = p[w:]
		out = append(out, append([]byte(nil), p[:n]...))
		p = p[n:]
	}
	return out, nil
}
