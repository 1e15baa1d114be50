package sequencer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Block is one entry of the ordered ledger. Payload holds the encoded
// transactions; AppHash is the application state after executing them.
type Block struct {
	Height   Height    `json:"height"`
	Parent   Hash      `json:"parent"`
	AppHash  Hash      `json:"appHash"`
	Payload  []byte    `json:"payload"`
	Proposer string    `json:"proposer"`
	Time     time.Time `json:"time"`
	Sig      []byte    `json:"sig,omitempty"` // BLS signature over SigningBytes
}

// HashOfBlock commits to the ordering data only: height, parent, payload,
// proposer and time. AppHash and Sig are set after execution.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], uint64(b.Height))
	h.Write(heightBuf[:])

	h.Write(b.Parent[:])
	h.Write(b.Payload)
	h.Write([]byte(b.Proposer))

	var timeBuf [8]byte
	binary.BigEndian.PutUint64(timeBuf[:], uint64(b.Time.UnixNano()))
	h.Write(timeBuf[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SigningBytes is what the sequencer signs: the block hash followed by the
// app hash, so the signature covers both the order and its outcome.
func SigningBytes(b Block) []byte {
	bh := HashOfBlock(b)
	out := make([]byte, 0, 64)
	out = append(out, bh[:]...)
	return append(out, b.AppHash[:]...)
}

func GenesisBlock() Block {
	return Block{Height: 0, Proposer: "genesis", Time: time.Unix(0, 0).UTC()}
}

// ---- Storage/WAL interfaces (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(h Height) (Block, bool, error)
	LastBlock() (Block, bool, error)
}

const (
	WALPropose = "propose"
	WALCommit  = "commit"
)

// WALRecord is one sequencer log entry. A propose without a matching
// commit marks a block that was being applied when the node stopped.
type WALRecord struct {
	Op      string `json:"op"`
	Height  Height `json:"height"`
	Bytes   int    `json:"bytes,omitempty"`
	AppHash string `json:"appHash,omitempty"`
}

type WAL interface {
	Append(rec WALRecord)
}

// AppHook is the application side of block production.
type AppHook interface {
	PreparePayload(parent Block, next Height) []byte
	OnCommit(committed Block) Hash // Returns AppHash after executing block
}
