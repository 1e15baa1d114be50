// Package sequencer produces the single globally ordered block sequence the
// settlement ledger runs on. Each block's height is the ledger height its
// transactions are applied at.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

type Config struct {
	ID string
	// MinBlockTime throttles block production. Heights only advance when a
	// block is produced, so order expiry is measured in these blocks.
	MinBlockTime time.Duration
	// SkipEmpty suppresses blocks with no transactions.
	SkipEmpty bool
}

type Sequencer struct {
	cfg    Config
	app    AppHook
	store  BlockStore
	wal    WAL
	signer *crypto.BLSSigner
	clock  util.Clock

	Logger *zap.SugaredLogger

	mu   sync.RWMutex
	last Block
}

// New resumes from the store's last block, or genesis on an empty store.
func New(cfg Config, app AppHook, store BlockStore, wal WAL, signer *crypto.BLSSigner, clock util.Clock) (*Sequencer, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	last, ok, err := store.LastBlock()
	if err != nil {
		return nil, fmt.Errorf("load last block: %w", err)
	}
	if !ok {
		last = GenesisBlock()
	}
	return &Sequencer{
		cfg:    cfg,
		app:    app,
		store:  store,
		wal:    wal,
		signer: signer,
		clock:  clock,
		Logger: zap.NewNop().Sugar(),
		last:   last,
	}, nil
}

// Height returns the height of the last committed block
func (s *Sequencer) Height() Height {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Height
}

// LastBlock returns the last committed block
func (s *Sequencer) LastBlock() Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run produces a block every MinBlockTime until ctx is done.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.MinBlockTime):
		}

		if _, err := s.Step(); err != nil && !errors.Is(err, ErrEmptyBlock) {
			return err
		}
	}
}

var ErrEmptyBlock = errors.New("empty block skipped")

// Step produces, executes and persists the next block.
func (s *Sequencer) Step() (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.last
	next := parent.Height + 1
	payload := s.app.PreparePayload(parent, next)
	if len(payload) == 0 && s.cfg.SkipEmpty {
		return parent, ErrEmptyBlock
	}

	b := Block{
		Height:   next,
		Parent:   HashOfBlock(parent),
		Payload:  payload,
		Proposer: s.cfg.ID,
		Time:     s.clock.Now().UTC(),
	}
	if s.wal != nil {
		s.wal.Append(WALRecord{Op: WALPropose, Height: b.Height, Bytes: len(payload)})
	}

	b.AppHash = s.app.OnCommit(b)
	if s.signer != nil {
		b.Sig = s.signer.Sign(SigningBytes(b))
	}
	if err := s.store.SaveBlock(b); err != nil {
		return parent, fmt.Errorf("save block %d: %w", b.Height, err)
	}
	s.last = b

	if s.wal != nil {
		s.wal.Append(WALRecord{Op: WALCommit, Height: b.Height, AppHash: fmt.Sprintf("0x%x", b.AppHash[:])})
	}
	if len(payload) > 0 {
		s.Logger.Infow("commit", "height", b.Height, "bytes", len(payload), "apphash", fmt.Sprintf("0x%x", b.AppHash[:]))
	} else {
		s.Logger.Debugw("commit_empty", "height", b.Height)
	}
	return b, nil
}

// VerifyBlock checks a block's sequencer signature
func VerifyBlock(pk *crypto.BLSPubKey, b Block) bool {
	return crypto.Verify(pk, b.Sig, SigningBytes(b))
}
