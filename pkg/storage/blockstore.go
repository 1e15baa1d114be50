package storage

import (
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[sequencer.Height]sequencer.Block
	last   *sequencer.Height
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[sequencer.Height]sequencer.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b sequencer.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	h := b.Height
	s.last = &h
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h sequencer.Height) (sequencer.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) LastBlock() (sequencer.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return sequencer.Block{}, false, nil
	}
	return s.blocks[*s.last], true, nil
}

var _ sequencer.BlockStore = (*InMemoryBlockStore)(nil)
