package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

// FileWAL appends one JSON record per line. Commit records are synced to
// disk; proposals are not, so a crash loses at most the dangling proposal.
type FileWAL struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f, enc: json.NewEncoder(f)}, nil
}

func (w *FileWAL) Append(rec sequencer.WALRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return
	}
	if rec.Op == sequencer.WALCommit {
		_ = w.f.Sync()
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ sequencer.WAL = (*FileWAL)(nil)

// ReadWAL loads every record in path. A missing file is an empty log and
// a torn last line is dropped; corruption anywhere else is an error.
func ReadWAL(path string) ([]sequencer.WALRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]sequencer.WALRecord, 0, len(lines))
	for i, line := range lines {
		var rec sequencer.WALRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("wal line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// PendingProposal returns the height of a proposal that never committed,
// which means the node stopped while that block was being applied.
func PendingProposal(recs []sequencer.WALRecord) (sequencer.Height, bool) {
	var h sequencer.Height
	open := false
	for _, r := range recs {
		switch r.Op {
		case sequencer.WALPropose:
			h, open = r.Height, true
		case sequencer.WALCommit:
			if r.Height == h {
				open = false
			}
		}
	}
	return h, open
}
