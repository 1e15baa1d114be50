// Package state provides the undo journal that makes a settlement
// all-or-nothing across contracts, the proxy registry and the nonce ledger.
package state

// Journal records undo closures in execution order. Reverting to a
// snapshot runs the closures recorded after it, newest first.
//
// A nil *Journal is valid and records nothing; genesis minting uses it.
type Journal struct {
	entries []func()
}

// NewJournal returns an empty journal
func NewJournal() *Journal {
	return &Journal{}
}

// Append records undo, to be run if the enclosing snapshot is reverted.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// RevertToSnapshot undoes every change recorded since snapshot id.
func (j *Journal) RevertToSnapshot(id int) {
	if j == nil {
		return
	}
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:id]
}

// Commit drops all undo entries, making the recorded changes permanent.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	j.entries = j.entries[:0]
}

// Len returns the number of recorded entries
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}
