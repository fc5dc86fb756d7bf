// Copyright 2025 Certen Protocol
//
// Progress cursor store for the Checkpoint Driver, backed by CometBFT's
// goleveldb wrapper. Follows a KV adapter pattern, narrowed to bridge
// dbm.DB into a domain-specific cursor interface instead of a generic KV.

package progress

import (
	"encoding/json"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// cursorKey is the single key under which the progress blob is stored, one
// watermark per configured reader name.
var cursorKey = []byte("isafe_reader_cursor")

// cursorDoc is the literal JSON shape persisted at cursorKey.
type cursorDoc struct {
	// SequenceNumbers maps a reader name to the last checkpoint sequence
	// number it durably processed.
	SequenceNumbers map[string]uint64 `json:"sequenceNumbers"`
}

// Store persists the last processed checkpoint sequence number so the
// Checkpoint Driver can resume without re-processing committed work.
type Store struct {
	db dbm.DB
}

// Open opens (creating if absent) a goleveldb-backed progress store named
// name under dir.
func Open(name, dir string) (*Store, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cursor returns the last durably recorded sequence number for reader, and
// false if none has ever been recorded (a fresh reader).
func (s *Store) Cursor(reader string) (uint64, bool, error) {
	doc, err := s.load()
	if err != nil {
		return 0, false, err
	}
	seq, ok := doc.SequenceNumbers[reader]
	return seq, ok, nil
}

// Advance durably records seq as reader's new cursor. The Checkpoint
// Driver calls this only after a checkpoint's projection-store transaction
// has committed, so a cursor value always reflects fully-applied work.
func (s *Store) Advance(reader string, seq uint64) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	if doc.SequenceNumbers == nil {
		doc.SequenceNumbers = make(map[string]uint64)
	}
	doc.SequenceNumbers[reader] = seq

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal progress cursor: %w", err)
	}
	return s.db.SetSync(cursorKey, raw)
}

func (s *Store) load() (cursorDoc, error) {
	raw, err := s.db.Get(cursorKey)
	if err != nil {
		return cursorDoc{}, fmt.Errorf("failed to read progress cursor: %w", err)
	}
	if raw == nil {
		return cursorDoc{SequenceNumbers: make(map[string]uint64)}, nil
	}
	var doc cursorDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cursorDoc{}, fmt.Errorf("failed to unmarshal progress cursor: %w", err)
	}
	return doc, nil
}
