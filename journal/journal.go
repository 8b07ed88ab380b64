// Package journal keeps a local history of submissions in LevelDB so the
// CLI can show what was sent and how it settled.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/colorfulnotion/flchain/common"
)

var submissionPrefix = []byte("sub/")

// Entry is one settled submission.
type Entry struct {
	Time          time.Time   `json:"time"`
	Method        string      `json:"method"`
	Sender        string      `json:"sender"`
	ExtrinsicHash common.Hash `json:"extrinsicHash"`
	Outcome       string      `json:"outcome"`
	BlockHash     common.Hash `json:"blockHash,omitempty"`
	BlockNumber   uint64      `json:"blockNumber,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Journal is safe for concurrent use; LevelDB handles its own locking.
type Journal struct {
	db *leveldb.DB
}

// Open opens or creates the journal at path. An empty path keeps it in
// memory.
func Open(path string) (*Journal, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// key sorts by time, then by extrinsic hash for entries in the same instant.
func key(e *Entry) []byte {
	k := make([]byte, 0, len(submissionPrefix)+8+8)
	k = append(k, submissionPrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(e.Time.UnixNano()))
	return append(k, e.ExtrinsicHash[:8]...)
}

func (j *Journal) Append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return j.db.Put(key(&e), value, nil)
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) ([]Entry, error) {
	iter := j.db.NewIterator(util.BytesPrefix(submissionPrefix), nil)
	defer iter.Release()

	var out []Entry
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("journal entry %x: %w", iter.Key(), err)
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
