package alarm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FileJournal keeps one JSON array per transaction at {dir}/{transaction}.json.
// Appends to the same transaction are serialized; different transactions
// proceed in parallel.
type FileJournal struct {
	dir string

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a per-transaction mutex shared by refs callers. It is dropped
// from the map when the last one releases it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewFileJournal returns a journal writing under dir.
func NewFileJournal(dir string) *FileJournal {
	return &FileJournal{dir: dir, locks: make(map[string]*keyLock)}
}

// Dir returns the journal directory.
func (j *FileJournal) Dir() string {
	return j.dir
}

// Append adds ev to its transaction's file. Entries already in the file are
// kept verbatim, even when they no longer decode as events; only a file that
// is not JSON at all starts over.
func (j *FileJournal) Append(_ context.Context, ev Event) error {
	path, err := j.path(ev.TransactionID)
	if err != nil {
		return err
	}

	unlock := j.lock(ev.TransactionID)
	defer unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create journal dir %s", j.dir)
	}
	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode alarm")
	}
	entries = append(entries, raw)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode journal")
	}
	return writeAtomic(path, data)
}

// List returns the events recorded for transactionID. Entries that do not
// decode as events are skipped.
func (j *FileJournal) List(_ context.Context, transactionID string) ([]Event, error) {
	path, err := j.path(transactionID)
	if err != nil {
		return nil, err
	}

	unlock := j.lock(transactionID)
	defer unlock()

	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(entries))
	for _, raw := range entries {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (j *FileJournal) lock(transactionID string) func() {
	j.mu.Lock()
	l, ok := j.locks[transactionID]
	if !ok {
		l = &keyLock{}
		j.locks[transactionID] = l
	}
	l.refs++
	j.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		j.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(j.locks, transactionID)
		}
		j.mu.Unlock()
	}
}

func (j *FileJournal) path(transactionID string) (string, error) {
	if transactionID == "" || transactionID == "." || transactionID == ".." ||
		strings.ContainsAny(transactionID, `/\`) {
		return "", errors.Errorf("invalid transaction id %q", transactionID)
	}
	return filepath.Join(j.dir, transactionID+".json"), nil
}

// readEntries loads a journal file as raw JSON values. A missing file or one
// that is not valid JSON reads as empty, and any JSON value other than an
// array is treated as a one-element list.
func readEntries(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read journal %s", path)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}
	var single json.RawMessage
	if err := json.Unmarshal(data, &single); err == nil && string(single) != "null" {
		return []json.RawMessage{single}, nil
	}
	return nil, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".journal-*")
	if err != nil {
		return errors.Wrap(err, "create temp journal")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write temp journal")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close temp journal")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "replace journal")
}
