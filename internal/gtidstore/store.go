// Package gtidstore persists the durable GTID and recovery ledger for each
// replication task outside the core (spec §7's "outside the core"
// extension point), exactly as the teacher's internal/storage wraps
// badger for scheduler-side state. The Replicator never imports this
// package directly — the scheduler wires Store.SetGTID as the Replicator's
// onDurable callback.
package gtidstore

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v3"
	"github.com/pingcap/errors"

	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// TaskState is what Store persists per task: the last durable GTID and
// the in-flight recovery ledger (teacher: pkg.ConcurrentlyTask list).
type TaskState struct {
	GTID   string                 `json:"gtid"`
	Ledger []galaxy.RecoveryEntry `json:"ledger"`
	ErrMsg string                 `json:"err_msg,omitempty"`
}

// Store wraps one badger database keyed by task id.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the badger database at path.
func Open(path string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Store{db: db}, nil
}

// Get returns the persisted state for taskID, or (nil, nil) if no state
// has been recorded yet.
func (s *Store) Get(taskID string) (*TaskState, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(taskID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append(raw, val...)
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if raw == nil {
		return nil, nil
	}
	var state TaskState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errors.WithStack(err)
	}
	return &state, nil
}

// Set persists state for taskID, overwriting whatever was there.
func (s *Store) Set(taskID string, state *TaskState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(taskID), raw)
	}))
}

// SetGTID is the narrow form used as a Replicator.SetOnDurable callback:
// it updates only the GTID field, leaving any recovery ledger untouched.
func (s *Store) SetGTID(taskID, gtid string) {
	state, err := s.Get(taskID)
	if err != nil || state == nil {
		state = &TaskState{}
	}
	state.GTID = gtid
	_ = s.Set(taskID, state)
}

// DelTask removes a task's persisted state entirely, grounded on the
// teacher's storage.Storage.DelTask (referenced by
// internal/scheduler/update_task.go's deleteTask).
func (s *Store) DelTask(taskID string) error {
	return errors.WithStack(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(taskID))
	}))
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}
