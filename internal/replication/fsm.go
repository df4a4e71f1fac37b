// Package replication implements the replicated write path: every mutation
// is serialized by the raft leader, appended to the log, and applied to the
// collection manager and persistent store only after commit. Snapshots are
// consistent copies of the key-value store; installing one on a follower
// replaces its store and reloads every collection index from it.
package replication

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/raft"

	"github.com/voldyman/typesense/internal/collection"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/store"
)

// Operation types carried in the replicated log.
const (
	OpCollectionCreate = "collection_create"
	OpCollectionDrop   = "collection_drop"
	OpDocWrite         = "doc_write"
	OpDocDelete        = "doc_delete"
	OpNoop             = "noop"
)

// Operation is one serialized write in the log.
type Operation struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection,omitempty"`
	Schema     *schema.Schema  `json:"schema,omitempty"`
	Mode       string          `json:"mode,omitempty"`
	Document   json.RawMessage `json:"document,omitempty"`
	DocID      string          `json:"doc_id,omitempty"`
}

// ApplyResult is the outcome of applying one committed operation.
type ApplyResult struct {
	Err      error
	Document schema.Document
}

// fsm applies committed log entries against the collection manager. The
// store write happens inside the manager's apply path, so index mutation and
// persistence commit together.
type fsm struct {
	manager *collection.Manager
	st      *store.Store
	logger  *slog.Logger
}

func newFSM(manager *collection.Manager, st *store.Store) *fsm {
	return &fsm{
		manager: manager,
		st:      st,
		logger:  slog.Default().With("component", "replication-fsm"),
	}
}

// Apply is invoked by raft once a log entry is committed.
func (f *fsm) Apply(entry *raft.Log) any {
	var op Operation
	if err := json.Unmarshal(entry.Data, &op); err != nil {
		f.logger.Error("undecodable log entry", "index", entry.Index, "error", err)
		return ApplyResult{Err: fmt.Errorf("decoding log entry %d: %w", entry.Index, err)}
	}
	return f.apply(op)
}

func (f *fsm) apply(op Operation) ApplyResult {
	switch op.Type {
	case OpNoop:
		return ApplyResult{}

	case OpCollectionCreate:
		if op.Schema == nil {
			return ApplyResult{Err: fmt.Errorf("collection_create without a schema")}
		}
		_, err := f.manager.Create(op.Collection, *op.Schema)
		return ApplyResult{Err: err}

	case OpCollectionDrop:
		return ApplyResult{Err: f.manager.Drop(op.Collection)}

	case OpDocWrite:
		c, err := f.manager.Get(op.Collection)
		if err != nil {
			return ApplyResult{Err: err}
		}
		var doc schema.Document
		if err := json.Unmarshal(op.Document, &doc); err != nil {
			return ApplyResult{Err: fmt.Errorf("decoding document: %w", err)}
		}
		stored, err := c.Add(doc, collection.WriteMode(op.Mode))
		return ApplyResult{Err: err, Document: stored}

	case OpDocDelete:
		c, err := f.manager.Get(op.Collection)
		if err != nil {
			return ApplyResult{Err: err}
		}
		doc, err := c.Remove(op.DocID)
		return ApplyResult{Err: err, Document: doc}

	default:
		return ApplyResult{Err: fmt.Errorf("unknown operation type %q", op.Type)}
	}
}

// Snapshot returns a consistent checkpoint of the persistent store.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return &storeSnapshot{st: f.st}, nil
}

// Restore replaces the store contents with the snapshot and rebuilds every
// collection index from the restored store.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	if err := f.st.Restore(rc); err != nil {
		return fmt.Errorf("restoring store from snapshot: %w", err)
	}
	if err := f.manager.Reload(); err != nil {
		return fmt.Errorf("reloading collections after snapshot: %w", err)
	}
	f.logger.Info("snapshot installed")
	return nil
}

// storeSnapshot streams the store file into the snapshot sink.
type storeSnapshot struct {
	st *store.Store
}

func (s *storeSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := s.st.Backup(sink); err != nil {
		sink.Cancel()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return sink.Close()
}

func (s *storeSnapshot) Release() {}
