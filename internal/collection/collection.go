// Package collection implements the document-facing API of the engine: a
// Collection owns one index (with its worker goroutine), the persisted
// documents and id mappings, and the search entrypoint that turns executor
// output into API responses. A Manager is the explicit root object owning all
// collections against one store.
package collection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/voldyman/typesense/internal/index"
	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/search/executor"
	"github.com/voldyman/typesense/internal/store"
	"github.com/voldyman/typesense/pkg/errors"
)

// WriteMode selects add semantics.
type WriteMode string

const (
	ModeCreate WriteMode = "create"
	ModeUpsert WriteMode = "upsert"
	ModeUpdate WriteMode = "update"
)

// Collection binds a schema, its index worker, and the persisted documents.
type Collection struct {
	name      string
	schema    schema.Schema
	createdAt int64

	idx  *index.Index
	exec *executor.Executor
	st   *store.Store

	nextSeqID uint32
	synonyms  [][]string

	logger *slog.Logger
}

// meta is the persisted collection metadata record.
type meta struct {
	Name      string        `json:"name"`
	Schema    schema.Schema `json:"schema"`
	CreatedAt int64         `json:"created_at"`
}

func metaKey(name string) string    { return "$CM_" + name }
func nextSeqKey(name string) string { return "$CN_" + name }

func docIDKey(name, id string) string {
	return name + "_@_" + id
}

func seqKey(name string, seqID uint32) string {
	return fmt.Sprintf("%s_$_%010d", name, seqID)
}

func newCollection(name string, s schema.Schema, st *store.Store, createdAt int64, nextSeq uint32) *Collection {
	idx := index.New(name, s)
	c := &Collection{
		name:      name,
		schema:    s,
		createdAt: createdAt,
		idx:       idx,
		exec:      executor.New(idx),
		st:        st,
		nextSeqID: nextSeq,
		logger:    slog.Default().With("component", "collection", "collection", name),
	}
	go idx.Run()
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Schema returns the collection's schema.
func (c *Collection) Schema() schema.Schema { return c.schema }

// NumDocuments returns the live document count.
func (c *Collection) NumDocuments() int {
	var n int
	c.idx.Do(func() { n = c.idx.NumDocuments() })
	return n
}

// SetSynonyms installs the token groups expanded during search. Exactly one
// synonym tier is supported: synonym matches rank just below original-token
// matches.
func (c *Collection) SetSynonyms(groups [][]string) {
	c.synonyms = groups
}

// Summary describes the collection for listing endpoints.
type Summary struct {
	Name             string         `json:"name"`
	NumDocuments     int            `json:"num_documents"`
	Fields           []schema.Field `json:"fields"`
	DefaultSortField string         `json:"default_sorting_field"`
	CreatedAt        int64          `json:"created_at"`
}

// Summary returns the collection summary.
func (c *Collection) Summary() Summary {
	return Summary{
		Name:             c.name,
		NumDocuments:     c.NumDocuments(),
		Fields:           c.schema.Fields,
		DefaultSortField: c.schema.DefaultSortField,
		CreatedAt:        c.createdAt,
	}
}

// seqIDForDoc resolves a document id to its sequence-id.
func (c *Collection) seqIDForDoc(id string) (uint32, bool, error) {
	raw, found, err := c.st.Get(docIDKey(c.name, id))
	if err != nil || !found {
		return 0, false, err
	}
	n, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt seq-id mapping for doc %s: %w", id, err)
	}
	return uint32(n), true, nil
}

// fetchDoc loads the stored document for a sequence-id.
func (c *Collection) fetchDoc(seqID uint32) (schema.Document, error) {
	raw, found, err := c.st.Get(seqKey(c.name, seqID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound("could not find a document with seq id %d", seqID)
	}
	var doc schema.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding stored document %d: %w", seqID, err)
	}
	return doc, nil
}

// Get returns the stored document for a document id.
func (c *Collection) Get(id string) (schema.Document, error) {
	seqID, found, err := c.seqIDForDoc(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound("could not find a document with id: %s", id)
	}
	return c.fetchDoc(seqID)
}

// Add writes one document according to mode and returns the document as
// stored (with its id filled in).
func (c *Collection) Add(doc schema.Document, mode WriteMode) (schema.Document, error) {
	id, err := c.resolveID(doc, mode)
	if err != nil {
		return nil, err
	}
	doc["id"] = id

	seqID, exists, err := c.seqIDForDoc(id)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeCreate:
		if exists {
			return nil, errors.Conflict("a document with id %s already exists", id)
		}
	case ModeUpdate:
		if !exists {
			return nil, errors.NotFound("could not find a document with id: %s", id)
		}
	case ModeUpsert:
	default:
		return nil, errors.Validation("unknown write mode %s", string(mode))
	}

	if !exists {
		return doc, c.insertNew(doc, id)
	}
	return c.applyUpdate(doc, id, seqID, mode)
}

func (c *Collection) resolveID(doc schema.Document, mode WriteMode) (string, error) {
	v, present := doc["id"]
	if !present {
		if mode == ModeUpdate {
			return "", errors.Validation("document to update must carry an id")
		}
		return strconv.FormatUint(uint64(c.nextSeqID), 10), nil
	}
	id, ok := v.(string)
	if !ok {
		return "", errors.Validation("document id must be a string")
	}
	if id == "" {
		return "", errors.Validation("document id cannot be empty")
	}
	return id, nil
}

func (c *Collection) insertNew(doc schema.Document, id string) error {
	if err := index.ValidateDocument(doc, c.schema, false); err != nil {
		return err
	}
	seqID := c.nextSeqID
	points := index.GetPoints(doc, c.schema)

	var indexErr error
	c.idx.Do(func() {
		indexErr = c.idx.IndexDocument(doc, seqID, points, false)
	})
	if indexErr != nil {
		return indexErr
	}
	c.nextSeqID++

	if err := c.persistDoc(doc, id, seqID); err != nil {
		// compensating action: pull the document back out of the index
		c.idx.Do(func() { c.idx.RemoveDocument(seqID, doc, false) })
		c.nextSeqID--
		return errors.Newf(errors.ErrDurability, 500, "persisting document %s: %v", id, err)
	}
	return nil
}

func (c *Collection) persistDoc(doc schema.Document, id string, seqID uint32) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}
	return c.st.InsertBatch(map[string][]byte{
		docIDKey(c.name, id):  []byte(strconv.FormatUint(uint64(seqID), 10)),
		seqKey(c.name, seqID): raw,
		nextSeqKey(c.name):    []byte(strconv.FormatUint(uint64(c.nextSeqID), 10)),
	})
}

// applyUpdate merges the incoming fields over the stored document, reindexing
// only the fields whose tokenisation actually changed.
func (c *Collection) applyUpdate(updateDoc schema.Document, id string, seqID uint32, mode WriteMode) (schema.Document, error) {
	oldDoc, err := c.fetchDoc(seqID)
	if err != nil {
		return nil, err
	}

	if err := index.ValidateDocument(updateDoc, c.schema, true); err != nil {
		return nil, err
	}

	newDoc := make(schema.Document, len(oldDoc)+len(updateDoc))
	for k, v := range oldDoc {
		newDoc[k] = v
	}
	for k, v := range updateDoc {
		newDoc[k] = v
	}

	// restrict the reindex to changed fields
	reindexDoc := make(schema.Document, len(updateDoc))
	delDoc := make(schema.Document, len(updateDoc))
	for k, v := range updateDoc {
		if k == "id" {
			continue
		}
		reindexDoc[k] = v
		if old, ok := oldDoc[k]; ok {
			delDoc[k] = old
		}
	}

	points := index.GetPoints(newDoc, c.schema)

	var indexErr error
	c.idx.Do(func() {
		c.idx.ScrubReindexDoc(reindexDoc, delDoc, oldDoc)
		c.idx.RemoveDocument(seqID, delDoc, true)
		indexErr = c.idx.IndexDocument(reindexDoc, seqID, points, true)
		if indexErr != nil {
			// compensating action: restore the pre-update tokenisation
			c.idx.RemoveDocument(seqID, reindexDoc, true)
			if reapplyErr := c.idx.IndexDocument(delDoc, seqID, index.GetPoints(oldDoc, c.schema), true); reapplyErr != nil {
				c.logger.Error("failed to restore index after update failure",
					"doc_id", id,
					"error", reapplyErr,
				)
			}
		}
	})
	if indexErr != nil {
		return nil, indexErr
	}

	raw, err := json.Marshal(newDoc)
	if err != nil {
		return nil, fmt.Errorf("encoding document %s: %w", id, err)
	}
	if err := c.st.Insert(seqKey(c.name, seqID), raw); err != nil {
		return nil, errors.Newf(errors.ErrDurability, 500, "persisting document %s: %v", id, err)
	}
	return newDoc, nil
}

// AddResult is one record's outcome in a batch import.
type AddResult struct {
	Document schema.Document
	Err      error
}

// AddMany imports documents in order, continuing past per-record failures and
// reporting each record's outcome.
func (c *Collection) AddMany(docs []schema.Document, mode WriteMode) []AddResult {
	results := make([]AddResult, 0, len(docs))
	for _, doc := range docs {
		stored, err := c.Add(doc, mode)
		if err != nil {
			c.logger.Debug("batch record failed", "error", err)
		}
		results = append(results, AddResult{Document: stored, Err: err})
	}
	return results
}

// Remove deletes a document by id, tombstoning the stored record and purging
// every index entry. The sequence-id is not reused.
func (c *Collection) Remove(id string) (schema.Document, error) {
	seqID, found, err := c.seqIDForDoc(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NotFound("could not find a document with id: %s", id)
	}
	doc, err := c.fetchDoc(seqID)
	if err != nil {
		return nil, err
	}
	c.idx.Do(func() { c.idx.RemoveDocument(seqID, doc, false) })

	if err := c.st.Remove(seqKey(c.name, seqID)); err != nil {
		return nil, errors.Newf(errors.ErrDurability, 500, "removing document %s: %v", id, err)
	}
	if err := c.st.Remove(docIDKey(c.name, id)); err != nil {
		return nil, errors.Newf(errors.ErrDurability, 500, "removing document %s: %v", id, err)
	}
	return doc, nil
}

// RemoveIfFound deletes by sequence-id when present, reporting whether a
// document was removed.
func (c *Collection) RemoveIfFound(seqID uint32) (bool, error) {
	doc, err := c.fetchDoc(seqID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	id, _ := doc["id"].(string)
	if _, err := c.Remove(id); err != nil {
		return false, err
	}
	return true, nil
}

// loadFromStore rebuilds the in-memory index from the persisted documents.
func (c *Collection) loadFromStore() error {
	type stored struct {
		seqID uint32
		doc   schema.Document
	}
	var docs []stored
	prefix := c.name + "_$_"
	err := c.st.ScanPrefix(prefix, func(key string, value []byte) error {
		seq, err := strconv.ParseUint(key[len(prefix):], 10, 32)
		if err != nil {
			return fmt.Errorf("corrupt document key %s: %w", key, err)
		}
		var doc schema.Document
		if err := json.Unmarshal(value, &doc); err != nil {
			return fmt.Errorf("decoding stored document %s: %w", key, err)
		}
		docs = append(docs, stored{seqID: uint32(seq), doc: doc})
		return nil
	})
	if err != nil {
		return err
	}
	for _, d := range docs {
		points := index.GetPoints(d.doc, c.schema)
		var indexErr error
		c.idx.Do(func() {
			indexErr = c.idx.IndexDocument(d.doc, d.seqID, points, false)
		})
		if indexErr != nil {
			c.logger.Error("skipping unindexable stored document",
				"seq_id", d.seqID,
				"error", indexErr,
			)
		}
	}
	c.logger.Info("collection loaded from store", "num_documents", len(docs))
	return nil
}

// close stops the index worker.
func (c *Collection) close() {
	c.idx.Close()
}

func nowUnix() int64 {
	return time.Now().Unix()
}
