package collection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/internal/store"
	"github.com/voldyman/typesense/pkg/errors"
)

// Manager is the explicitly constructed root object owning every collection.
// It is threaded through the layers that need it rather than accessed as a
// process global.
type Manager struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	st          *store.Store
	logger      *slog.Logger
}

// NewManager creates a Manager over the given store and rebuilds all
// persisted collections into memory.
func NewManager(st *store.Store) (*Manager, error) {
	m := &Manager{
		collections: make(map[string]*Collection),
		st:          st,
		logger:      slog.Default().With("component", "collection-manager"),
	}
	if err := m.loadCollections(); err != nil {
		return nil, fmt.Errorf("loading collections: %w", err)
	}
	return m, nil
}

func (m *Manager) loadCollections() error {
	var metas []meta
	err := m.st.ScanPrefix("$CM_", func(key string, value []byte) error {
		var cm meta
		if err := json.Unmarshal(value, &cm); err != nil {
			return fmt.Errorf("decoding collection meta %s: %w", key, err)
		}
		metas = append(metas, cm)
		return nil
	})
	if err != nil {
		return err
	}
	for _, cm := range metas {
		nextSeq := uint32(0)
		if raw, found, err := m.st.Get(nextSeqKey(cm.Name)); err == nil && found {
			if n, perr := strconv.ParseUint(string(raw), 10, 32); perr == nil {
				nextSeq = uint32(n)
			}
		}
		c := newCollection(cm.Name, cm.Schema, m.st, cm.CreatedAt, nextSeq)
		if err := c.loadFromStore(); err != nil {
			c.close()
			return fmt.Errorf("rebuilding collection %s: %w", cm.Name, err)
		}
		m.collections[cm.Name] = c
	}
	m.logger.Info("collections loaded", "count", len(m.collections))
	return nil
}

// Create declares a new collection with the given schema.
func (m *Manager) Create(name string, s schema.Schema) (*Collection, error) {
	if name == "" || strings.HasPrefix(name, "$") {
		return nil, errors.Validation("invalid collection name %q", name)
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Validation("%v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.collections[name]; exists {
		return nil, errors.Newf(errors.ErrCollectionExists, 409, "a collection with name %s already exists", name)
	}

	cm := meta{Name: name, Schema: s, CreatedAt: nowUnix()}
	raw, err := json.Marshal(cm)
	if err != nil {
		return nil, fmt.Errorf("encoding collection meta: %w", err)
	}
	if err := m.st.Insert(metaKey(name), raw); err != nil {
		return nil, errors.Newf(errors.ErrDurability, 500, "persisting collection %s: %v", name, err)
	}

	c := newCollection(name, s, m.st, cm.CreatedAt, 0)
	m.collections[name] = c
	m.logger.Info("collection created", "collection", name, "fields", len(s.Fields))
	return c, nil
}

// Get returns a collection by name.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, errors.NotFound("no collection with name %s found", name)
	}
	return c, nil
}

// Drop removes a collection: its index worker is stopped and every persisted
// record is deleted.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	c, ok := m.collections[name]
	if ok {
		delete(m.collections, name)
	}
	m.mu.Unlock()
	if !ok {
		return errors.NotFound("no collection with name %s found", name)
	}
	c.close()

	var keys []string
	for _, prefix := range []string{name + "_@_", name + "_$_"} {
		if err := m.st.ScanPrefix(prefix, func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		}); err != nil {
			return err
		}
	}
	keys = append(keys, metaKey(name), nextSeqKey(name))
	for _, key := range keys {
		if err := m.st.Remove(key); err != nil {
			return errors.Newf(errors.ErrDurability, 500, "dropping collection %s: %v", name, err)
		}
	}
	m.logger.Info("collection dropped", "collection", name)
	return nil
}

// List returns summaries for every collection.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, c.Summary())
	}
	return out
}

// Reload drops every in-memory collection and rebuilds from the store; used
// after a replication snapshot install replaces the store contents.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collections {
		c.close()
	}
	m.collections = make(map[string]*Collection)
	return m.loadCollections()
}

// Close stops every collection worker.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collections {
		c.close()
	}
	m.collections = make(map[string]*Collection)
}
