// Package store wraps the disk-backed key-value store shared by all
// collections. It is thread-safe, and a snapshot is a single consistent copy
// of the store file, which makes replication snapshots a streaming copy.
package store

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

// Store is the process-wide persistent key-value store.
type Store struct {
	db     *bolt.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the store file under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	path := filepath.Join(dataDir, "typesense.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store bucket: %w", err)
	}
	return &Store{
		db:     db,
		path:   path,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// Path returns the store file's path.
func (s *Store) Path() string {
	return s.path
}

// Insert writes a key.
func (s *Store) Insert(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// InsertBatch writes several keys in one transaction.
func (s *Store) InsertBatch(pairs map[string][]byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for k, v := range pairs {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing batch of %d keys: %w", len(pairs), err)
	}
	return nil
}

// Get reads a key, reporting whether it exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return out, out != nil, nil
}

// Remove deletes a key.
func (s *Store) Remove(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// ScanPrefix visits every key with the given prefix in lexical order. The
// callback's value slice is only valid during the call.
func (s *Store) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning prefix %s: %w", prefix, err)
	}
	return nil
}

// Backup streams a consistent copy of the store file.
func (s *Store) Backup(w io.Writer) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("backing up store: %w", err)
	}
	return nil
}

// Restore replaces the store's contents with the snapshot read from r. The
// database handle is reopened on the new file.
func (s *Store) Restore(r io.Reader) error {
	tmp := s.path + ".restore"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating restore file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing restore file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing restore file: %w", err)
	}
	f.Close()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store before restore: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("swapping restored store: %w", err)
	}
	db, err := bolt.Open(s.path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("reopening restored store: %w", err)
	}
	s.db = db
	s.logger.Info("store restored from snapshot", "path", s.path)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
