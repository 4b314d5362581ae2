// Package index maintains the id-to-path cache in the mirror's control
// directory. The cache is an accelerator only: the metadata records in
// the mirror are the source of truth, and every lookup is verified
// against the filesystem before being trusted.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// FileName is the index database file inside the control directory.
	FileName = "index.db"

	openTimeout = 5 * time.Second
)

var idsBucket = []byte("ids")

// Index maps remote node ids to mirror-relative directory paths.
type Index struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens or creates the index database at dir/index.db. A database
// that cannot be opened or initialized is deleted and recreated once;
// losing the cache only costs a rebuild scan.
func Open(dir string, logger *slog.Logger) (*Index, error) {
	path := filepath.Join(dir, FileName)

	db, err := open(path)
	if err != nil {
		logger.Warn("id index unreadable, recreating", "path", path, "error", err)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("removing corrupt index %s: %w", path, rmErr)
		}

		db, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("recreating index %s: %w", path, err)
		}
	}

	return &Index{db: db, logger: logger}, nil
}

func open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(idsBucket)

		return err
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// Close closes the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// Resolve returns the cached mirror-relative path for id. The second
// return is false when there is no entry. Callers must still verify the
// directory's metadata before trusting the binding; entries can go
// stale when the mirror is edited by hand.
func (i *Index) Resolve(id string) (string, bool) {
	var path string

	err := i.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(idsBucket).Get([]byte(id)); v != nil {
			path = string(v)
		}

		return nil
	})
	if err != nil || path == "" {
		return "", false
	}

	return path, true
}

// Update records or replaces the path binding for id.
func (i *Index) Update(id, path string) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(idsBucket).Put([]byte(id), []byte(path))
	})
	if err != nil {
		return fmt.Errorf("updating index entry for %s: %w", id, err)
	}

	return nil
}

// Delete removes the binding for id. Deleting an absent entry is a
// no-op.
func (i *Index) Delete(id string) error {
	err := i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(idsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("deleting index entry for %s: %w", id, err)
	}

	return nil
}

// RewritePrefix rewrites every entry whose path is oldDir or lies under
// it to use newDir, in one transaction. Called after a directory rename
// so descendant bindings do not go stale.
func (i *Index) RewritePrefix(oldDir, newDir string) error {
	oldPrefix := oldDir + "/"

	err := i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(idsBucket)

		type entry struct{ k, v []byte }

		var updates []entry

		err := b.ForEach(func(k, v []byte) error {
			p := string(v)

			switch {
			case p == oldDir:
				updates = append(updates, entry{k: append([]byte(nil), k...), v: []byte(newDir)})
			case strings.HasPrefix(p, oldPrefix):
				rewritten := newDir + "/" + p[len(oldPrefix):]
				updates = append(updates, entry{k: append([]byte(nil), k...), v: []byte(rewritten)})
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			if err := b.Put(u.k, u.v); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("rewriting index entries under %s: %w", oldDir, err)
	}

	return nil
}

// Rebuild replaces the entire index from a snapshot of id-to-path
// bindings gathered by scanning the mirror. Returns the entry count.
func (i *Index) Rebuild(entries map[string]string) (int, error) {
	err := i.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(idsBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(idsBucket)
		if err != nil {
			return err
		}

		for id, path := range entries {
			if err := b.Put([]byte(id), []byte(path)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuilding index: %w", err)
	}

	i.logger.Debug("id index rebuilt", "entries", len(entries))

	return len(entries), nil
}
