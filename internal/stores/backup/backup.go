package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/crypto"
	"github.com/charlesng35/tandem/pkg/logger"
)

const (
	entityPrefix   = "entity/"
	snapshotPrefix = "snapshot/"
	digestPrefix   = "snapshot-digest/"

	defaultRetention = 24
	gcDiscardRatio   = 0.5
)

// Config controls where the backup store keeps its data.
type Config struct {
	Path     string
	InMemory bool
	// Retention is the number of snapshots kept per table.
	Retention int
}

// Store is the embedded backup store. It holds mirror copies of records under
// entity/<table>/<key> and digest-gated table snapshots under snapshot/<table>/<nanos>.
type Store struct {
	db        *badger.DB
	retention int
	inMemory  bool
	now       func() time.Time
	mu        sync.Mutex
	log       *zap.Logger
}

var (
	_ stores.Reader      = (*Store)(nil)
	_ stores.Upserter    = (*Store)(nil)
	_ stores.Snapshotter = (*Store)(nil)
)

type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Open opens or creates the badger database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("backup: path is required for persistent database")
	}

	log := logger.WithModule("stores.backup")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create backup directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{log: log.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Store{db: db, retention: retention, inMemory: cfg.InMemory, now: time.Now, log: log}, nil
}

// Close flushes and closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Name() stores.Name {
	return stores.Backup
}

func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("backup: database closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// CollectGarbage runs value log GC until nothing is left to rewrite.
func (s *Store) CollectGarbage() error {
	if s.inMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func entityKey(table, id string) []byte {
	return []byte(entityPrefix + table + "/" + id)
}

// Read loads one mirror copy.
func (s *Store) Read(_ context.Context, route stores.Route, id string, dest models.Entity) (err error) {
	defer observe("read", time.Now(), &err)

	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(route.Table, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return stores.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
}

// List iterates the table prefix and filters in process.
func (s *Store) List(_ context.Context, route stores.Route, filter stores.Filter, dest any) (err error) {
	defer observe("list", time.Now(), &err)

	var docs [][]byte
	prefix := []byte(entityPrefix + route.Table + "/")
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			docs = append(docs, val)
		}
		return nil
	})
	if err != nil {
		return err
	}
	selected, err := stores.SelectDocuments(docs, filter)
	if err != nil {
		return err
	}
	return stores.DecodeDocuments(selected, dest)
}

// Upsert writes a mirror copy. Expiring records carry a matching key TTL.
func (s *Store) Upsert(_ context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("upsert", time.Now(), &err)

	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	key := entityKey(route.Table, entity.EntityKey())

	var ttl time.Duration
	if expiring, ok := entity.(models.Expiring); ok && !expiring.ExpiresTime().IsZero() {
		ttl = expiring.ExpiresTime().Sub(s.now())
		if ttl <= 0 {
			return s.delete(key)
		}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Remove deletes a mirror copy if present.
func (s *Store) Remove(_ context.Context, route stores.Route, id string) (err error) {
	defer observe("remove", time.Now(), &err)

	return s.delete(entityKey(route.Table, id))
}

func (s *Store) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// WriteSnapshot stores payload as the newest snapshot of table unless its digest matches the
// previous one. Snapshots beyond the retention limit are pruned oldest first.
func (s *Store) WriteSnapshot(_ context.Context, table string, payload []byte) (written bool, err error) {
	defer observe("snapshot", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := []byte(crypto.Digest(string(payload)))
	digestKey := []byte(digestPrefix + table)

	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(digestKey)
		switch {
		case err == nil:
			previous, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if bytes.Equal(previous, digest) {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		keys, err := snapshotKeys(txn, table)
		if err != nil {
			return err
		}
		stamp := s.now().UnixNano()
		if n := len(keys); n > 0 {
			if last := snapshotStamp(keys[n-1]); stamp <= last {
				stamp = last + 1
			}
		}

		if err := txn.Set(snapshotKey(table, stamp), payload); err != nil {
			return err
		}
		if err := txn.Set(digestKey, digest); err != nil {
			return err
		}
		keys = append(keys, string(snapshotKey(table, stamp)))
		for len(keys) > s.retention {
			if err := txn.Delete([]byte(keys[0])); err != nil {
				return err
			}
			keys = keys[1:]
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if written {
		s.log.Debug("snapshot written", zap.String("table", table), zap.Int("bytes", len(payload)))
	}
	return written, nil
}

// Snapshots lists the retained snapshot keys of table, oldest first.
func (s *Store) Snapshots(_ context.Context, table string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		keys, err = snapshotKeys(txn, table)
		return err
	})
	return keys, err
}

// Snapshot returns the payload stored under a key returned by Snapshots.
func (s *Store) Snapshot(_ context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return stores.ErrNotFound
		}
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	return payload, err
}

func snapshotKey(table string, stamp int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", snapshotPrefix, table, stamp))
}

func snapshotStamp(key string) int64 {
	idx := strings.LastIndex(key, "/")
	stamp, _ := strconv.ParseInt(key[idx+1:], 10, 64)
	return stamp
}

func snapshotKeys(txn *badger.Txn, table string) ([]string, error) {
	prefix := []byte(snapshotPrefix + table + "/")
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys, nil
}

func observe(operation string, start time.Time, err *error) {
	var opErr error
	if err != nil && !errors.Is(*err, stores.ErrNotFound) {
		opErr = *err
	}
	monitoring.ObserveStoreOperation(string(stores.Backup), operation, opErr, time.Since(start))
}
