package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
)

const (
	defaultPrefix = "tandem:"
	scanCount     = 200
	mgetChunk     = 200
	maxTxAttempts = 3
)

// Config holds the Redis connection settings for the real-time document store.
type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Store keeps JSON documents in Redis under <prefix><table>:<key>. Records that expire are
// written with a matching key TTL.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var (
	_ stores.Reader   = (*Store)(nil)
	_ stores.Writer   = (*Store)(nil)
	_ stores.Upserter = (*Store)(nil)
)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, cfg.Prefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Name() stores.Name {
	return stores.Realtime
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(route stores.Route, id string) string {
	return s.prefix + route.Table + ":" + id
}

// Read loads one document.
func (s *Store) Read(ctx context.Context, route stores.Route, id string, dest models.Entity) (err error) {
	defer observe("read", time.Now(), &err)

	data, err := s.client.Get(ctx, s.key(route, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return stores.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// List scans the route's keyspace and filters the documents in process.
func (s *Store) List(ctx context.Context, route stores.Route, filter stores.Filter, dest any) (err error) {
	defer observe("list", time.Now(), &err)

	docs, err := s.documents(ctx, route)
	if err != nil {
		return err
	}
	selected, err := stores.SelectDocuments(docs, filter)
	if err != nil {
		return err
	}
	return stores.DecodeDocuments(selected, dest)
}

// Insert writes a new document, failing with stores.ErrConflict when the key exists.
func (s *Store) Insert(ctx context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("insert", time.Now(), &err)

	data, ttl, expired, err := s.encode(entity)
	if err != nil {
		return err
	}
	if expired {
		return nil
	}
	ok, err := s.client.SetNX(ctx, s.key(route, entity.EntityKey()), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", stores.ErrConflict, route.Table, entity.EntityKey())
	}
	return nil
}

// Update replaces an existing document under optimistic locking.
func (s *Store) Update(ctx context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("update", time.Now(), &err)

	data, ttl, expired, err := s.encode(entity)
	if err != nil {
		return err
	}
	key := s.key(route, entity.EntityKey())

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return stores.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if expired {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Delete removes a document, failing with stores.ErrNotFound when it is absent.
func (s *Store) Delete(ctx context.Context, route stores.Route, id string) (err error) {
	defer observe("delete", time.Now(), &err)

	n, err := s.client.Del(ctx, s.key(route, id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return stores.ErrNotFound
	}
	return nil
}

// Upsert writes a mirror copy. An already expired record is removed instead.
func (s *Store) Upsert(ctx context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("upsert", time.Now(), &err)

	data, ttl, expired, err := s.encode(entity)
	if err != nil {
		return err
	}
	key := s.key(route, entity.EntityKey())
	if expired {
		return s.client.Del(ctx, key).Err()
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Remove deletes a mirror copy if present.
func (s *Store) Remove(ctx context.Context, route stores.Route, id string) (err error) {
	defer observe("remove", time.Now(), &err)

	return s.client.Del(ctx, s.key(route, id)).Err()
}

func (s *Store) encode(entity models.Entity) ([]byte, time.Duration, bool, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, 0, false, err
	}
	expiring, ok := entity.(models.Expiring)
	if !ok || expiring.ExpiresTime().IsZero() {
		return data, 0, false, nil
	}
	ttl := expiring.ExpiresTime().Sub(s.now())
	if ttl <= 0 {
		return nil, 0, true, nil
	}
	return data, ttl, false, nil
}

func (s *Store) documents(ctx context.Context, route stores.Route) ([][]byte, error) {
	pattern := s.prefix + route.Table + ":*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	docs := make([][]byte, 0, len(keys))
	for start := 0; start < len(keys); start += mgetChunk {
		end := start + mgetChunk
		if end > len(keys) {
			end = len(keys)
		}
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, err
		}
		for _, value := range values {
			// Keys can expire between SCAN and MGET.
			str, ok := value.(string)
			if !ok {
				continue
			}
			docs = append(docs, []byte(str))
		}
	}
	return docs, nil
}

func observe(operation string, start time.Time, err *error) {
	var opErr error
	if err != nil && !errors.Is(*err, stores.ErrNotFound) && !errors.Is(*err, stores.ErrConflict) {
		opErr = *err
	}
	monitoring.ObserveStoreOperation(string(stores.Realtime), operation, opErr, time.Since(start))
}
