package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/sherpa-network/sherpa/pkg/util"
)

const (
	// keyPrefix namespaces every key so a shared Redis instance stays usable.
	keyPrefix = "sherpa:"

	// maxTxRetries bounds optimistic-transaction retries under contention.
	maxTxRetries = 16
)

// Store is the persistence layer. All reads and writes go through Redis
// hashes plus secondary index keys; multi-key invariants are maintained with
// WATCH/MULTI transactions.
type Store struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	util.Debugf("store: connected to redis at %s (db %d)", addr, db)
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// recordKey maps a record ID like "lab:7" to its hash key.
func recordKey(id string) string {
	return keyPrefix + id
}

func seqKey(entity string) string {
	return keyPrefix + "seq:" + entity
}

// idxKey builds a secondary index key, e.g. idxKey("node", "bylab", labID).
func idxKey(parts ...string) string {
	return keyPrefix + "idx:" + strings.Join(parts, ":")
}

// entityOf extracts the entity name from a record ID.
func entityOf(id string) string {
	if i := strings.IndexByte(id, ':'); i > 0 {
		return id[:i]
	}
	return id
}

// nextID allocates a monotonically increasing record ID for an entity.
func (s *Store) nextID(ctx context.Context, entity string) (string, error) {
	n, err := s.client.Incr(ctx, seqKey(entity)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s id: %w", entity, err)
	}
	return fmt.Sprintf("%s:%d", entity, n), nil
}

// withTx runs fn under WATCH on the given keys, retrying on write conflicts.
func (s *Store) withTx(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction retries exhausted on %v: %w", keys, util.ErrUnavailable)
}

// getHash fetches a record hash, translating a missing key to ErrNotFound.
// HGETALL returns an empty map rather than an error for absent keys.
func (s *Store) getHash(ctx context.Context, id string) (map[string]string, error) {
	vals, err := s.client.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, util.NewNotFoundError(entityOf(id), id)
	}
	return vals, nil
}

// txGetHash is getHash inside a transaction callback.
func txGetHash(ctx context.Context, tx *redis.Tx, id string) (map[string]string, error) {
	vals, err := tx.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, util.NewNotFoundError(entityOf(id), id)
	}
	return vals, nil
}

// lookupIndex resolves a unique-index hash entry to a record ID.
func (s *Store) lookupIndex(ctx context.Context, key, field, entity, label string) (string, error) {
	id, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", util.NewNotFoundError(entity, label)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Flush removes every key in the sherpa namespace. Test helper only.
func (s *Store) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 512).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
