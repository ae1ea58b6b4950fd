// Package redis implements the KV and snapshot ports on Redis, for
// deployments where several hub processes share one user's credentials.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	rdb "github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

var (
	_ driven.KVStore       = (*Store)(nil)
	_ driven.SnapshotStore = (*Store)(nil)
)

// Store keeps KV entries as plain string keys and snapshots as one hash per
// source, all under a common prefix.
type Store struct {
	c      rdb.UniversalClient
	prefix string
}

// New connects to addr. prefix namespaces every key this store writes.
func New(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	c := rdb.NewClient(&rdb.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewWithClient(c, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c rdb.UniversalClient, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Store{c: c, prefix: prefix}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.c.Close()
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) snapshotKey(source model.Provider) string {
	return s.prefix + "snapshot:" + string(source)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.c.Get(ctx, s.key(key)).Result()
	if errors.Is(err, rdb.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %q: %w", key, err)
	}
	return v, true, nil
}

// GetMany reads keys with one MGET, which Redis executes atomically.
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	vals, err := s.c.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("get kv batch: %w", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.c.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set kv %q: %w", key, err)
	}
	return nil
}

// SetMany writes all pairs in a MULTI/EXEC transaction.
func (s *Store) SetMany(ctx context.Context, pairs map[string]string) error {
	_, err := s.c.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		for k, v := range pairs {
			pipe.Set(ctx, s.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set kv batch: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.c.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

// maxSwapAttempts bounds optimistic retries of a snapshot Put.
const maxSwapAttempts = 5

func snapshotField(e model.SnapshotEntry) string {
	return string(e.Category) + "|" + e.Key.Date + "|" + e.Key.Time
}

// Put swaps the fields in snap's span inside a WATCH/MULTI transaction,
// retrying when another writer touches the hash first.
func (s *Store) Put(ctx context.Context, source model.Provider, snap model.Snapshot) error {
	first, last, ok := snap.Span()
	if !ok {
		return nil
	}
	entries := snap.Entries()
	values := make(map[string]any, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e.Record)
		if err != nil {
			return fmt.Errorf("marshal %s record %s: %w", e.Category, e.Key.Date, err)
		}
		values[snapshotField(e)] = string(payload)
	}

	key := s.snapshotKey(source)
	swap := func(tx *rdb.Tx) error {
		fields, err := tx.HKeys(ctx, key).Result()
		if err != nil {
			return err
		}
		var stale []string
		for _, f := range fields {
			parts := strings.SplitN(f, "|", 3)
			if len(parts) == 3 && parts[1] >= first && parts[1] <= last {
				stale = append(stale, f)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
			if len(stale) > 0 {
				pipe.HDel(ctx, key, stale...)
			}
			pipe.HSet(ctx, key, values)
			return nil
		})
		return err
	}

	for range maxSwapAttempts {
		err := s.c.Watch(ctx, swap, key)
		if errors.Is(err, rdb.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("put %s snapshot: %w", source, err)
		}
		return nil
	}
	return fmt.Errorf("put %s snapshot: hash kept changing after %d attempts", source, maxSwapAttempts)
}

func (s *Store) Load(ctx context.Context, source model.Provider, r model.DateRange) (model.Snapshot, error) {
	fields, err := s.c.HGetAll(ctx, s.snapshotKey(source)).Result()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load %s snapshot: %w", source, err)
	}

	type row struct {
		category model.Category
		key      model.RecordKey
		payload  string
	}
	rows := make([]row, 0, len(fields))
	for field, payload := range fields {
		parts := strings.SplitN(field, "|", 3)
		if len(parts) != 3 || !r.Contains(parts[1]) {
			continue
		}
		rows = append(rows, row{model.Category(parts[0]), model.RecordKey{Date: parts[1], Time: parts[2]}, payload})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key.Less(rows[j].key) })

	var snap model.Snapshot
	for _, rw := range rows {
		// Undecodable payloads are skipped; the snapshot is advisory.
		_ = snap.AppendEncoded(rw.category, []byte(rw.payload))
	}
	return snap, nil
}

func (s *Store) Clear(ctx context.Context, source model.Provider) error {
	if err := s.c.Del(ctx, s.snapshotKey(source)).Err(); err != nil {
		return fmt.Errorf("clear %s snapshot: %w", source, err)
	}
	return nil
}
