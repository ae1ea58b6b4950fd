// Package memory implements the KV and snapshot ports in process memory. It
// backs tests and the "memory" store mode; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

var _ driven.KVStore = (*KV)(nil)

// KV is a goroutine-safe in-memory KVStore.
type KV struct {
	mu sync.RWMutex // multi-key writes hold it exclusively, multi-key reads shared
	c  *gocache.Cache
}

// NewKV creates an empty KV whose entries never expire.
func NewKV() *KV {
	return &KV{c: gocache.New(gocache.NoExpiration, 0)}
}

func (k *KV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := k.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (k *KV) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := k.c.Get(key); ok {
			s, _ := v.(string)
			out[key] = s
		}
	}
	return out, nil
}

func (k *KV) Set(_ context.Context, key, value string) error {
	k.c.Set(key, value, gocache.NoExpiration)
	return nil
}

func (k *KV) SetMany(_ context.Context, pairs map[string]string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, value := range pairs {
		k.c.Set(key, value, gocache.NoExpiration)
	}
	return nil
}

func (k *KV) Delete(_ context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		k.c.Delete(key)
	}
	return nil
}

// Len reports how many keys are stored.
func (k *KV) Len() int {
	return k.c.ItemCount()
}
