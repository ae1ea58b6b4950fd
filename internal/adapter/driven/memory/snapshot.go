package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

var _ driven.SnapshotStore = (*Snapshots)(nil)

// Snapshots is an in-memory SnapshotStore.
type Snapshots struct {
	// mu makes Put's purge and write one step for readers.
	mu sync.RWMutex
	c  *gocache.Cache
}

// NewSnapshots creates an empty snapshot store.
func NewSnapshots() *Snapshots {
	return &Snapshots{c: gocache.New(gocache.NoExpiration, 0)}
}

func snapshotKey(source model.Provider, e model.SnapshotEntry) string {
	return string(source) + "|" + string(e.Category) + "|" + e.Key.Date + "|" + e.Key.Time
}

func (s *Snapshots) Put(_ context.Context, source model.Provider, snap model.Snapshot) error {
	first, last, ok := snap.Span()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := string(source) + "|"
	for k, item := range s.c.Items() {
		e, isEntry := item.Object.(model.SnapshotEntry)
		if strings.HasPrefix(k, prefix) && isEntry && e.Key.Date >= first && e.Key.Date <= last {
			s.c.Delete(k)
		}
	}
	for _, e := range snap.Entries() {
		s.c.Set(snapshotKey(source, e), e, gocache.NoExpiration)
	}
	return nil
}

func (s *Snapshots) Load(_ context.Context, source model.Provider, r model.DateRange) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := string(source) + "|"
	var entries []model.SnapshotEntry
	for k, item := range s.c.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		e, ok := item.Object.(model.SnapshotEntry)
		if !ok || !r.Contains(e.Key.Date) {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Less(entries[j].Key) })

	var snap model.Snapshot
	for _, e := range entries {
		snap.Append(e)
	}
	return snap, nil
}

func (s *Snapshots) Clear(_ context.Context, source model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := string(source) + "|"
	for k := range s.c.Items() {
		if strings.HasPrefix(k, prefix) {
			s.c.Delete(k)
		}
	}
	return nil
}
