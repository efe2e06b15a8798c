// Package executor runs SQL against catalog data sources, auto-selecting
// the engine and caching normalized results and schema snapshots.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/observability"
	"github.com/querymend/querymend/core/runtime/engines"
	"github.com/querymend/querymend/core/schema"
)

const schemaTTL = 5 * time.Minute

// Executor executes statements against data sources.
type Executor struct {
	catalog catalog.Catalog
	manager *engines.Manager
	cache   ResultCache
	ttl     time.Duration
	log     *logger.Logger

	snapMu    sync.RWMutex
	snapshots map[string]snapshotEntry
}

type snapshotEntry struct {
	snap      *schema.Snapshot
	fetchedAt time.Time
}

// New creates a new executor.
func New(cat catalog.Catalog, manager *engines.Manager, cache ResultCache, ttl time.Duration) *Executor {
	return &Executor{
		catalog:   cat,
		manager:   manager,
		cache:     cache,
		ttl:       ttl,
		log:       logger.New("runtime:executor"),
		snapshots: make(map[string]snapshotEntry),
	}
}

// Execute runs a statement against the named data source with the provided
// context. The context allows for request cancellation and timeout
// propagation. Non-empty results are cached.
func (e *Executor) Execute(ctx context.Context, sourceID, statement string) (*engines.Result, error) {
	ds, err := e.catalog.Get(sourceID)
	if err != nil {
		return nil, err
	}

	key := buildCacheKey(sourceID, statement)
	if result, ok := e.cache.Get(ctx, key); ok {
		e.log.Debugf("Cache hit for source '%s'", sourceID)
		return result, nil
	}

	eng, err := e.manager.Ensure(ctx, ds)
	if err != nil {
		return nil, err
	}

	e.log.Debugf("Executing on '%s' (%s): %s", sourceID, eng.Dialect(), statement)
	start := time.Now()
	result, err := eng.Execute(ctx, statement)
	observability.RecordEngineQuery(ctx, sourceID, string(eng.Dialect()),
		err == nil, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}

	// Empty results are not cached: the repair loop may broaden the query
	// and should not be answered from a stale empty entry.
	if result.RowCount > 0 {
		e.cache.Set(ctx, key, result, e.ttl)
	}
	return result, nil
}

// Snapshot returns the introspected schema for a data source, cached for a
// short window.
func (e *Executor) Snapshot(ctx context.Context, sourceID string) (*schema.Snapshot, error) {
	e.snapMu.RLock()
	entry, ok := e.snapshots[sourceID]
	e.snapMu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < schemaTTL {
		return entry.snap, nil
	}

	ds, err := e.catalog.Get(sourceID)
	if err != nil {
		return nil, err
	}
	eng, err := e.manager.Ensure(ctx, ds)
	if err != nil {
		return nil, err
	}

	snap, err := schema.Introspect(ctx, engineQuerier{eng}, ds.EffectiveDialect())
	if err != nil {
		return nil, err
	}

	e.snapMu.Lock()
	e.snapshots[sourceID] = snapshotEntry{snap: snap, fetchedAt: time.Now()}
	e.snapMu.Unlock()
	return snap, nil
}

// InvalidateCaches drops cached results and schema snapshots. Wired to
// catalog reloads.
func (e *Executor) InvalidateCaches() {
	e.cache.Invalidate()
	e.snapMu.Lock()
	e.snapshots = make(map[string]snapshotEntry)
	e.snapMu.Unlock()
	e.log.Info("Caches invalidated")
}

// Close releases the cache backend.
func (e *Executor) Close() {
	e.cache.Close()
}

// engineQuerier adapts an Engine to the schema introspection interface.
type engineQuerier struct {
	eng engines.Engine
}

func (q engineQuerier) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	result, err := q.eng.Execute(ctx, statement)
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}
