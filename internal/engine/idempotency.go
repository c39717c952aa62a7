package engine

import (
	"container/list"
	"fmt"

	"LendLedger/internal/observability"
)

// IdempotencyChecker implements two-tier instruction deduplication:
// an in-memory LRU in front of a Postgres lookup over the event log.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker is the interface for the Postgres dedup lookup.
type DBIdempotencyChecker interface {
	IsDuplicate(op string, key string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks whether the instruction has been processed
// (two-tier lookup).
func (ic *IdempotencyChecker) IsDuplicate(op string, key string) bool {
	compositeKey := compositeKeyOf(op, key)

	// Tier 1: LRU check (hot path)
	if ic.lru.contains(compositeKey) {
		ic.recordDuplicate(op, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(op, key)
		if err != nil {
			// Conservative: a DB fault must not block processing, so
			// assume not duplicate.
			return false
		}
		if isDup {
			ic.recordDuplicate(op, "postgres")
			// Cache so we don't hit the DB again for this key.
			ic.lru.add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds the key to the LRU after successful processing.
func (ic *IdempotencyChecker) MarkProcessed(op string, key string) {
	before := ic.lru.evictions
	ic.lru.add(compositeKeyOf(op, key))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.size()))
		if evicted := ic.lru.evictions - before; evicted > 0 {
			ic.metrics.DedupLRUEvictions.Add(float64(evicted))
		}
	}
}

// Warm preloads composite keys, used on restart to avoid cold-path DB
// lookups for recently processed instructions.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// RecentKeys returns up to limit composite keys, most recent first.
// Snapshots carry these so a restart can warm the LRU without touching
// the database.
func (ic *IdempotencyChecker) RecentKeys(limit int) []string {
	keys := make([]string, 0, limit)
	for elem := ic.lru.lruList.Front(); elem != nil && len(keys) < limit; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

func (ic *IdempotencyChecker) recordDuplicate(op, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(op, tier).Inc()
	}
}

func compositeKeyOf(op, key string) string {
	return fmt.Sprintf("%s:%s", op, key)
}

// idempotencyLRU is an LRU cache for instruction keys.
// Not thread-safe — only accessed from the single engine goroutine.
type idempotencyLRU struct {
	capacity  int
	cache     map[string]*list.Element
	lruList   *list.List
	evictions int64
}

type lruEntry struct {
	key string
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *idempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

func (lru *idempotencyLRU) size() int {
	return lru.lruList.Len()
}
