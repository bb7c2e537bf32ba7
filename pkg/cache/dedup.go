package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DedupConfig holds deduplicator thresholds
type DedupConfig struct {
	TTL     time.Duration
	MaxSize int
}

// DefaultDedupConfig returns the default deduplication window
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		TTL:     5 * time.Second,
		MaxSize: 1000,
	}
}

// dedupEntry tracks one seen (method, params) key
type dedupEntry struct {
	key       string
	firstSeen time.Time
}

// Deduplicator suppresses exact repeats of a (method, params) submission
// within the TTL window. Entries live in an insertion-ordered list so the
// least-recently-seen entry is evicted in O(1) once the size cap is hit;
// capacity eviction, not TTL expiry, bounds memory under sustained load.
type Deduplicator struct {
	cfg DedupConfig

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	hits    int64
	now     func() time.Time
}

// NewDeduplicator creates a deduplicator with the given window and size cap
func NewDeduplicator(cfg DedupConfig) *Deduplicator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultDedupConfig().TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDedupConfig().MaxSize
	}

	return &Deduplicator{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// CheckAndMark atomically tests and records a submission. A key seen less
// than TTL ago reports duplicate without refreshing the entry; otherwise the
// entry is inserted or refreshed and the submission reports new. The second
// return value is the age of the duplicate entry.
func (d *Deduplicator) CheckAndMark(method string, params map[string]interface{}) (bool, time.Duration) {
	key, err := DedupKey(method, params)
	if err != nil {
		// Unhashable params cannot be deduplicated; treat as new.
		return false, 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if elem, ok := d.entries[key]; ok {
		entry := elem.Value.(*dedupEntry)
		age := now.Sub(entry.firstSeen)
		if age < d.cfg.TTL {
			d.hits++
			return true, age
		}
		// Expired entry: refresh in place and move to the back of the order.
		entry.firstSeen = now
		d.order.MoveToBack(elem)
		return false, 0
	}

	elem := d.order.PushBack(&dedupEntry{key: key, firstSeen: now})
	d.entries[key] = elem

	for len(d.entries) > d.cfg.MaxSize {
		oldest := d.order.Front()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(*dedupEntry).key)
	}

	return false, 0
}

// Len returns the number of tracked entries, expired or not
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Hits returns the number of suppressed duplicates
func (d *Deduplicator) Hits() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits
}

// Sweep removes expired entries and returns how many were dropped. Expiry is
// otherwise lazy: an entry older than TTL is treated as absent even before
// the sweeper reaches it.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for elem := d.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*dedupEntry)
		if now.Sub(entry.firstSeen) >= d.cfg.TTL {
			d.order.Remove(elem)
			delete(d.entries, entry.key)
			removed++
		}
		elem = next
	}
	return removed
}

// DedupKey computes the deterministic key for a (method, params) pair.
// json.Marshal writes map keys in sorted order, so semantically equal
// params canonicalize to the same bytes.
func DedupKey(method string, params map[string]interface{}) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize params: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
