package vt

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCacheSize is the CSI cache capacity used when none is configured.
const DefaultCacheSize = 256

const maxCachedParams = 16

// csiKey identifies a control sequence by its params, intermediates and
// final byte. It is a comparable value so lookups do not allocate.
type csiKey struct {
	final   byte
	private byte
	ninter  uint8
	nparams uint8
	inter   [maxIntermediates]byte
	params  [maxCachedParams]uint16
}

func makeCSIKey(a *Action) (csiKey, bool) {
	if len(a.Params) > maxCachedParams || len(a.Intermediates) > maxIntermediates {
		return csiKey{}, false
	}
	k := csiKey{
		final:   a.Final,
		private: a.Private,
		ninter:  uint8(len(a.Intermediates)),
		nparams: uint8(len(a.Params)),
	}
	copy(k.inter[:], a.Intermediates)
	for i, v := range a.Params {
		k.params[i] = uint16(v)
	}
	return k, true
}

// CacheStats reports CSI cache effectiveness.
type CacheStats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Enabled  bool   `json:"enabled"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CSICache remembers the compiled form of recently seen control
// sequences. It is owned by one interpreter and not safe for concurrent use.
type CSICache struct {
	lru      *simplelru.LRU[csiKey, csiOp]
	capacity int
	enabled  bool
	hits     uint64
	misses   uint64
}

// NewCSICache creates a cache of the given capacity. A disabled cache
// never stores anything and every lookup is a miss.
func NewCSICache(capacity int, enabled bool) *CSICache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	c := &CSICache{capacity: capacity, enabled: enabled}
	if enabled {
		// NewLRU only fails for a non-positive size.
		c.lru, _ = simplelru.NewLRU[csiKey, csiOp](capacity, nil)
	}
	return c
}

func (c *CSICache) get(k csiKey) (csiOp, bool) {
	if !c.enabled {
		c.misses++
		return csiOp{}, false
	}
	op, ok := c.lru.Get(k)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return op, ok
}

func (c *CSICache) put(k csiKey, op csiOp) {
	if !c.enabled {
		return
	}
	c.lru.Add(k, op)
}

// Stats returns a snapshot of the counters.
func (c *CSICache) Stats() CacheStats {
	s := CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		Capacity: c.capacity,
		Enabled:  c.enabled,
	}
	if c.enabled {
		s.Size = c.lru.Len()
	}
	return s
}

// Reset drops every entry and zeroes the counters.
func (c *CSICache) Reset() {
	if c.enabled {
		c.lru.Purge()
	}
	c.hits, c.misses = 0, 0
}
