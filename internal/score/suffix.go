// Package score aggregates weighted stage results into attempt percentages.
package score

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
)

// SuffixWeights maps each stage to the total weight still reachable from it
// along the authored default path, the stage itself included.
type SuffixWeights map[domain.StageID]float64

// Of returns the suffix weight of a stage; the end of the exercise has none
func (w SuffixWeights) Of(id domain.StageID) float64 {
	return w[id]
}

// ComputeSuffix walks the default path from every stage. A path that comes
// back to a stage already on it (repeat or longer cycle) stops there, so each
// stage weight is counted at most once per suffix.
func ComputeSuffix(e *domain.Exercise) SuffixWeights {
	out := make(SuffixWeights)
	for _, s := range e.Stages() {
		var (
			total float64
			seen  = make(map[domain.StageID]bool)
		)
		for current, ok := s, true; ok && !seen[current.ID]; {
			seen[current.ID] = true
			total += current.Weight
			next := current.DefaultTransition.Target
			if next == domain.EndOfExercise {
				break
			}
			current, ok = e.Stage(next)
		}
		out[s.ID] = total
	}
	return out
}

// Cache keeps suffix weights per exercise. An entry is reused only for the
// same exercise value with an unchanged fingerprint, so a reloaded exercise
// and stage-level edits (targets, weights) both recompute.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]cacheEntry
}

type cacheEntry struct {
	exercise    *domain.Exercise
	fingerprint uint64
	weights     SuffixWeights
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[int64]cacheEntry)}
}

// Get returns the suffix weights for the current shape of e
func (c *Cache) Get(e *domain.Exercise) SuffixWeights {
	fp := fingerprint(e)
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[e.ID]; ok && entry.exercise == e && entry.fingerprint == fp {
		return entry.weights
	}
	w := ComputeSuffix(e)
	c.entries[e.ID] = cacheEntry{exercise: e, fingerprint: fp, weights: w}
	return w
}

// fingerprint hashes everything ComputeSuffix reads: the revision, and per
// stage its id, weight and default target
func fingerprint(e *domain.Exercise) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 0, 8)
	put := func(v uint64) {
		buf = binary.LittleEndian.AppendUint64(buf[:0], v)
		h.Write(buf)
	}
	put(e.Revision())
	for _, s := range e.Stages() {
		put(uint64(s.ID))
		put(math.Float64bits(s.Weight))
		put(uint64(s.DefaultTransition.Target))
	}
	return h.Sum64()
}
