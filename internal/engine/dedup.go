package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// idSep separates digest fields so adjacent values cannot collide
// ("ab"+"c" vs "a"+"bc").
const idSep = "\x00"

// ComputeID returns the stable identity digest for a post: 32 hex characters
// (128 bits of SHA-256). Inputs are hashed as raw UTF-8 bytes, so non-ASCII
// authors and content are handled without any lossy conversion.
//
// When exact is true the source markup carried a machine-readable timestamp
// and the digest covers author plus the precise instant. Otherwise it covers
// author, content, and the instant rendered at second precision.
func ComputeID(author, content string, instant time.Time, exact bool) string {
	h := sha256.New()
	h.Write([]byte(author))
	h.Write([]byte(idSep))
	if exact {
		h.Write([]byte(instant.UTC().Format(time.RFC3339Nano)))
	} else {
		h.Write([]byte(content))
		h.Write([]byte(idSep))
		h.Write([]byte(instant.UTC().Format(time.RFC3339)))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]) // 128-bit digest
}

// FilterNovel returns the candidates whose id is not in known, preserving
// input order. A candidate repeated within the batch is kept only once: the
// first occurrence wins. known is not modified.
func FilterNovel(candidates []types.Post, known map[string]struct{}) []types.Post {
	seen := make(map[string]struct{}, len(known)+len(candidates))
	for id := range known {
		seen[id] = struct{}{}
	}

	novel := make([]types.Post, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		novel = append(novel, p)
	}
	return novel
}

// Deduplicator tracks post ids seen within one collection run.
type Deduplicator struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewDeduplicator creates a Deduplicator with the given estimated capacity.
func NewDeduplicator(estimatedCapacity int) *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]struct{}, estimatedCapacity),
	}
}

// IsSeen returns true if the post id has been seen before.
func (d *Deduplicator) IsSeen(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[id]
	return ok
}

// MarkSeen marks a post id as seen.
func (d *Deduplicator) MarkSeen(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = struct{}{}
}

// Take returns the posts not yet seen, marking them seen as it goes.
// Duplicates within the batch are taken once.
func (d *Deduplicator) Take(candidates []types.Post) []types.Post {
	d.mu.Lock()
	defer d.mu.Unlock()

	novel := make([]types.Post, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := d.seen[p.ID]; ok {
			continue
		}
		d.seen[p.ID] = struct{}{}
		novel = append(novel, p)
	}
	return novel
}

// Count returns the number of unique post ids seen.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// Reset clears all seen ids.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}
