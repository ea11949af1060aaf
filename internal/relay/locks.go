package relay

import (
	"hash/fnv"
	"sync"
)

// keyLocks serialises mapping updates per source message. Keys share a fixed set
// of stripes, so unrelated messages may occasionally wait on each other.
type keyLocks struct {
	stripes [64]sync.Mutex
}

// lock acquires the stripe for key and returns its unlock func.
func (l *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}
