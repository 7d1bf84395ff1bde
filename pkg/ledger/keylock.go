package ledger

import (
	"hash/fnv"
	"sync"
)

// KeyLocks serializes read-incumbent-through-commit regions per
// (subject, predicate) key. Two concurrent proposals for the same functional
// key must not both read "no incumbent" and both admit; proposals for
// different keys proceed fully in parallel. Striped to bound memory.
type KeyLocks struct {
	stripes [64]sync.Mutex
}

// NewKeyLocks creates the lock set.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{}
}

// Lock acquires the stripe for a key and returns its unlock function.
func (k *KeyLocks) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	stripe := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	stripe.Lock()
	return stripe.Unlock
}

// LockKey builds the canonical lock key for a subject and predicate.
func LockKey(subjectID, predicate string) string {
	return subjectID + "\x1f" + predicate
}
