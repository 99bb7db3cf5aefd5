// Package keylock serializes commands per user with a fixed set of striped
// mutexes. Locking several keys always acquires stripes in ascending order,
// so commands touching overlapping users cannot deadlock.
package keylock

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

const DefaultStripes = 256

type Locker struct {
	stripes []sync.Mutex
}

func New(stripes int) *Locker {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, stripes)}
}

func (l *Locker) stripe(id uuid.UUID) int {
	return int(xxh3.Hash(id[:]) % uint64(len(l.stripes)))
}

// Lock acquires the stripes covering ids and returns the matching unlock.
// Duplicate ids and ids that share a stripe are locked once.
func (l *Locker) Lock(ids ...uuid.UUID) (unlock func()) {
	idx := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		s := l.stripe(id)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		idx = append(idx, s)
	}
	sort.Ints(idx)

	for _, i := range idx {
		l.stripes[i].Lock()
	}

	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}
