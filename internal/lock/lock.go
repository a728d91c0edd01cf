package lock

import (
	"context"
	"sync"
	"time"
)

// Locker hands out short-lived exclusive leases on a key. ok is false when another holder has the
// key; release is then nil. Leases expire after ttl so a crashed holder cannot block the key forever.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type lease struct {
	id      uint64
	expires time.Time
}

// MemoryLocker serializes holders inside one process.
type MemoryLocker struct {
	mu     sync.Mutex
	held   map[string]lease
	nextID uint64
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]lease{}, now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	l.nextID++
	id := l.nextID
	l.held[key] = lease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// A lease that expired and was re-taken belongs to someone else now.
			if cur, ok := l.held[key]; ok && cur.id == id {
				delete(l.held, key)
			}
		})
	}
	return release, true, nil
}
