package vault

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
)

// ConnectionKey identifies one provider connection for locking purposes.
type ConnectionKey struct {
	TenantID string
	UserID   string
	Provider string
}

func (k ConnectionKey) String() string {
	return k.TenantID + "/" + k.UserID + "/" + k.Provider
}

// ConnectionLocker serializes refresh attempts per connection. Two
// implementations exist: an in-process keyed mutex for single-node
// deployments, and a PostgreSQL advisory lock that holds across replicas.
type ConnectionLocker interface {
	// Lock blocks until the key's lock is acquired or ctx is done. The
	// returned function releases the lock and must always be called.
	Lock(ctx context.Context, key ConnectionKey) (unlock func(), err error)
}

// MemoryLocker is a map of per-key channel mutexes. Entries are
// reference-counted and removed when the last waiter releases, so the map
// does not grow with the number of connections ever seen.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[ConnectionKey]*memoryLock
}

type memoryLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process connection locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[ConnectionKey]*memoryLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key ConnectionKey) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &memoryLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			l.release(key, entry)
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) release(key ConnectionKey, entry *memoryLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// AdvisoryLocker serializes refreshes across replicas with PostgreSQL
// session-level advisory locks. Each acquisition pins a dedicated connection
// for the lock's lifetime, since advisory locks are owned by the session.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates a locker over the shared connection pool.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key ConnectionKey) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	id := advisoryLockID(key)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock for %s: %w", key, err)
	}

	return func() {
		// Unlock must not depend on the caller's (possibly canceled) ctx.
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", id)
		conn.Close()
	}, nil
}

// advisoryLockID maps a connection key onto the 64-bit advisory lock space.
func advisoryLockID(key ConnectionKey) int64 {
	h := fnv.New64a()
	h.Write([]byte(key.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(key.UserID))
	h.Write([]byte{0})
	h.Write([]byte(key.Provider))
	return int64(h.Sum64())
}
