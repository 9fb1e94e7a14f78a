package store

import "context"

// HashKey maps an arbitrary string key to the stable 32-bit integer
// used as a Postgres advisory lock id. This is the documented hash
// (spec §4.A): for each byte, h = (h<<5) - h + c, truncated to 32
// bits. Equal inputs always hash to the same lock id.
func HashKey(key string) int32 {
	var h int32
	for i := 0; i < len(key); i++ {
		h = (h << 5) - h + int32(key[i])
	}
	return h
}

// WithLock acquires the advisory lock for key on a dedicated pinned
// connection, runs fn, and releases the lock on every exit path
// including a panic propagating out of fn.
func (g *Gateway) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	conn, err := g.db.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	lockID := HashKey(key)

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return err
	}
	defer conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, lockID)

	return fn(ctx)
}
