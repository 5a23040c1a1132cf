// Package gpulock serializes access to the GPU across jobs and processes.
// Leases live in the shared SQLite database: a row per resource name with an
// ownership token and an expiry, so a crashed holder frees the resource once
// its lease lapses instead of wedging the queue.
package gpulock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Zipties/voicestack2/internal/services"
)

// ErrNotHeld indicates a release attempt with a token that no longer owns the
// lease, either because it expired and was taken over or was never acquired.
var ErrNotHeld = errors.New("lease not held")

// Lock coordinates exclusive use of one named resource.
type Lock struct {
	db           *sql.DB
	name         string
	lease        time.Duration
	pollInterval time.Duration
}

// Lease is proof of acquisition. Only the holder of the token can release.
type Lease struct {
	lock  *Lock
	Token string
}

// Option adjusts lock behavior.
type Option func(*Lock)

// WithPollInterval overrides how often acquisition retries while waiting.
func WithPollInterval(interval time.Duration) Option {
	return func(l *Lock) {
		if interval > 0 {
			l.pollInterval = interval
		}
	}
}

// New builds a lock over the shared database for one resource name.
func New(db *sql.DB, name string, lease time.Duration, opts ...Option) *Lock {
	l := &Lock{
		db:           db,
		name:         name,
		lease:        lease,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the resource is free or the wait timeout elapses,
// polling at the configured interval. On success it returns a lease whose
// token must be presented to Release.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) (*Lease, error) {
	deadline := time.Now().Add(wait)
	token := uuid.NewString()

	for {
		acquired, err := l.tryAcquire(ctx, token)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "gpu lock", "acquire", "lease query failed", err)
		}
		if acquired {
			return &Lease{lock: l, Token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, services.Wrap(services.ErrTimeout, "gpu lock", "acquire",
				fmt.Sprintf("resource %q still busy after %s", l.name, wait), nil)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// tryAcquire attempts one compare-and-set. The insert succeeds when no row
// exists; the conditional update succeeds when the existing lease expired.
func (l *Lock) tryAcquire(ctx context.Context, token string) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(l.lease)

	res, err := l.db.ExecContext(
		ctx,
		`INSERT INTO resource_leases (name, token, acquired_at, expires_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
            token = excluded.token,
            acquired_at = excluded.acquired_at,
            expires_at = excluded.expires_at
         WHERE resource_leases.expires_at <= ?`,
		l.name,
		token,
		now.Format(time.RFC3339Nano),
		expires.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Release frees the resource only if the caller still owns it. A lease that
// expired and was claimed by another job is left untouched and ErrNotHeld is
// returned.
func (lease *Lease) Release(ctx context.Context) error {
	res, err := lease.lock.db.ExecContext(
		ctx,
		`DELETE FROM resource_leases WHERE name = ? AND token = ?`,
		lease.lock.name,
		lease.Token,
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "gpu lock", "release", "lease delete failed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrTransient, "gpu lock", "release", "rows affected", err)
	}
	if affected == 0 {
		return ErrNotHeld
	}
	return nil
}
