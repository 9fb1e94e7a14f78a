// Package queue is the DB-resident worker message queue (spec §6): a
// payload of {account_id, object} per message, claimed with a
// visibility timeout so a worker that dies mid-processing doesn't
// strand the message forever.
package queue

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/supabase/stripe-sync-engine/internal/store"
	"github.com/supabase/stripe-sync-engine/pkg/dbpool"
)

// DefaultVisibilityTimeout matches spec §6's default of 60 seconds.
const DefaultVisibilityTimeout = 60 * time.Second

// DefaultBatchSize matches spec §6's default of 10 messages per tick.
const DefaultBatchSize = 10

// Message is one unit of work: "sync this object for this account
// forward by one page."
type Message struct {
	ID        string
	AccountID string
	Object    string
	ClaimedAt *time.Time
	CreatedAt time.Time
}

// Store is the message queue's persistence layer.
type Store struct {
	db *dbpool.Pool
}

func New(db *dbpool.Pool) *Store {
	return &Store{db: db}
}

// Enqueue inserts a new message for (accountID, object).
func (s *Store) Enqueue(ctx context.Context, accountID, object string) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO _worker_queue (id, account_id, object, claimed_at, created_at)
		VALUES ($1, $2, $3, NULL, now())
	`, uuid.NewString(), accountID, object)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest message that is either
// unclaimed or whose claim has expired past visibilityTimeout, using
// SKIP LOCKED so concurrent workers never double-claim the same row.
// Returns nil, nil when nothing is currently claimable.
func (s *Store) ClaimNext(ctx context.Context, visibilityTimeout time.Duration) (*Message, error) {
	row := s.db.Pool.QueryRow(ctx, `
		UPDATE _worker_queue
		SET claimed_at = now()
		WHERE id = (
			SELECT id FROM _worker_queue
			WHERE claimed_at IS NULL OR claimed_at < now() - $1::interval
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, account_id, object, claimed_at, created_at
	`, visibilityTimeout)

	var m Message
	err := row.Scan(&m.ID, &m.AccountID, &m.Object, &m.ClaimedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: claim next: %w", err)
	}
	return &m, nil
}

// Delete removes a message after successful, final processing.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM _worker_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("queue: delete: %w", err)
	}
	return nil
}

// Requeue re-enqueues the same payload at the back of the queue,
// called when processNext reports hasMore (spec §6).
func (s *Store) Requeue(ctx context.Context, m Message) error {
	if err := s.Delete(ctx, m.ID); err != nil {
		return err
	}
	return s.Enqueue(ctx, m.AccountID, m.Object)
}

// Release clears a message's claim without deleting it, used when
// processing fails transiently; the message becomes claimable again
// immediately rather than waiting out the visibility timeout.
func (s *Store) Release(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE _worker_queue SET claimed_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("queue: release: %w", err)
	}
	return nil
}

// IsEmpty reports whether the queue currently has zero rows, claimed
// or not — used to decide whether to reseed (spec §6).
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.Pool.QueryRow(ctx, `SELECT count(*) FROM _worker_queue`).Scan(&count); err != nil {
		return false, fmt.Errorf("queue: count: %w", err)
	}
	return count == 0, nil
}

// Seed joins or creates a sync run for accountID and enqueues one
// message per object name, in the given (registry) order.
func (s *Store) Seed(ctx context.Context, gw *store.Gateway, accountID string, objects []string) error {
	if _, err := gw.GetOrCreateSyncRun(ctx, accountID, "worker"); err != nil {
		return fmt.Errorf("queue: seed: get or create sync run: %w", err)
	}
	for _, object := range objects {
		if err := s.Enqueue(ctx, accountID, object); err != nil {
			return fmt.Errorf("queue: seed: enqueue %s: %w", object, err)
		}
	}
	return nil
}

// VerifyWorkerSecret constant-time compares provided against the
// secret stored in the single-row _worker_secret table (spec §6:
// "Authorization uses a shared worker secret stored in the DB
// (compared constant-time)").
func (s *Store) VerifyWorkerSecret(ctx context.Context, provided string) (bool, error) {
	var stored string
	err := s.db.Pool.QueryRow(ctx, `SELECT secret FROM _worker_secret LIMIT 1`).Scan(&stored)
	if err != nil {
		return false, fmt.Errorf("queue: load worker secret: %w", err)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1, nil
}
