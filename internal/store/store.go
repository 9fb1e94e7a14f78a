// Package store is the Store Gateway: typed access to the destination
// database, the single enforcement point for timestamp-protected
// upserts, advisory locks, and sync-run/object-run bookkeeping.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/supabase/stripe-sync-engine/pkg/dbpool"
)

// defaultChunkSize bounds how many upsert statements run concurrently
// for one batch, per spec §4.A / §5.
const defaultChunkSize = 5

// Row is a single object payload to upsert into an object table.
type Row struct {
	ID      string
	Payload json.RawMessage
	// ParentID is set for tables that carry a parent-id column
	// (subscription_items, checkout_session_line_items).
	ParentID string
}

// Gateway is the Store Gateway.
type Gateway struct {
	db        *dbpool.Pool
	logger    *zap.Logger
	chunkSize int
}

// New constructs a Store Gateway over an open connection pool.
func New(db *dbpool.Pool, logger *zap.Logger) *Gateway {
	return &Gateway{db: db, logger: logger, chunkSize: defaultChunkSize}
}

// UpsertMany writes a batch of object rows with timestamp protection
// (invariant #1): on conflict the payload and last-synced-at are only
// overwritten when syncTimestamp is strictly greater than the row's
// stored last_synced_at (a null stored timestamp counts as the oldest
// possible value). When syncTimestamp is nil, now() is used as the
// incoming timestamp, so an existing row is overwritten whenever its
// stored last_synced_at is null or older than now().
func (g *Gateway) UpsertMany(ctx context.Context, table, accountID string, rows []Row, syncTimestamp *time.Time) error {
	if len(rows) == 0 {
		return nil
	}

	hasParent := rows[0].ParentID != ""

	group, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, g.chunkSize)

	for _, row := range rows {
		row := row
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			return g.upsertOne(gctx, table, accountID, row, hasParent, syncTimestamp)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("store: upsert %s: %w", table, err)
	}
	return nil
}

func (g *Gateway) upsertOne(ctx context.Context, table, accountID string, row Row, hasParent bool, syncTimestamp *time.Time) error {
	var query string
	var args []any

	if hasParent {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, account_id, parent_id, payload, last_synced_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, now()))
			ON CONFLICT (id) DO UPDATE SET
				parent_id = EXCLUDED.parent_id,
				payload = EXCLUDED.payload,
				last_synced_at = EXCLUDED.last_synced_at
			WHERE %s.last_synced_at IS NULL
				OR (EXCLUDED.last_synced_at IS NOT NULL AND EXCLUDED.last_synced_at > %s.last_synced_at)
		`, table, table, table)
		args = []any{row.ID, accountID, row.ParentID, []byte(row.Payload), syncTimestamp}
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, account_id, payload, last_synced_at)
			VALUES ($1, $2, $3, COALESCE($4, now()))
			ON CONFLICT (id) DO UPDATE SET
				payload = EXCLUDED.payload,
				last_synced_at = EXCLUDED.last_synced_at
			WHERE %s.last_synced_at IS NULL
				OR (EXCLUDED.last_synced_at IS NOT NULL AND EXCLUDED.last_synced_at > %s.last_synced_at)
		`, table, table, table)
		args = []any{row.ID, accountID, []byte(row.Payload), syncTimestamp}
	}

	_, err := g.db.Pool.Exec(ctx, query, args...)
	return mapPgError(err)
}

// UpsertManyUnconditional writes rows unconditionally, with no
// timestamp guard: the last write wins.
func (g *Gateway) UpsertManyUnconditional(ctx context.Context, table, accountID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	group, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, g.chunkSize)

	for _, row := range rows {
		row := row
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			query := fmt.Sprintf(`
				INSERT INTO %s (id, account_id, payload, last_synced_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (id) DO UPDATE SET
					payload = EXCLUDED.payload,
					last_synced_at = EXCLUDED.last_synced_at
			`, table)
			_, err := g.db.Pool.Exec(gctx, query, row.ID, accountID, []byte(row.Payload))
			return mapPgError(err)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("store: unconditional upsert %s: %w", table, err)
	}
	return nil
}

// DeleteByID removes a single row, used by the Event Router for
// deletion events (product.deleted, customer.deleted, ...).
func (g *Gateway) DeleteByID(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	_, err := g.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete from %s: %w", table, err)
	}
	return nil
}

// FindMissingIDs returns the subset of candidateIDs not present in
// table, used by parent-backfill to avoid redundant Stripe retrieves.
func (g *Gateway) FindMissingIDs(ctx context.Context, table string, candidateIDs []string) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = ANY($1)`, table)
	rows, err := g.db.Pool.Query(ctx, query, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("store: find missing ids in %s: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool, len(candidateIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id from %s: %w", table, err)
		}
		present[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", table, err)
	}

	missing := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if isPgError(err, &pgErr) {
		if pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation {
			return ErrExclusionViolation
		}
	}
	return err
}

func isPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// scanErrNoRows normalizes pgx.ErrNoRows to ErrNotFound.
func scanErrNoRows(err error) error {
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	return err
}
