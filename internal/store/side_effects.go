package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// MarkDeletedExcept flags rows under parentID in table as deleted
// (payload->>'deleted' = true) when their id is not in keepIDs. Used
// by the Upsert Orchestrator to mirror Stripe's implicit removal of
// subscription items and checkout session line items that no longer
// appear in a subscription's or session's current item list (spec
// §4.E).
func (g *Gateway) MarkDeletedExcept(ctx context.Context, table, parentID string, keepIDs []string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET payload = jsonb_set(payload, '{deleted}', 'true', true)
		WHERE parent_id = $1 AND NOT (id = ANY($2))
	`, table)
	_, err := g.db.Pool.Exec(ctx, query, parentID, keepIDs)
	if err != nil {
		return fmt.Errorf("store: mark deleted in %s: %w", table, err)
	}
	return nil
}

// ListNonDeletedIDs returns every id in table for accountID whose
// payload is not flagged deleted, used by the payment_method backfill
// special case to enumerate customers to fan out across (spec §4.D).
func (g *Gateway) ListNonDeletedIDs(ctx context.Context, table, accountID string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE account_id = $1 AND COALESCE((payload->>'deleted')::boolean, false) = false
	`, table)
	rows, err := g.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: list non-deleted ids in %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id from %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", table, err)
	}
	return ids, nil
}

// DeleteExcept hard-deletes rows under parentID in table whose id is
// not in keepIDs. Used by the entitlement-summary compare-and-replace
// (spec §4.C), where the previous set must actually disappear rather
// than be flagged.
func (g *Gateway) DeleteExcept(ctx context.Context, table, parentID string, keepIDs []string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE parent_id = $1 AND NOT (id = ANY($2))`, table)
	_, err := g.db.Pool.Exec(ctx, query, parentID, keepIDs)
	if err != nil {
		return fmt.Errorf("store: delete except in %s: %w", table, err)
	}
	return nil
}

// UpsertChildrenUnconditional writes parent-scoped rows unconditionally,
// with no timestamp guard, setting the parent_id column. Used for
// account-scoped metadata tables (active entitlements) where
// last-write-wins is the desired behavior.
func (g *Gateway) UpsertChildrenUnconditional(ctx context.Context, table, accountID string, rows []Row) error {
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
				INSERT INTO %s (id, account_id, parent_id, payload, last_synced_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (id) DO UPDATE SET
					parent_id = EXCLUDED.parent_id,
					payload = EXCLUDED.payload,
					last_synced_at = EXCLUDED.last_synced_at
			`, table)
			_, err := g.db.Pool.Exec(gctx, query, row.ID, accountID, row.ParentID, []byte(row.Payload))
			return mapPgError(err)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("store: unconditional upsert %s: %w", table, err)
	}
	return nil
}
