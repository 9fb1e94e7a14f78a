package store

import (
	"context"
	"errors"
	"fmt"
)

// ManagedWebhook mirrors a Stripe webhook endpoint this engine owns.
type ManagedWebhook struct {
	ID        string
	AccountID string
	URL       string
	Secret    string
	Status    string
}

// GetManagedWebhook returns the mirror row for (accountID, url), or
// nil if none exists.
func (g *Gateway) GetManagedWebhook(ctx context.Context, accountID, url string) (*ManagedWebhook, error) {
	row := g.db.Pool.QueryRow(ctx, `
		SELECT id, account_id, url, secret, status
		FROM managed_webhooks
		WHERE account_id = $1 AND url = $2
	`, accountID, url)

	var wh ManagedWebhook
	err := row.Scan(&wh.ID, &wh.AccountID, &wh.URL, &wh.Secret, &wh.Status)
	if err != nil {
		err = scanErrNoRows(err)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get managed webhook: %w", err)
	}
	return &wh, nil
}

// GetManagedWebhookSecret returns the signing secret for any enabled
// mirror row belonging to accountID, used by the Event Router when no
// static secret is configured.
func (g *Gateway) GetManagedWebhookSecret(ctx context.Context, accountID string) (string, bool, error) {
	row := g.db.Pool.QueryRow(ctx, `
		SELECT secret FROM managed_webhooks
		WHERE account_id = $1 AND status = 'enabled'
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)

	var secret string
	err := row.Scan(&secret)
	if err != nil {
		err = scanErrNoRows(err)
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: get managed webhook secret: %w", err)
	}
	return secret, true, nil
}

// ListManagedWebhooksExceptURL returns every mirror row for accountID
// whose url differs from keepURL, used by the reconciler's stale-mirror
// purge (spec §4.G step 2).
func (g *Gateway) ListManagedWebhooksExceptURL(ctx context.Context, accountID, keepURL string) ([]ManagedWebhook, error) {
	rows, err := g.db.Pool.Query(ctx, `
		SELECT id, account_id, url, secret, status
		FROM managed_webhooks
		WHERE account_id = $1 AND url != $2
	`, accountID, keepURL)
	if err != nil {
		return nil, fmt.Errorf("store: list managed webhooks: %w", err)
	}
	defer rows.Close()

	var out []ManagedWebhook
	for rows.Next() {
		var wh ManagedWebhook
		if err := rows.Scan(&wh.ID, &wh.AccountID, &wh.URL, &wh.Secret, &wh.Status); err != nil {
			return nil, fmt.Errorf("store: scan managed webhook: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// ListManagedWebhookIDs returns every Stripe endpoint id this engine
// has mirrored across all accounts, used by the reconciler's orphan
// scan to tell a known endpoint from an abandoned one.
func (g *Gateway) ListManagedWebhookIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := g.db.Pool.Query(ctx, `SELECT id FROM managed_webhooks`)
	if err != nil {
		return nil, fmt.Errorf("store: list managed webhook ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan managed webhook id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// UpsertManagedWebhook writes the mirror row for a newly created or
// re-verified endpoint.
func (g *Gateway) UpsertManagedWebhook(ctx context.Context, wh ManagedWebhook) error {
	_, err := g.db.Pool.Exec(ctx, `
		INSERT INTO managed_webhooks (id, account_id, url, secret, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			secret = EXCLUDED.secret,
			status = EXCLUDED.status
	`, wh.ID, wh.AccountID, wh.URL, wh.Secret, wh.Status)
	if err != nil {
		return fmt.Errorf("store: upsert managed webhook: %w", err)
	}
	return nil
}

// DeleteManagedWebhook removes a mirror row by its Stripe endpoint id.
func (g *Gateway) DeleteManagedWebhook(ctx context.Context, id string) error {
	_, err := g.db.Pool.Exec(ctx, `DELETE FROM managed_webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete managed webhook: %w", err)
	}
	return nil
}
