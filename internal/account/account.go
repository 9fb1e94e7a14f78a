// Package account is the Account Lifecycle component (spec §4.F): API
// key resolution and the destructive cascade-delete operation.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/pkg/dbpool"
)

// ErrNotFound means no account matches the given key hash or id.
var ErrNotFound = fmt.Errorf("account: not found")

// Manager implements account resolution, upsert, and deletion.
type Manager struct {
	db       *dbpool.Pool
	registry *registry.Registry
	logger   *zap.Logger
}

// New constructs an Account Lifecycle manager.
func New(db *dbpool.Pool, reg *registry.Registry, logger *zap.Logger) *Manager {
	return &Manager{db: db, registry: reg, logger: logger}
}

// HashAPIKey returns the hex-encoded SHA-256 digest of key, the form
// stored in account_api_key_hashes and compared on lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GetAccountIDByAPIKey hashes key and looks up the owning account.
func (m *Manager) GetAccountIDByAPIKey(ctx context.Context, key string) (string, error) {
	hash := HashAPIKey(key)
	var accountID string
	err := m.db.Pool.QueryRow(ctx, `
		SELECT account_id FROM account_api_key_hashes WHERE hash = $1
	`, hash).Scan(&accountID)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("account: lookup by api key: %w", err)
	}
	return accountID, nil
}

// UpsertAccount overwrites the account's raw payload and, when
// apiKeyHash is non-empty, adds it to the account's hash set (a set
// union; duplicates are suppressed by a unique constraint on
// (account_id, hash), matched on conflict).
func (m *Manager) UpsertAccount(ctx context.Context, accountID string, payload json.RawMessage, apiKeyHash string) error {
	tx, err := m.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("account: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, payload, last_synced_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			last_synced_at = EXCLUDED.last_synced_at
	`, accountID, []byte(payload))
	if err != nil {
		return fmt.Errorf("account: upsert account row: %w", err)
	}

	if apiKeyHash != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO account_api_key_hashes (account_id, hash)
			VALUES ($1, $2)
			ON CONFLICT (account_id, hash) DO NOTHING
		`, accountID, apiKeyHash)
		if err != nil {
			return fmt.Errorf("account: insert api key hash: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// EnsureAccountExists inserts a placeholder account row if one is not
// already present, required for downstream foreign-key integrity
// before the Event Router or Backfill Controller write child rows.
func (m *Manager) EnsureAccountExists(ctx context.Context, accountID string) error {
	_, err := m.db.Pool.Exec(ctx, `
		INSERT INTO accounts (id, payload, last_synced_at)
		VALUES ($1, '{}'::jsonb, now())
		ON CONFLICT (id) DO NOTHING
	`, accountID)
	if err != nil {
		return fmt.Errorf("account: ensure exists: %w", err)
	}
	return nil
}

// DeleteOptions controls DangerouslyDeleteAccount.
type DeleteOptions struct {
	DryRun        bool
	UseTransaction bool
}

// TableCount is the row count removed (or that would be removed, on a
// dry run) from one table.
type TableCount struct {
	Table string
	Count int64
}

// DangerouslyDeleteAccount deletes (or, on a dry run, only counts)
// every row belonging to accountID across every registered object
// table, in the registry's cascade-delete order, with the account row
// itself deleted last.
func (m *Manager) DangerouslyDeleteAccount(ctx context.Context, accountID string, opts DeleteOptions) ([]TableCount, error) {
	tables := m.registry.CascadeDeleteOrder()

	counts := make([]TableCount, 0, len(tables)+1)
	for _, table := range tables {
		n, err := m.countRows(ctx, table, accountID)
		if err != nil {
			return nil, err
		}
		counts = append(counts, TableCount{Table: table, Count: n})
	}
	accountRows, err := m.countRows(ctx, "accounts", accountID)
	if err != nil {
		return nil, err
	}
	counts = append(counts, TableCount{Table: "accounts", Count: accountRows})

	if opts.DryRun {
		return counts, nil
	}

	if opts.UseTransaction {
		tx, err := m.db.Pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("account: begin delete: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, table := range tables {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1`, table), accountID); err != nil {
				return nil, fmt.Errorf("account: delete %s: %w", table, err)
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID); err != nil {
			return nil, fmt.Errorf("account: delete account row: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("account: commit delete: %w", err)
		}
		return counts, nil
	}

	for _, table := range tables {
		if _, err := m.db.Pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1`, table), accountID); err != nil {
			return nil, fmt.Errorf("account: delete %s: %w", table, err)
		}
	}
	if _, err := m.db.Pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID); err != nil {
		return nil, fmt.Errorf("account: delete account row: %w", err)
	}
	return counts, nil
}

func (m *Manager) countRows(ctx context.Context, table, accountID string) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE account_id = $1`, table)
	if table == "accounts" {
		query = `SELECT count(*) FROM accounts WHERE id = $1`
	}
	if err := m.db.Pool.QueryRow(ctx, query, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("account: count %s: %w", table, err)
	}
	return n, nil
}
