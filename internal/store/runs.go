package store

import (
	"context"
	"fmt"
	"time"
)

// staleAfter is the window after which a running object run with no
// progress update is presumed dead (spec §3, §4.D, §5).
const staleAfter = 5 * time.Minute

const defaultMaxConcurrent = 5

// ObjectRunStatus enumerates the object-run state machine (spec §4.D).
type ObjectRunStatus string

const (
	StatusPending  ObjectRunStatus = "pending"
	StatusRunning  ObjectRunStatus = "running"
	StatusComplete ObjectRunStatus = "complete"
	StatusError    ObjectRunStatus = "error"
)

// SyncRun is an account-scoped execution context grouping all object
// runs started together.
type SyncRun struct {
	AccountID     string
	StartedAt     time.Time
	ClosedAt      *time.Time
	MaxConcurrent int
	TriggeredBy   string
}

// ObjectRun is the per-(run, object) unit of work for the backfill
// state machine.
type ObjectRun struct {
	AccountID      string
	RunStartedAt   time.Time
	ObjectName     string
	Status         ObjectRunStatus
	ProcessedCount int64
	Cursor         *string
	PageCursor     *string
	StartedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
}

// CancelStaleRuns marks every running object run whose updated_at is
// older than staleAfter as error, clearing its page cursor, then
// closes any sync run left with no pending/running children.
func (g *Gateway) CancelStaleRuns(ctx context.Context, accountID string) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET status = 'error',
			error_message = 'stale (no update in 5 min)',
			page_cursor = NULL,
			updated_at = now()
		WHERE account_id = $1
			AND status = 'running'
			AND updated_at < now() - ($2 || ' seconds')::interval
	`, accountID, int(staleAfter.Seconds()))
	if err != nil {
		return fmt.Errorf("store: cancel stale runs: %w", err)
	}

	if err := g.closeDoneRuns(ctx, accountID); err != nil {
		return err
	}
	return nil
}

// closeDoneRuns closes every open sync run for accountID that has at
// least one object run and no pending or running children.
func (g *Gateway) closeDoneRuns(ctx context.Context, accountID string) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_runs r
		SET closed_at = now()
		WHERE r.account_id = $1
			AND r.closed_at IS NULL
			AND EXISTS (
				SELECT 1 FROM _sync_obj_runs o
				WHERE o.account_id = r.account_id AND o.run_started_at = r.started_at
			)
			AND NOT EXISTS (
				SELECT 1 FROM _sync_obj_runs o
				WHERE o.account_id = r.account_id AND o.run_started_at = r.started_at
					AND o.status IN ('pending', 'running')
			)
	`, accountID)
	if err != nil {
		return fmt.Errorf("store: close done runs: %w", err)
	}
	return nil
}

// GetOrCreateSyncRun cancels stale runs, returns the active run if one
// exists, otherwise inserts a new one truncated to millisecond
// precision (spec §9). A benign exclusion-constraint race on insert is
// recovered here by re-querying getActiveSyncRun and returning that run.
func (g *Gateway) GetOrCreateSyncRun(ctx context.Context, accountID, triggeredBy string) (*SyncRun, error) {
	if err := g.CancelStaleRuns(ctx, accountID); err != nil {
		return nil, err
	}

	run, err := g.getActiveSyncRun(ctx, accountID)
	if err == nil {
		return run, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	startedAt := time.Now().UTC().Truncate(time.Millisecond)
	_, err = g.db.Pool.Exec(ctx, `
		INSERT INTO _sync_runs (account_id, started_at, max_concurrent, triggered_by)
		VALUES ($1, $2, $3, $4)
	`, accountID, startedAt, defaultMaxConcurrent, triggeredBy)
	if err != nil {
		if mapped := mapPgError(err); mapped == ErrExclusionViolation {
			return g.getActiveSyncRun(ctx, accountID)
		}
		return nil, fmt.Errorf("store: create sync run: %w", err)
	}

	return &SyncRun{
		AccountID:     accountID,
		StartedAt:     startedAt,
		MaxConcurrent: defaultMaxConcurrent,
		TriggeredBy:   triggeredBy,
	}, nil
}

func (g *Gateway) getActiveSyncRun(ctx context.Context, accountID string) (*SyncRun, error) {
	var run SyncRun
	run.AccountID = accountID
	err := g.db.Pool.QueryRow(ctx, `
		SELECT started_at, max_concurrent, triggered_by
		FROM _sync_runs
		WHERE account_id = $1 AND closed_at IS NULL
	`, accountID).Scan(&run.StartedAt, &run.MaxConcurrent, &run.TriggeredBy)
	if err != nil {
		return nil, scanErrNoRows(err)
	}
	return &run, nil
}

// CreateObjectRuns inserts pending object runs for names, ignoring
// rows that already exist.
func (g *Gateway) CreateObjectRuns(ctx context.Context, accountID string, runStartedAt time.Time, names []string) error {
	for _, name := range names {
		_, err := g.db.Pool.Exec(ctx, `
			INSERT INTO _sync_obj_runs (account_id, run_started_at, object_name, status, processed_count, started_at, updated_at)
			VALUES ($1, $2, $3, 'pending', 0, now(), now())
			ON CONFLICT (account_id, run_started_at, object_name) DO NOTHING
		`, accountID, runStartedAt, name)
		if err != nil {
			return fmt.Errorf("store: create object run %s: %w", name, err)
		}
	}
	return nil
}

// EnsureObjectRun is CreateObjectRuns for a single object, used by the
// Backfill Controller before fetching a page (spec §4.D).
func (g *Gateway) EnsureObjectRun(ctx context.Context, accountID string, runStartedAt time.Time, object string) error {
	return g.CreateObjectRuns(ctx, accountID, runStartedAt, []string{object})
}

// GetObjectRun fetches the current object-run row.
func (g *Gateway) GetObjectRun(ctx context.Context, accountID string, runStartedAt time.Time, object string) (*ObjectRun, error) {
	run := &ObjectRun{AccountID: accountID, RunStartedAt: runStartedAt, ObjectName: object}
	var status string
	err := g.db.Pool.QueryRow(ctx, `
		SELECT status, processed_count, cursor, page_cursor, started_at, updated_at, completed_at, error_message
		FROM _sync_obj_runs
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3
	`, accountID, runStartedAt, object).Scan(
		&status, &run.ProcessedCount, &run.Cursor, &run.PageCursor,
		&run.StartedAt, &run.UpdatedAt, &run.CompletedAt, &run.ErrorMessage,
	)
	if err != nil {
		return nil, scanErrNoRows(err)
	}
	run.Status = ObjectRunStatus(status)
	return run, nil
}

// TryStartObjectSync attempts the pending -> running transition. It
// returns true iff the running-count for this run is below
// maxConcurrent and the atomic update affects exactly one row. The
// caller accepts the documented race of at most maxConcurrent+1
// simultaneously running objects (spec §9 open question).
func (g *Gateway) TryStartObjectSync(ctx context.Context, accountID string, runStartedAt time.Time, object string, maxConcurrent int) (bool, error) {
	var runningCount int
	err := g.db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM _sync_obj_runs
		WHERE account_id = $1 AND run_started_at = $2 AND status = 'running'
	`, accountID, runStartedAt).Scan(&runningCount)
	if err != nil {
		return false, fmt.Errorf("store: count running object runs: %w", err)
	}
	if runningCount >= maxConcurrent {
		return false, nil
	}

	tag, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET status = 'running', updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3 AND status = 'pending'
	`, accountID, runStartedAt, object)
	if err != nil {
		return false, fmt.Errorf("store: start object sync %s: %w", object, err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementObjectProgress bumps processed_count and refreshes
// updated_at so staleness detection sees live progress.
func (g *Gateway) IncrementObjectProgress(ctx context.Context, accountID string, runStartedAt time.Time, object string, n int) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET processed_count = processed_count + $4, updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3
	`, accountID, runStartedAt, object, n)
	if err != nil {
		return fmt.Errorf("store: increment progress %s: %w", object, err)
	}
	return nil
}

// UpdateObjectPageCursor stores the opaque Stripe starting_after token
// for the current backfill traversal.
func (g *Gateway) UpdateObjectPageCursor(ctx context.Context, accountID string, runStartedAt time.Time, object, pageCursor string) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET page_cursor = $4, updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3
	`, accountID, runStartedAt, object, pageCursor)
	if err != nil {
		return fmt.Errorf("store: update page cursor %s: %w", object, err)
	}
	return nil
}

// UpdateObjectCursor advances the object's high-water-mark cursor,
// enforcing invariant #4 (cursors never decrease) in application code
// since the comparison is polymorphic (numeric vs lexicographic).
func (g *Gateway) UpdateObjectCursor(ctx context.Context, accountID string, runStartedAt time.Time, object, cursor string) error {
	run, err := g.GetObjectRun(ctx, accountID, runStartedAt, object)
	if err != nil {
		return err
	}

	next := cursor
	if run.Cursor != nil && !cursorGreater(cursor, *run.Cursor) {
		next = *run.Cursor
	}

	_, err = g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET cursor = $4, updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3
	`, accountID, runStartedAt, object, next)
	if err != nil {
		return fmt.Errorf("store: update cursor %s: %w", object, err)
	}
	return nil
}

// CompleteObjectSync transitions an object run to complete, clears its
// page cursor, stamps completed_at, and closes the parent run if all
// siblings are terminal.
func (g *Gateway) CompleteObjectSync(ctx context.Context, accountID string, runStartedAt time.Time, object string) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET status = 'complete', page_cursor = NULL, completed_at = now(), updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3 AND status = 'running'
	`, accountID, runStartedAt, object)
	if err != nil {
		return fmt.Errorf("store: complete object sync %s: %w", object, err)
	}
	return g.closeDoneRuns(ctx, accountID)
}

// FailObjectSync transitions an object run to error, clears its page
// cursor, and closes the parent run if all siblings are terminal.
func (g *Gateway) FailObjectSync(ctx context.Context, accountID string, runStartedAt time.Time, object, message string) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_obj_runs
		SET status = 'error', error_message = $4, page_cursor = NULL, completed_at = now(), updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_name = $3 AND status IN ('running', 'pending')
	`, accountID, runStartedAt, object, message)
	if err != nil {
		return fmt.Errorf("store: fail object sync %s: %w", object, err)
	}
	return g.closeDoneRuns(ctx, accountID)
}

// CloseRun unconditionally closes a run, used by processUntilDone once
// every selected object has been drained (spec §4.D).
func (g *Gateway) CloseRun(ctx context.Context, accountID string, runStartedAt time.Time) error {
	_, err := g.db.Pool.Exec(ctx, `
		UPDATE _sync_runs SET closed_at = now()
		WHERE account_id = $1 AND started_at = $2 AND closed_at IS NULL
	`, accountID, runStartedAt)
	if err != nil {
		return fmt.Errorf("store: close run: %w", err)
	}
	return nil
}

// GetLastCompletedCursor aggregates the maximum cursor across every
// prior completed object run for object, the boundary used to decide
// incremental-vs-historical backfill mode.
func (g *Gateway) GetLastCompletedCursor(ctx context.Context, accountID, object string) (string, bool, error) {
	return g.aggregateCursor(ctx, `
		SELECT cursor FROM _sync_obj_runs
		WHERE account_id = $1 AND object_name = $2 AND status = 'complete' AND cursor IS NOT NULL
	`, accountID, object)
}

// GetLastCursorBeforeRun is GetLastCompletedCursor restricted to runs
// strictly before runStartedAt.
func (g *Gateway) GetLastCursorBeforeRun(ctx context.Context, accountID, object string, runStartedAt time.Time) (string, bool, error) {
	return g.aggregateCursor(ctx, `
		SELECT cursor FROM _sync_obj_runs
		WHERE account_id = $1 AND object_name = $2 AND status = 'complete'
			AND cursor IS NOT NULL AND run_started_at < $3
	`, accountID, object, runStartedAt)
}

func (g *Gateway) aggregateCursor(ctx context.Context, query string, args ...any) (string, bool, error) {
	rows, err := g.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return "", false, fmt.Errorf("store: aggregate cursor: %w", err)
	}
	defer rows.Close()

	var cursors []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return "", false, fmt.Errorf("store: scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("store: iterate cursors: %w", err)
	}

	v, ok := aggregateMaxCursor(cursors)
	return v, ok, nil
}

// RunStatus is the derived aggregate the spec names as the read-only
// view `sync_runs` (spec §6). The migration that would materialize it
// as a SQL view is out of this module's scope; this is the Go-side
// read of the same aggregation.
type RunStatus struct {
	AccountID string
	StartedAt time.Time
	ClosedAt  *time.Time
	Status    string // "running", "complete", or "error"
}

// GetRunStatus derives a run's overall status from its children: error
// if any child errored, running if any child is pending/running, else
// complete.
func (g *Gateway) GetRunStatus(ctx context.Context, accountID string, runStartedAt time.Time) (*RunStatus, error) {
	rs := &RunStatus{AccountID: accountID, StartedAt: runStartedAt}

	err := g.db.Pool.QueryRow(ctx, `
		SELECT closed_at FROM _sync_runs WHERE account_id = $1 AND started_at = $2
	`, accountID, runStartedAt).Scan(&rs.ClosedAt)
	if err != nil {
		return nil, scanErrNoRows(err)
	}

	var errorCount, openCount int
	err = g.db.Pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'error'),
			count(*) FILTER (WHERE status IN ('pending', 'running'))
		FROM _sync_obj_runs WHERE account_id = $1 AND run_started_at = $2
	`, accountID, runStartedAt).Scan(&errorCount, &openCount)
	if err != nil {
		return nil, fmt.Errorf("store: aggregate run status: %w", err)
	}

	switch {
	case errorCount > 0:
		rs.Status = "error"
	case openCount > 0:
		rs.Status = "running"
	default:
		rs.Status = "complete"
	}
	return rs, nil
}
