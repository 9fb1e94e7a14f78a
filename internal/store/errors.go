package store

import "errors"

// ErrExclusionViolation is returned when an insert races another writer
// under a database exclusion or unique constraint. Callers treat this
// as benign and re-query for the row that won.
var ErrExclusionViolation = errors.New("store: exclusion constraint violation")

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// pgExclusionViolation and pgUniqueViolation are the Postgres SQLSTATE
// codes the gateway maps onto ErrExclusionViolation.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)
