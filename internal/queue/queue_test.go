package queue

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supabase/stripe-sync-engine/pkg/dbpool"
)

func TestNewStore(t *testing.T) {
	db := &dbpool.Pool{Pool: &pgxpool.Pool{}}
	s := New(db)
	if s == nil {
		t.Fatal("New returned nil")
	}
}

func TestDefaults(t *testing.T) {
	if DefaultVisibilityTimeout.Seconds() != 60 {
		t.Errorf("DefaultVisibilityTimeout = %v, want 60s", DefaultVisibilityTimeout)
	}
	if DefaultBatchSize != 10 {
		t.Errorf("DefaultBatchSize = %d, want 10", DefaultBatchSize)
	}
}
