package store

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/pkg/dbpool"
)

// New is constructed against a zero-value pool, following the
// teacher's pattern of exercising pure logic without a live database.
func TestNewGateway(t *testing.T) {
	db := &dbpool.Pool{Pool: &pgxpool.Pool{}}
	g := New(db, zap.NewNop())

	if g == nil {
		t.Fatal("New returned nil")
	}
	if g.chunkSize != defaultChunkSize {
		t.Errorf("chunkSize = %d, want %d", g.chunkSize, defaultChunkSize)
	}
}
