package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

type dollarDialect struct{}

func (dollarDialect) Name() string             { return "dollar" }
func (dollarDialect) Placeholder(n int) string { return DollarPlaceholder(n) }
func (dollarDialect) Schema() []string         { return nil }
func (dollarDialect) UpsertConfig(context.Context, *sql.DB, string, string, string) error {
	return nil
}

func TestRebind(t *testing.T) {
	s := New(nil, dollarDialect{}, store.Options{})
	got := s.rebind(`SELECT a FROM t WHERE x=? AND y > ? LIMIT ?`)
	assert.Equal(t, `SELECT a FROM t WHERE x=$1 AND y > $2 LIMIT $3`, got)
}

func TestEpochRoundTrip(t *testing.T) {
	in := time.Date(1999, 11, 15, 10, 30, 0, 123_000_000, time.UTC)
	f := Epoch(in)
	assert.InDelta(t, float64(in.Unix())+0.123, f, 1e-6)
	assert.True(t, FromEpoch(f).Equal(in))
	assert.Equal(t, time.UTC, FromEpoch(f).Location())

	// Sub-millisecond precision is dropped.
	assert.True(t, FromEpoch(Epoch(in.Add(400*time.Microsecond))).Equal(in))
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(nil, dollarDialect{}, store.Options{})
	assert.Equal(t, store.DefaultExportPageSize, s.opts.ExportPageSize)
	assert.Equal(t, "dollar", s.Name())
}
