package stats

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/patchwire/internal/core/db"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.MigrateUp(ctx, database))

	queries, err := db.LoadQueries(database)
	require.NoError(t, err)
	s, err := NewSQLStore(queries)
	require.NoError(t, err)
	return s
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		hits, misses int64
		want         float64
	}{
		{0, 0, 0.5},
		{1, 0, 2.0 / 3.0},
		{0, 1, 1.0 / 3.0},
		{8, 0, 0.9},
		{3, 3, 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Stat{Hits: tt.hits, Misses: tt.misses}.Confidence(), 1e-9)
	}
}

func TestConfidence_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays strictly inside (0,1)", prop.ForAll(
		func(hits, misses int64) bool {
			c := Stat{Hits: hits, Misses: misses}.Confidence()
			return c > 0 && c < 1
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.Property("a hit never lowers confidence", prop.ForAll(
		func(hits, misses int64) bool {
			before := Stat{Hits: hits, Misses: misses}.Confidence()
			after := Stat{Hits: hits + 1, Misses: misses}.Confidence()
			return after >= before
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	st, err := s.Get(ctx, "counter::count::number")
	require.NoError(t, err)
	assert.Equal(t, "counter::count::number", st.TriggerKey)
	assert.Zero(t, st.Hits+st.Misses)

	for _, hit := range []bool{true, true, false} {
		require.NoError(t, s.Record(ctx, "counter::count::number", hit))
	}
	require.NoError(t, s.Record(ctx, "todo::items::array", false))

	st, err = s.Get(ctx, "counter::count::number")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.False(t, st.UpdatedAt.IsZero())
	assert.InDelta(t, 0.6, st.Confidence(), 1e-9)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "counter::count::number", list[0].TriggerKey)

	list, err = s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLStore(t *testing.T) {
	testStore(t, newSQLStore(t))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestNewSQLStore_RequiresQueries(t *testing.T) {
	_, err := NewSQLStore(nil)
	assert.Error(t, err)
}
