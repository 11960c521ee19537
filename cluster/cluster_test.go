package cluster_test

import (
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebben/geoclimate/cluster"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/database/dbtest"
	"github.com/tebben/geoclimate/errors"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func TestComponentsChain(t *testing.T) {
	// A touches B, B touches C, A and C are apart: one component
	groups := cluster.Components([]int64{1, 2, 3, 4}, []cluster.Edge{{Start: 1, End: 2}, {Start: 2, End: 3}})
	assert.Equal(t, [][]int64{{1, 2, 3}, {4}}, groups)
}

func TestComponentsSingletonsAndOddEdges(t *testing.T) {
	groups := cluster.Components([]int64{7, 3, 5}, nil)
	assert.Equal(t, [][]int64{{3}, {5}, {7}}, groups)

	// self edges are ignored, unknown ends become nodes
	groups = cluster.Components([]int64{2}, []cluster.Edge{{Start: 2, End: 2}, {Start: 9, End: 2}})
	assert.Equal(t, [][]int64{{2, 9}}, groups)

	assert.Empty(t, cluster.Components(nil, nil))
}

func TestMergeTouchingValidation(t *testing.T) {
	fake := dbtest.NewFake()
	ctx := context.Background()

	tests := []struct {
		name string
		opts cluster.Options
	}{
		{"missing id", cluster.Options{OutputID: "id"}},
		{"missing output id", cluster.Options{IDColumn: "id"}},
		{"negative distance", cluster.Options{IDColumn: "id", OutputID: "id", Distance: -1}},
		{"negative gate", cluster.Options{IDColumn: "id", OutputID: "id", AreaGate: -1}},
		{"bad id", cluster.Options{IDColumn: "id; --", OutputID: "id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cluster.MergeTouching(ctx, fake, "input", tt.opts, "out")
			require.Error(t, err)
			assert.True(t, errors.IsPrecondition(err))
		})
	}

	assert.Empty(t, fake.Execs)
}

func TestMergeTouchingOutputIsInput(t *testing.T) {
	fake := dbtest.NewFake()

	_, err := cluster.MergeTouching(context.Background(), fake, "water", cluster.Options{IDColumn: "id", OutputID: "id"}, "Water")
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))
	assert.Empty(t, fake.Queries)
	assert.Empty(t, fake.Execs)
}

func TestMergeTouchingMissingTable(t *testing.T) {
	fake := dbtest.NewFake()
	fake.Respond = func(query string, args []any) ([][]any, error) {
		return [][]any{{int64(0)}}, nil
	}

	_, err := cluster.MergeTouching(context.Background(), fake, "input", cluster.Options{IDColumn: "id", OutputID: "id"}, "out")
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))
}

func TestMergeTouchingWritesGroupsAndDropsScratch(t *testing.T) {
	fake := dbtest.NewFake()
	fake.Respond = func(query string, args []any) ([][]any, error) {
		switch {
		case strings.Contains(query, "information_schema"):
			return [][]any{{int64(1)}}, nil
		case strings.Contains(query, "id_start"):
			return [][]any{{int64(1), int64(2)}}, nil
		case strings.Contains(query, "SELECT id_node FROM"):
			return [][]any{{int64(1)}, {int64(2)}, {int64(3)}}, nil
		}
		return nil, nil
	}

	out, err := cluster.MergeTouching(context.Background(), fake, "input", cluster.Options{
		IDColumn: "id_water",
		OutputID: "id",
		Distance: 0.5,
		AreaGate: 100,
	}, "merged")
	require.NoError(t, err)
	assert.Equal(t, "merged", out)

	var groups [][]any
	for table, rows := range fake.Inserts {
		if strings.Contains(table, "groups") {
			groups = rows
		}
	}
	assert.Equal(t, [][]any{{int64(1), 1, 2}, {int64(2), 1, 2}, {int64(3), 2, 1}}, groups)

	merge := fake.ExecsContaining("CREATE TABLE merged")
	require.Len(t, merge, 1)
	assert.Contains(t, merge[0], "ST_Buffer(n.the_geom, 0.5)")
	assert.Contains(t, merge[0], "area >= 100")

	// the scratch tables are dropped at the end
	assert.Len(t, fake.ExecsContaining("DROP TABLE IF EXISTS cluster_nodes_"), 1)
	assert.Len(t, fake.ExecsContaining("DROP TABLE IF EXISTS cluster_groups_"), 2)
}

func waterColumns() []database.Column {
	return []database.Column{
		{Name: "id_water", Type: database.Integer},
		{Name: "zindex", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
	}
}

func TestMergeTouchingDuckDB(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	dbtest.CreateLayer(t, s, "water", waterColumns(), [][]any{
		{1, 0, square(0, 0, 10)},
		{2, 0, square(10, 0, 10)},
		{3, 0, square(20, 0, 10)},
		{4, 0, square(100, 100, 5)},
	})

	opts := cluster.Options{IDColumn: "id_water", OutputID: "id"}
	_, err := cluster.MergeTouching(ctx, s, "water", opts, "water_merged")
	require.NoError(t, err)

	geoms, err := database.ReadGeometries(ctx, s, "water_merged", "id", "the_geom")
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.InDelta(t, 300, planar.Area(geoms[1]), 1e-6)
	assert.InDelta(t, 25, planar.Area(geoms[2]), 1e-6)

	// merging merged output changes nothing
	_, err = cluster.MergeTouching(ctx, s, "water_merged", opts, "water_again")
	require.NoError(t, err)
	count, err := database.RowCount(ctx, s, "water_again")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// the gate drops the small isolated square
	opts.AreaGate = 100
	_, err = cluster.MergeTouching(ctx, s, "water", opts, "water_gated")
	require.NoError(t, err)
	count, err = database.RowCount(ctx, s, "water_gated")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMergeTouchingAdjacencyFilter(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	dbtest.CreateLayer(t, s, "water", waterColumns(), [][]any{
		{1, 0, square(0, 0, 10)},
		{2, 1, square(10, 0, 10)},
	})

	_, err := cluster.MergeTouching(ctx, s, "water", cluster.Options{
		IDColumn:        "id_water",
		OutputID:        "id",
		AdjacencyFilter: "zindex = 0",
	}, "water_merged")
	require.NoError(t, err)

	count, err := database.RowCount(ctx, s, "water_merged")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMergeTouchingDistance(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	dbtest.CreateLayer(t, s, "water", waterColumns(), [][]any{
		{1, 0, square(0, 0, 10)},
		{2, 0, square(10.2, 0, 10)},
	})

	_, err := cluster.MergeTouching(ctx, s, "water", cluster.Options{IDColumn: "id_water", OutputID: "id"}, "apart")
	require.NoError(t, err)
	count, err := database.RowCount(ctx, s, "apart")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = cluster.MergeTouching(ctx, s, "water", cluster.Options{IDColumn: "id_water", OutputID: "id", Distance: 0.5}, "snapped")
	require.NoError(t, err)
	count, err = database.RowCount(ctx, s, "snapped")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
