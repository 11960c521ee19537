package spatialunits_test

import (
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/database/dbtest"
	"github.com/tebben/geoclimate/errors"
	"github.com/tebben/geoclimate/preprocess"
	"github.com/tebben/geoclimate/spatialunits"
)

var tsuOptions = spatialunits.TSUOptions{MinArea: 1, Tolerance: 0.001}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func createZone(t *testing.T, s database.Store, polygons ...orb.Polygon) {
	var rows [][]any
	for i, p := range polygons {
		rows = append(rows, []any{string(rune('a' + i)), p})
	}
	dbtest.CreateLayer(t, s, "zone", []database.Column{
		{Name: "id_zone", Type: database.Text},
		{Name: "the_geom", Type: database.Geometry},
	}, rows)
}

func createRoads(t *testing.T, s database.Store, roads ...[]any) {
	dbtest.CreateLayer(t, s, "road", roadColumns, roads)
}

func faceAreas(t *testing.T, s database.Store, table string) []float64 {
	geoms, err := database.ReadGeometries(context.Background(), s, table, "id_rsu", "the_geom")
	require.NoError(t, err)

	areas := make([]float64, 0, len(geoms))
	for id := int64(1); id <= int64(len(geoms)); id++ {
		g, ok := geoms[id]
		require.True(t, ok, "ids are sequential from 1")
		areas = append(areas, planar.Area(g))
	}
	return areas
}

func TestBuildTSUDiagonalRoad(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	createZone(t, s, square(0, 0, 1000))
	createRoads(t, s,
		[]any{1, orb.LineString{{0, 0}, {1000, 1000}}, "primary", 0, nil},
		// a minor way never splits a unit
		[]any{2, orb.LineString{{0, 1000}, {1000, 0}}, "track", 0, nil},
	)

	out, err := spatialunits.BuildTSU(ctx, s, preprocess.Layers{Zone: "zone", Road: "road"}, preprocess.DefaultThresholds(), tsuOptions, "rsu")
	require.NoError(t, err)
	assert.Equal(t, "rsu", out)

	areas := faceAreas(t, s, "rsu")
	require.Len(t, areas, 2)
	for _, a := range areas {
		assert.InDelta(t, 500000, a, 1)
	}

	// only the output is left behind
	exists, err := database.TableExists(ctx, s, "rsu")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBuildTSUPartitionsTheZone(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	createZone(t, s, square(0, 0, 1000))
	createRoads(t, s,
		[]any{1, orb.LineString{{-100, 400}, {1100, 400}}, "primary", 0, nil},
		[]any{2, orb.LineString{{300, -100}, {300, 1100}}, "secondary", 0, nil},
		// a ring outside the zone polygonizes to a face that is dropped
		[]any{3, orb.LineString{{2000, 0}, {2100, 0}, {2100, 100}, {2000, 100}, {2000, 0}}, "primary", 0, nil},
		// a tunnel does not bound anything
		[]any{4, orb.LineString{{0, 800}, {1000, 800}}, "primary", -1, nil},
	)

	_, err := spatialunits.BuildTSU(ctx, s, preprocess.Layers{Zone: "zone", Road: "road"}, preprocess.DefaultThresholds(), tsuOptions, "rsu")
	require.NoError(t, err)

	areas := faceAreas(t, s, "rsu")
	require.Len(t, areas, 4)

	total := 0.0
	for _, a := range areas {
		total += a
	}
	assert.InDelta(t, 1000000, total, 1)
}

func rect(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

var (
	railColumns = []database.Column{
		{Name: "id_rail", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
		{Name: "usage", Type: database.Text},
		{Name: "zindex", Type: database.Integer},
		{Name: "crossing", Type: database.Text},
	}
	roadColumns = []database.Column{
		{Name: "id_road", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
		{Name: "type", Type: database.Text},
		{Name: "zindex", Type: database.Integer},
		{Name: "crossing", Type: database.Text},
	}
	typedSurfaceColumns = []database.Column{
		{Name: "the_geom", Type: database.Geometry},
		{Name: "type", Type: database.Text},
	}
	vegetationColumns = []database.Column{
		{Name: "id_veget", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
		{Name: "height_class", Type: database.Text},
	}
	waterColumns = []database.Column{
		{Name: "id_water", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
		{Name: "zindex", Type: database.Integer},
	}
)

// Every layer crosses the 1000 x 1000 zone along y = 500 or lies inside it,
// faces is the number of spatial units the zone is split into.
func TestBuildTSULayerSelection(t *testing.T) {
	across := orb.LineString{{-100, 500}, {1100, 500}}
	lowerHalf := rect(-100, -100, 1100, 500)

	tests := []struct {
		name    string
		table   string
		columns []database.Column
		rows    [][]any
		layers  preprocess.Layers
		faces   int
	}{
		{"main rail at grade", "rail", railColumns, [][]any{{1, across, "main", 0, nil}}, preprocess.Layers{Rail: "rail"}, 2},
		{"main rail on a bridge", "rail", railColumns, [][]any{{1, across, "main", 1, "bridge"}}, preprocess.Layers{Rail: "rail"}, 2},
		{"main rail in a tunnel", "rail", railColumns, [][]any{{1, across, "main", -1, nil}}, preprocess.Layers{Rail: "rail"}, 1},
		{"branch rail", "rail", railColumns, [][]any{{1, across, "branch", 0, nil}}, preprocess.Layers{Rail: "rail"}, 1},
		{"road bridge", "road", roadColumns, [][]any{{1, across, "primary", 1, "bridge"}}, preprocess.Layers{Road: "road"}, 2},
		{"land", "sea_land", typedSurfaceColumns, [][]any{{lowerHalf, "land"}}, preprocess.Layers{SeaLandMask: "sea_land"}, 2},
		{"sea", "sea_land", typedSurfaceColumns, [][]any{{lowerHalf, "sea"}}, preprocess.Layers{SeaLandMask: "sea_land"}, 1},
		{"urban area", "urban", typedSurfaceColumns, [][]any{{lowerHalf, "residential"}}, preprocess.Layers{UrbanAreas: "urban"}, 2},
		{"social building", "urban", typedSurfaceColumns, [][]any{{lowerHalf, "social_building"}}, preprocess.Layers{UrbanAreas: "urban"}, 1},
		{"small urban area", "urban", typedSurfaceColumns, [][]any{{square(100, 100, 50), "residential"}}, preprocess.Layers{UrbanAreas: "urban"}, 1},
		// the shared edge at x = 500 disappears once the fragments are merged
		{"touching vegetation", "vegetation", vegetationColumns, [][]any{
			{1, rect(-100, -100, 500, 500), "low"},
			{2, rect(500, -100, 1100, 500), "low"},
		}, preprocess.Layers{Vegetation: "vegetation"}, 2},
		{"vegetation of two classes", "vegetation", vegetationColumns, [][]any{
			{1, rect(-100, -100, 500, 500), "low"},
			{2, rect(500, -100, 1100, 500), "high"},
		}, preprocess.Layers{Vegetation: "vegetation"}, 3},
		{"small vegetation", "vegetation", vegetationColumns, [][]any{
			{1, square(100, 100, 50), "low"},
			{2, square(150, 100, 50), "low"},
		}, preprocess.Layers{Vegetation: "vegetation"}, 1},
		{"touching water", "water", waterColumns, [][]any{
			{1, rect(-100, -100, 500, 500), 0},
			{2, rect(500, -100, 1100, 500), 0},
		}, preprocess.Layers{Water: "water"}, 2},
		{"water under a bridge", "water", waterColumns, [][]any{
			{1, rect(-100, -100, 500, 500), 0},
			{2, rect(500, -100, 1100, 500), 1},
		}, preprocess.Layers{Water: "water"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := dbtest.DuckDB(t)

			createZone(t, s, square(0, 0, 1000))
			dbtest.CreateLayer(t, s, tt.table, tt.columns, tt.rows)

			layers := tt.layers
			layers.Zone = "zone"
			_, err := spatialunits.BuildTSU(context.Background(), s, layers, preprocess.DefaultThresholds(), tsuOptions, "rsu")
			require.NoError(t, err)

			areas := faceAreas(t, s, "rsu")
			require.Len(t, areas, tt.faces)

			total := 0.0
			for _, a := range areas {
				total += a
			}
			assert.InDelta(t, 1000000, total, 1)
		})
	}
}

func TestOutputMustNotBeAnInput(t *testing.T) {
	ctx := context.Background()
	layers := preprocess.Layers{Zone: "zone", Road: "road", Water: "water"}

	tests := []struct {
		name string
		run  func(s database.Store) error
	}{
		{"tsu over its lines", func(s database.Store) error {
			_, err := spatialunits.CreateTSU(ctx, s, "lines", "zone", tsuOptions, "lines")
			return err
		}},
		{"tsu over the zone", func(s database.Store) error {
			_, err := spatialunits.CreateTSU(ctx, s, "lines", "zone", tsuOptions, "Zone")
			return err
		}},
		{"tsu over a layer", func(s database.Store) error {
			_, err := spatialunits.BuildTSU(ctx, s, layers, preprocess.DefaultThresholds(), tsuOptions, "road")
			return err
		}},
		{"blocks over the buildings", func(s database.Store) error {
			_, err := spatialunits.CreateBlocks(ctx, s, "building", 0, "building")
			return err
		}},
		{"relation over the buildings", func(s database.Store) error {
			_, err := spatialunits.BuildingBlocks(ctx, s, "building", "block", "BUILDING")
			return err
		}},
		{"relation over the blocks", func(s database.Store) error {
			_, err := spatialunits.BuildingBlocks(ctx, s, "building", "block", "block")
			return err
		}},
		{"grid over its extent", func(s database.Store) error {
			_, err := spatialunits.CreateGridFromTable(ctx, s, "zone", spatialunits.GridOptions{Width: 10, Height: 10}, "zone")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := dbtest.NewFake()

			err := tt.run(fake)
			require.Error(t, err)
			assert.True(t, errors.IsPrecondition(err))
			assert.Contains(t, err.Error(), "output table is also an input")
			assert.Empty(t, fake.Queries)
			assert.Empty(t, fake.Execs)
			assert.Empty(t, fake.Grids)
		})
	}
}

func TestBuildTSUMinArea(t *testing.T) {
	s := dbtest.DuckDB(t)

	createZone(t, s, square(0, 0, 1000))
	createRoads(t, s, []any{1, orb.LineString{{0, 10}, {1000, 10}}, "primary", 0, nil})

	_, err := spatialunits.BuildTSU(context.Background(), s, preprocess.Layers{Zone: "zone", Road: "road"},
		preprocess.DefaultThresholds(), spatialunits.TSUOptions{MinArea: 10000}, "rsu")
	require.NoError(t, err)

	// the 10000 strip is not above the threshold and is dropped
	areas := faceAreas(t, s, "rsu")
	require.Len(t, areas, 1)
	assert.InDelta(t, 990000, areas[0], 1)
}

func TestBuildTSURejectsTwoZones(t *testing.T) {
	s := dbtest.DuckDB(t)

	createZone(t, s, square(0, 0, 10), square(20, 0, 10))

	_, err := spatialunits.BuildTSU(context.Background(), s, preprocess.Layers{Zone: "zone"}, preprocess.DefaultThresholds(), tsuOptions, "rsu")
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))

	exists, err := database.TableExists(context.Background(), s, "rsu")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateTSUEmptyInput(t *testing.T) {
	fake := dbtest.NewFake()
	fake.Respond = func(query string, args []any) ([][]any, error) {
		if strings.Contains(query, "COUNT(*)") {
			if strings.Contains(query, "information_schema") {
				return [][]any{{int64(1)}}, nil
			}
			return [][]any{{int64(0)}}, nil
		}
		return nil, nil
	}

	out, err := spatialunits.CreateTSU(context.Background(), fake, "lines", "", tsuOptions, "rsu")
	require.NoError(t, err)
	assert.Equal(t, "rsu", out)

	assert.Equal(t, []string{"DROP TABLE IF EXISTS rsu", "CREATE TABLE rsu (id_rsu INTEGER, the_geom GEOMETRY)"}, fake.Execs)
}

func TestCreateTSUQuery(t *testing.T) {
	fake := dbtest.NewFake()
	fake.D = database.PostGISDialect{}
	fake.Respond = func(query string, args []any) ([][]any, error) {
		if strings.Contains(query, "COUNT(*)") {
			return [][]any{{int64(1)}}, nil
		}
		return nil, nil
	}

	_, err := spatialunits.CreateTSU(context.Background(), fake, "lines", "zone", tsuOptions, "rsu")
	require.NoError(t, err)

	created := fake.ExecsContaining("CREATE TABLE rsu")
	require.Len(t, created, 1)
	query := created[0]
	assert.Contains(t, query, "ST_Union(ST_ReducePrecision(the_geom, 0.001))")
	assert.Contains(t, query, "ST_Polygonize(the_geom)")
	assert.Contains(t, query, "(ST_Dump(the_geom)).geom")
	assert.Contains(t, query, "z.the_geom && f.the_geom")
	assert.Contains(t, query, "ST_Area(f.the_geom) > 1")
	assert.Len(t, fake.ExecsContaining("USING GIST"), 1)
}

func TestCreateTSUPreconditions(t *testing.T) {
	fake := dbtest.NewFake()

	_, err := spatialunits.CreateTSU(context.Background(), fake, "lines", "", spatialunits.TSUOptions{MinArea: -1}, "rsu")
	assert.True(t, errors.IsPrecondition(err))

	_, err = spatialunits.CreateTSU(context.Background(), fake, "lines", "", spatialunits.TSUOptions{Tolerance: -1}, "rsu")
	assert.True(t, errors.IsPrecondition(err))

	// the fake knows no table
	_, err = spatialunits.CreateTSU(context.Background(), fake, "lines", "", tsuOptions, "rsu")
	assert.True(t, errors.IsPrecondition(err))

	assert.Empty(t, fake.Execs)
}

func TestCreateBlocks(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	dbtest.CreateLayer(t, s, "building", []database.Column{
		{Name: "id_build", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
	}, [][]any{
		{1, square(0, 0, 10)},
		{2, square(10, 0, 10)},
		{3, square(10, 10, 10)},
		{4, square(50, 50, 10)},
	})

	_, err := spatialunits.CreateBlocks(ctx, s, "building", 0, "block")
	require.NoError(t, err)

	geoms, err := database.ReadGeometries(ctx, s, "block", "id_block", "the_geom")
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.InDelta(t, 300, planar.Area(geoms[1]), 1e-6)
	assert.InDelta(t, 100, planar.Area(geoms[2]), 1e-6)

	_, err = spatialunits.BuildingBlocks(ctx, s, "building", "block", "building_block")
	require.NoError(t, err)

	relation := map[int64]int64{}
	err = s.Query(ctx, "SELECT id_build, id_block FROM building_block", func(row database.Scanner) error {
		var build, block int64
		if err := row.Scan(&build, &block); err != nil {
			return err
		}
		relation[build] = block
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 1, 2: 1, 3: 1, 4: 2}, relation)
}

func TestCreateBlocksMissingColumn(t *testing.T) {
	s := dbtest.DuckDB(t)

	dbtest.CreateLayer(t, s, "building", []database.Column{{Name: "the_geom", Type: database.Geometry}}, nil)

	_, err := spatialunits.CreateBlocks(context.Background(), s, "building", 0, "block")
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))
	assert.Contains(t, err.Error(), "id_build")
}

func TestCreateGrid(t *testing.T) {
	fake := dbtest.NewFake()
	fake.Srid = 2154

	polygon := square(0, 0, 1000)
	_, err := spatialunits.CreateGrid(context.Background(), fake, polygon, spatialunits.GridOptions{Width: 300, Height: 250}, "grid")
	require.NoError(t, err)

	spec, ok := fake.Grids["grid"]
	require.True(t, ok)
	assert.Equal(t, 4, spec.Cols)
	assert.Equal(t, 4, spec.Rows)
	assert.Equal(t, 2154, spec.SRID)
	assert.Len(t, fake.ExecsContaining("CREATE INDEX"), 1)
}

func TestCreateGridInvalid(t *testing.T) {
	fake := dbtest.NewFake()
	polygon := square(0, 0, 1000)

	for _, opts := range []spatialunits.GridOptions{
		{Width: 0, Height: 10},
		{Width: 10, Height: -1},
		{Width: 0.5, Height: 2, RowCol: true},
	} {
		_, err := spatialunits.CreateGrid(context.Background(), fake, polygon, opts, "grid")
		require.Error(t, err)
		assert.True(t, errors.IsPrecondition(err))
	}

	_, err := spatialunits.CreateGrid(context.Background(), fake, nil, spatialunits.GridOptions{Width: 1, Height: 1}, "grid")
	assert.True(t, errors.IsPrecondition(err))

	assert.Empty(t, fake.Grids)
	assert.Empty(t, fake.Execs)
}

func TestCreateGridFromTable(t *testing.T) {
	s := dbtest.DuckDB(t)
	ctx := context.Background()

	createZone(t, s, square(0, 0, 1000))

	_, err := spatialunits.CreateGridFromTable(ctx, s, "zone", spatialunits.GridOptions{Width: 3, Height: 2, RowCol: true}, "grid")
	require.NoError(t, err)

	count, err := database.RowCount(ctx, s, "grid")
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	var maxRow, maxCol int64
	err = s.Query(ctx, "SELECT MAX(id_row), MAX(id_col) FROM grid", func(row database.Scanner) error {
		return row.Scan(&maxRow, &maxCol)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxRow)
	assert.Equal(t, int64(3), maxCol)
}
