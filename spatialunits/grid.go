package spatialunits

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
	"github.com/tebben/geoclimate/grid"
)

// GridOptions are the cell dimensions, in CRS units or, with RowCol, the
// number of columns (Width) and rows (Height).
type GridOptions struct {
	Width  float64
	Height float64
	RowCol bool
}

// CreateGrid writes to out (id_grid, the_geom, id_col, id_row) a grid covering
// the bounding box of geometry. Nothing is created when the dimensions are invalid.
func CreateGrid(ctx context.Context, s database.Store, geometry orb.Geometry, opts GridOptions, out string) (string, error) {
	if geometry == nil {
		return "", errors.Precondition("geometry", "a geometry is required")
	}
	return createGrid(ctx, s, geometry.Bound(), opts, out)
}

// CreateGridFromTable writes to out a grid covering the extent of the_geom in table.
func CreateGridFromTable(ctx context.Context, s database.Store, table string, opts GridOptions, out string) (string, error) {
	if err := database.DistinctOutput(out, table); err != nil {
		return "", err
	}
	if err := requireTable(ctx, s, table, "the_geom"); err != nil {
		return "", err
	}

	bound, ok, err := database.Extent(ctx, s, table, "the_geom")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Precondition(table, "no geometry to cover")
	}

	return createGrid(ctx, s, bound, opts, out)
}

func createGrid(ctx context.Context, s database.Store, bound orb.Bound, opts GridOptions, out string) (string, error) {
	if err := database.ValidIdentifier(out); err != nil {
		return "", err
	}

	spec, err := grid.NewSpec(bound, opts.Width, opts.Height, opts.RowCol, s.SRID())
	if err != nil {
		return "", err
	}

	timeStart := time.Now()

	if err := s.CreateGrid(ctx, out, spec); err != nil {
		return "", err
	}
	if err := database.CreateSpatialIndex(ctx, s, out, "the_geom"); err != nil {
		return "", err
	}

	log.Infof("Created grid %s of %d rows and %d columns in %v", out, spec.Rows, spec.Cols, time.Since(timeStart))
	return out, nil
}
