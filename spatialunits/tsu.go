// Package spatialunits builds the reference spatial units of a zone: the
// topological partition (TSU), building blocks and regular grids.
package spatialunits

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
	"github.com/tebben/geoclimate/preprocess"
)

// TSUOptions control the partition of the line soup.
type TSUOptions struct {
	// MinArea drops faces whose area is not above it.
	MinArea float64
	// Tolerance is the precision grid the lines are snapped to before noding,
	// 0 disables snapping.
	Tolerance float64
}

func tsuColumns() []database.Column {
	return []database.Column{
		{Name: "id_rsu", Type: database.Integer},
		{Name: "the_geom", Type: database.Geometry},
	}
}

// CreateTSU nodes the lines of table lines, polygonizes them and writes the
// faces to out (id_rsu, the_geom). When zone is set, faces whose point on
// surface falls outside the zone are dropped. Faces with an area not above
// MinArea are dropped, not merged into a neighbour.
func CreateTSU(ctx context.Context, s database.Store, lines, zone string, opts TSUOptions, out string) (string, error) {
	if err := database.ValidIdentifiers(lines, zone, out); err != nil {
		return "", err
	}
	if opts.MinArea < 0 {
		return "", errors.Precondition("min_area", "must be >= 0, got %v", opts.MinArea)
	}
	if opts.Tolerance < 0 {
		return "", errors.Precondition("tolerance", "must be >= 0, got %v", opts.Tolerance)
	}
	if err := database.DistinctOutput(out, lines, zone); err != nil {
		return "", err
	}

	for _, table := range []string{lines, zone} {
		if table == "" {
			continue
		}
		exists, err := database.TableExists(ctx, s, table)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", errors.Precondition(table, "table does not exist")
		}
	}

	timeStart := time.Now()

	count, err := database.RowCount(ctx, s, lines)
	if err != nil {
		return "", err
	}
	if count == 0 {
		log.Warnf("No lines in %s, creating an empty partition %s", lines, out)
		if err := database.CreateTable(ctx, s, out, tsuColumns()); err != nil {
			return "", err
		}
		return out, nil
	}

	if err := database.DropTables(ctx, s, out); err != nil {
		return "", err
	}

	if err := s.Exec(ctx, tsuQuery(s.Dialect(), lines, zone, opts, out)); err != nil {
		return "", fmt.Errorf("unable to polygonize %s: %w", lines, err)
	}

	if err := database.CreateSpatialIndex(ctx, s, out, "the_geom"); err != nil {
		return "", err
	}

	faces, err := database.RowCount(ctx, s, out)
	if err != nil {
		return "", err
	}

	log.Infof("Created %d spatial units in %s from %d lines in %v", faces, out, count, time.Since(timeStart))
	return out, nil
}

func tsuQuery(d database.Dialect, lines, zone string, opts TSUOptions, out string) string {
	line := "the_geom"
	if opts.Tolerance > 0 {
		line = fmt.Sprintf("ST_ReducePrecision(the_geom, %s)", database.SQLFloat(opts.Tolerance))
	}

	inZone := ""
	if zone != "" {
		inZone = fmt.Sprintf(`
		AND EXISTS (
			SELECT 1
			FROM %s AS z
			WHERE %s
			AND ST_Intersects(z.the_geom, ST_PointOnSurface(f.the_geom))
		)`, zone, d.BBoxIntersects("z.the_geom", "f.the_geom"))
	}

	return fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		WITH noded AS (
			SELECT %[3]s AS the_geom
			FROM %[2]s
		),
		polygonized AS (
			SELECT %[4]s AS the_geom
			FROM noded
		),
		faces AS (
			SELECT %[5]s AS the_geom
			FROM polygonized
		)
		SELECT
			CAST(row_number() OVER () AS INTEGER) AS id_rsu,
			f.the_geom
		FROM
			faces AS f
		WHERE
			ST_Area(f.the_geom) > %[6]s%[7]s`,
		out, lines,
		d.UnionAgg(line),
		d.PolygonizeAgg("the_geom"),
		d.Dump("the_geom"),
		database.SQLFloat(opts.MinArea),
		inZone)
}

// BuildTSU prepares the boundaries of layers and partitions the zone with them.
func BuildTSU(ctx context.Context, s database.Store, layers preprocess.Layers, th preprocess.Thresholds, opts TSUOptions, out string) (string, error) {
	if err := database.ValidIdentifier(out); err != nil {
		return "", err
	}
	if err := database.DistinctOutput(out, layers.Tables()...); err != nil {
		return "", err
	}

	scope := database.NewScope(s, "tsu")
	defer scope.Close(ctx)

	lines, err := preprocess.PrepareTSUData(ctx, s, layers, th, scope.Table("lines"))
	if err != nil {
		return "", err
	}

	return CreateTSU(ctx, s, lines, layers.Zone, opts, out)
}
