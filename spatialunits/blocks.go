package spatialunits

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/cluster"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
)

// CreateBlocks merges the buildings that touch, or are closer than snapping,
// into blocks written to out (id_block, the_geom).
func CreateBlocks(ctx context.Context, s database.Store, building string, snapping float64, out string) (string, error) {
	if err := database.DistinctOutput(out, building); err != nil {
		return "", err
	}
	if err := requireTable(ctx, s, building, "id_build", "the_geom"); err != nil {
		return "", err
	}

	return cluster.MergeTouching(ctx, s, building, cluster.Options{
		IDColumn: "id_build",
		OutputID: "id_block",
		Distance: snapping,
	}, out)
}

// BuildingBlocks writes to out the block of every building (id_build, id_block),
// matched on the point on surface of the building.
func BuildingBlocks(ctx context.Context, s database.Store, building, blocks, out string) (string, error) {
	if err := database.ValidIdentifier(out); err != nil {
		return "", err
	}
	if err := database.DistinctOutput(out, building, blocks); err != nil {
		return "", err
	}
	if err := requireTable(ctx, s, building, "id_build", "the_geom"); err != nil {
		return "", err
	}
	if err := requireTable(ctx, s, blocks, "id_block", "the_geom"); err != nil {
		return "", err
	}

	if err := database.DropTables(ctx, s, out); err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		SELECT
			b.id_build,
			k.id_block
		FROM
			%[2]s AS b
		JOIN
			%[3]s AS k
		ON
			%[4]s
		AND
			ST_Intersects(k.the_geom, ST_PointOnSurface(b.the_geom))`,
		out, building, blocks, s.Dialect().BBoxIntersects("k.the_geom", "b.the_geom"))

	if err := s.Exec(ctx, query); err != nil {
		return "", fmt.Errorf("unable to relate %s to %s: %w", building, blocks, err)
	}

	log.Debugf("Related buildings of %s to blocks of %s in %s", building, blocks, out)
	return out, nil
}

// requireTable checks that table is a valid existing table with columns.
func requireTable(ctx context.Context, s database.Store, table string, columns ...string) error {
	if table == "" {
		return errors.Precondition("table", "a table name is required")
	}
	if err := database.ValidIdentifier(table); err != nil {
		return err
	}

	exists, err := database.TableExists(ctx, s, table)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Precondition(table, "table does not exist")
	}

	missing, err := database.MissingColumns(ctx, s, table, columns...)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.Precondition(table, "missing columns %s", strings.Join(missing, ", "))
	}

	return nil
}
