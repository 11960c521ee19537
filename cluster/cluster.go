// Package cluster merges geometries that touch, directly or through a chain of
// touching neighbours, into one geometry per connected component.
package cluster

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
)

// Options of MergeTouching.
type Options struct {
	// IDColumn is the integer primary key of the input table.
	IDColumn string
	// OutputID is the id column of the output table, sequential from 1.
	OutputID string
	// Distance > 0 connects geometries closer than Distance and buffers every
	// member of a merged component by Distance. 0 requires an intersection.
	Distance float64
	// AreaGate > 0 drops components whose summed member area is below it.
	AreaGate float64
	// Filter restricts the input rows, SQL predicate on the input columns.
	Filter string
	// AdjacencyFilter restricts the rows that may be connected to others, rows
	// not matching it are kept as singletons.
	AdjacencyFilter string
}

func (o Options) validate(input, out string) error {
	if err := database.ValidIdentifiers(input, out, o.IDColumn, o.OutputID); err != nil {
		return err
	}
	if err := database.DistinctOutput(out, input); err != nil {
		return err
	}
	if o.IDColumn == "" {
		return errors.Precondition("id column", "an id column is required")
	}
	if o.OutputID == "" {
		return errors.Precondition("output id", "an output id column is required")
	}
	if o.Distance < 0 {
		return errors.Precondition("distance", "the snapping distance must be >= 0, got %v", o.Distance)
	}
	if o.AreaGate < 0 {
		return errors.Precondition("area", "the area gate must be >= 0, got %v", o.AreaGate)
	}
	return nil
}

// MergeTouching clusters the geometries of input and writes one row per kept
// component to out (OutputID, the_geom). Components of two or more members are
// unioned and made valid, singletons pass through made valid.
func MergeTouching(ctx context.Context, s database.Store, input string, opts Options, out string) (string, error) {
	if err := opts.validate(input, out); err != nil {
		return "", err
	}

	exists, err := database.TableExists(ctx, s, input)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Precondition(input, "table does not exist")
	}

	timeStart := time.Now()

	scope := database.NewScope(s, "cluster")
	defer scope.Close(ctx)

	nodes := scope.Table("nodes")
	if err := createNodes(ctx, s, input, opts, nodes); err != nil {
		return "", err
	}

	ids, edges, err := readGraph(ctx, s, nodes, opts.Distance)
	if err != nil {
		return "", err
	}

	components := Components(ids, edges)

	groups := scope.Table("groups")
	if err := writeGroups(ctx, s, groups, components); err != nil {
		return "", err
	}

	if err := mergeGroups(ctx, s, nodes, groups, opts, out); err != nil {
		return "", err
	}

	log.Infof("Merged %d geometries of %s with %d adjacencies into %d components (%s) in %v",
		len(ids), input, len(edges), len(components), out, time.Since(timeStart))

	return out, nil
}

func predicate(expr string) string {
	if expr == "" {
		return "TRUE"
	}
	return fmt.Sprintf("(%s)", expr)
}

func createNodes(ctx context.Context, s database.Store, input string, opts Options, nodes string) error {
	query := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		SELECT
			CAST(%[3]s AS BIGINT) AS id_node,
			ST_MakeValid(the_geom) AS the_geom,
			ST_Area(the_geom) AS area,
			%[5]s AS adjacent
		FROM
			%[2]s
		WHERE
			the_geom IS NOT NULL
		AND
			%[4]s`,
		nodes, input, opts.IDColumn, predicate(opts.Filter), predicate(opts.AdjacencyFilter))

	if err := s.Exec(ctx, query); err != nil {
		return fmt.Errorf("unable to select the geometries of %s: %w", input, err)
	}

	return database.CreateSpatialIndex(ctx, s, nodes, "the_geom")
}

func readGraph(ctx context.Context, s database.Store, nodes string, distance float64) ([]int64, []Edge, error) {
	var ids []int64
	err := s.Query(ctx, fmt.Sprintf("SELECT id_node FROM %s", nodes), func(row database.Scanner) error {
		var id int64
		if err := row.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read graph nodes: %w", err)
	}

	d := s.Dialect()
	adjacency := fmt.Sprintf("%s AND ST_Intersects(a.the_geom, b.the_geom)", d.BBoxIntersects("a.the_geom", "b.the_geom"))
	if distance > 0 {
		adjacency = d.DWithin("a.the_geom", "b.the_geom", distance)
	}

	// the graph is undirected, one edge per unordered pair is enough
	query := fmt.Sprintf(`
		SELECT
			a.id_node AS id_start,
			b.id_node AS id_end
		FROM
			%[1]s AS a,
			%[1]s AS b
		WHERE
			a.id_node < b.id_node
		AND
			a.adjacent AND b.adjacent
		AND
			%[2]s`, nodes, adjacency)

	var edges []Edge
	err = s.Query(ctx, query, func(row database.Scanner) error {
		var e Edge
		if err := row.Scan(&e.Start, &e.End); err != nil {
			return err
		}
		edges = append(edges, e)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to build the adjacency graph: %w", err)
	}

	return ids, edges, nil
}

func writeGroups(ctx context.Context, s database.Store, groups string, components [][]int64) error {
	columns := []database.Column{
		{Name: "id_node", Type: database.BigInt},
		{Name: "id_group", Type: database.Integer},
		{Name: "members", Type: database.Integer},
	}

	if err := database.CreateTable(ctx, s, groups, columns); err != nil {
		return err
	}

	var rows [][]any
	for i, members := range components {
		for _, id := range members {
			rows = append(rows, []any{id, i + 1, len(members)})
		}
	}

	return s.InsertRows(ctx, groups, columns, rows)
}

func mergeGroups(ctx context.Context, s database.Store, nodes, groups string, opts Options, out string) error {
	if err := database.DropTables(ctx, s, out); err != nil {
		return err
	}

	member := "n.the_geom"
	if opts.Distance > 0 {
		member = fmt.Sprintf("ST_Buffer(n.the_geom, %s)", database.SQLFloat(opts.Distance))
	}

	gate := ""
	if opts.AreaGate > 0 {
		gate = fmt.Sprintf("WHERE area >= %s", database.SQLFloat(opts.AreaGate))
	}

	query := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		WITH merged AS (
			SELECT
				g.id_group,
				ST_MakeValid(%[5]s) AS the_geom,
				SUM(n.area) AS area
			FROM
				%[2]s AS n
			JOIN
				%[3]s AS g ON n.id_node = g.id_node
			WHERE
				g.members > 1
			GROUP BY
				g.id_group
			UNION ALL
			SELECT
				g.id_group,
				n.the_geom,
				n.area
			FROM
				%[2]s AS n
			JOIN
				%[3]s AS g ON n.id_node = g.id_node
			WHERE
				g.members = 1
		)
		SELECT
			CAST(row_number() OVER (ORDER BY id_group) AS INTEGER) AS %[4]s,
			the_geom
		FROM
			merged
		%[6]s`,
		out, nodes, groups, opts.OutputID, s.Dialect().UnionAgg(member), gate)

	if err := s.Exec(ctx, query); err != nil {
		return fmt.Errorf("unable to merge the components into %s: %w", out, err)
	}

	return database.CreateSpatialIndex(ctx, s, out, "the_geom")
}
