package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/tebben/geoclimate/errors"
	"github.com/tebben/geoclimate/grid"
)

// Scanner is implemented by the rows of every backend.
type Scanner interface {
	Scan(dest ...any) error
}

// Column describes a column for CreateTable and InsertRows.
type Column struct {
	Name string
	Type ColumnType
}

// Store is the spatial engine the pipeline runs on. Every call blocks until the
// engine has finished the statement. A Store is not safe for concurrent use
// on the same tables, callers serialise access.
type Store interface {
	Dialect() Dialect
	// SRID is the CRS assigned to geometries created from Go values.
	SRID() int

	Exec(ctx context.Context, query string, args ...any) error
	// Query calls fn once per result row.
	Query(ctx context.Context, query string, fn func(Scanner) error, args ...any) error

	// InsertRows inserts rows in batches. Values of Geometry columns are orb.Geometry
	// or nil.
	InsertRows(ctx context.Context, table string, columns []Column, rows [][]any) error
	// CreateGrid creates a grid table (id_grid, the_geom, id_col, id_row).
	CreateGrid(ctx context.Context, table string, spec grid.Spec) error

	Close() error
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier checks that name can be used as a table or column name in
// generated SQL.
func ValidIdentifier(name string) error {
	if !identifierRegex.MatchString(name) {
		return errors.Precondition(name, "invalid table or column name")
	}
	return nil
}

// ValidIdentifiers runs ValidIdentifier on every name, empty names are skipped.
func ValidIdentifiers(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := ValidIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}

// DistinctOutput fails when out names one of inputs, compared without case.
// Operations drop their output before writing it and must never drop what
// they read.
func DistinctOutput(out string, inputs ...string) error {
	for _, in := range inputs {
		if in != "" && strings.EqualFold(in, out) {
			return errors.Precondition(out, "output table is also an input")
		}
	}
	return nil
}

func splitTableName(table string) (schema, name string) {
	if i := strings.Index(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

func schemaFilter(schema string) (string, []any) {
	if schema == "" {
		return "table_schema = current_schema()", nil
	}
	return "lower(table_schema) = lower($2)", []any{schema}
}

// TableExists reports whether table exists.
func TableExists(ctx context.Context, s Store, table string) (bool, error) {
	schema, name := splitTableName(table)
	filter, extra := schemaFilter(schema)

	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE %s AND lower(table_name) = lower($1)`, filter)

	var count int64
	err := s.Query(ctx, query, func(row Scanner) error {
		return row.Scan(&count)
	}, append([]any{name}, extra...)...)
	if err != nil {
		return false, fmt.Errorf("unable to check table %s: %w", table, err)
	}

	return count > 0, nil
}

// Columns returns the lower case column names of table in table order.
func Columns(ctx context.Context, s Store, table string) ([]string, error) {
	schema, name := splitTableName(table)
	filter, extra := schemaFilter(schema)

	query := fmt.Sprintf(`
		SELECT column_name
		FROM information_schema.columns
		WHERE %s AND lower(table_name) = lower($1)
		ORDER BY ordinal_position`, filter)

	var columns []string
	err := s.Query(ctx, query, func(row Scanner) error {
		var column string
		if err := row.Scan(&column); err != nil {
			return err
		}
		columns = append(columns, strings.ToLower(column))
		return nil
	}, append([]any{name}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("unable to read columns of %s: %w", table, err)
	}

	return columns, nil
}

// MissingColumns returns the names of required that table does not have.
func MissingColumns(ctx context.Context, s Store, table string, required ...string) ([]string, error) {
	columns, err := Columns(ctx, s, table)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}

	var missing []string
	for _, r := range required {
		if !present[strings.ToLower(r)] {
			missing = append(missing, r)
		}
	}

	return missing, nil
}

// RowCount returns the number of rows of table.
func RowCount(ctx context.Context, s Store, table string) (int64, error) {
	var count int64
	err := s.Query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table), func(row Scanner) error {
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("unable to count rows of %s: %w", table, err)
	}

	return count, nil
}

// DropTables drops every table that exists.
func DropTables(ctx context.Context, s Store, tables ...string) error {
	for _, table := range tables {
		if err := s.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("unable to drop table %s: %w", table, err)
		}
	}
	return nil
}

// CreateTable (re)creates an empty table.
func CreateTable(ctx context.Context, s Store, table string, columns []Column) error {
	d := s.Dialect()

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%s %s", c.Name, d.TypeName(c.Type))
	}

	if err := DropTables(ctx, s, table); err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if err := s.Exec(ctx, query); err != nil {
		return fmt.Errorf("unable to create table %s: %w", table, err)
	}

	return nil
}

// CreateSpatialIndex indexes column of table with the engine's spatial index.
func CreateSpatialIndex(ctx context.Context, s Store, table, column string) error {
	_, name := splitTableName(table)
	index := fmt.Sprintf("idx_%s_%s", name, column)

	if err := s.Exec(ctx, s.Dialect().SpatialIndex(index, table, column)); err != nil {
		return fmt.Errorf("unable to index %s.%s: %w", table, column, err)
	}

	return nil
}

// Extent returns the bounding box of column over all rows of table, ok is false
// when the table has no geometry.
func Extent(ctx context.Context, s Store, table, column string) (b orb.Bound, ok bool, err error) {
	query := fmt.Sprintf(`
		SELECT MIN(ST_XMin(%[2]s)), MIN(ST_YMin(%[2]s)), MAX(ST_XMax(%[2]s)), MAX(ST_YMax(%[2]s))
		FROM %[1]s`, table, column)

	var xmin, ymin, xmax, ymax sql.NullFloat64
	err = s.Query(ctx, query, func(row Scanner) error {
		return row.Scan(&xmin, &ymin, &xmax, &ymax)
	})
	if err != nil {
		return b, false, fmt.Errorf("unable to compute the extent of %s: %w", table, err)
	}

	if !xmin.Valid || !ymin.Valid || !xmax.Valid || !ymax.Valid {
		return b, false, nil
	}

	return orb.Bound{
		Min: orb.Point{xmin.Float64, ymin.Float64},
		Max: orb.Point{xmax.Float64, ymax.Float64},
	}, true, nil
}

// ReadGeometries returns the geometries of column, keyed by the integer id column.
func ReadGeometries(ctx context.Context, s Store, table, idColumn, column string) (map[int64]orb.Geometry, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", idColumn, s.Dialect().AsWKB(column), table)

	geometries := make(map[int64]orb.Geometry)
	err := s.Query(ctx, query, func(row Scanner) error {
		var id int64
		var data []byte
		if err := row.Scan(&id, &data); err != nil {
			return err
		}
		if data == nil {
			geometries[id] = nil
			return nil
		}

		g, err := wkb.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("invalid geometry for %s %d: %w", idColumn, id, err)
		}
		geometries[id] = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read geometries of %s: %w", table, err)
	}

	return geometries, nil
}

func insertStatement(d Dialect, table string, columns []Column, srid int) string {
	names := make([]string, len(columns))
	values := make([]string, len(columns))

	for i, c := range columns {
		names[i] = c.Name
		param := fmt.Sprintf("$%d", i+1)
		if c.Type == Geometry {
			param = d.GeomFromWKB(param, srid)
		}
		values[i] = param
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(values, ", "))
}

func encodeRow(columns []Column, row []any) ([]any, error) {
	if len(row) != len(columns) {
		return nil, fmt.Errorf("row has %d values, expected %d", len(row), len(columns))
	}

	args := make([]any, len(row))
	for i, v := range row {
		if columns[i].Type != Geometry || v == nil {
			args[i] = v
			continue
		}

		g, ok := v.(orb.Geometry)
		if !ok {
			return nil, fmt.Errorf("column %s expects a geometry, got %T", columns[i].Name, v)
		}

		data, err := wkb.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("unable to encode geometry for column %s: %w", columns[i].Name, err)
		}
		args[i] = data
	}

	return args, nil
}

func gridColumns() []Column {
	return []Column{
		{Name: "id_grid", Type: Integer},
		{Name: "the_geom", Type: Geometry},
		{Name: "id_col", Type: Integer},
		{Name: "id_row", Type: Integer},
	}
}
