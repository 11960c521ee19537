package database

import (
	"fmt"
	"strconv"
)

// ColumnType is the engine independent type of a column.
type ColumnType int

const (
	Integer ColumnType = iota
	BigInt
	Double
	Text
	Geometry
)

// Dialect renders the SQL fragments that differ between spatial engines.
// Expressions are passed in and returned as SQL text.
type Dialect interface {
	Name() string
	TypeName(t ColumnType) string

	// UnionAgg is the aggregate union, lines are noded by it.
	UnionAgg(expr string) string
	PolygonizeAgg(expr string) string
	// Dump explodes a multi geometry into one row per part, usable in a select list.
	Dump(expr string) string

	BBoxIntersects(a, b string) string
	// DWithin is the distance predicate including a bounding box pre-filter where
	// the engine supports it.
	DWithin(a, b string, distance float64) string

	GeomFromWKB(param string, srid int) string
	AsWKB(expr string) string
	MakeEnvelope(xmin, ymin, xmax, ymax string, srid int) string

	SpatialIndex(index, table, column string) string
}

// DuckDBDialect targets DuckDB with the spatial extension loaded.
type DuckDBDialect struct{}

func (DuckDBDialect) Name() string { return "duckdb" }

func (DuckDBDialect) TypeName(t ColumnType) string {
	switch t {
	case Integer:
		return "INTEGER"
	case BigInt:
		return "BIGINT"
	case Double:
		return "DOUBLE"
	case Geometry:
		return "GEOMETRY"
	default:
		return "VARCHAR"
	}
}

func (DuckDBDialect) UnionAgg(expr string) string {
	return fmt.Sprintf("ST_Union_Agg(%s)", expr)
}

func (DuckDBDialect) PolygonizeAgg(expr string) string {
	return fmt.Sprintf("ST_Polygonize(list(%s))", expr)
}

func (DuckDBDialect) Dump(expr string) string {
	return fmt.Sprintf("UNNEST(list_transform(ST_Dump(%s), d -> d.geom))", expr)
}

func (DuckDBDialect) BBoxIntersects(a, b string) string {
	return fmt.Sprintf("ST_Intersects_Extent(%s, %s)", a, b)
}

func (DuckDBDialect) DWithin(a, b string, distance float64) string {
	return fmt.Sprintf("ST_DWithin(%s, %s, %s)", a, b, SQLFloat(distance))
}

// DuckDB geometries carry no SRID, the CRS is tracked by the store.
func (DuckDBDialect) GeomFromWKB(param string, srid int) string {
	return fmt.Sprintf("ST_GeomFromWKB(%s::BLOB)", param)
}

func (DuckDBDialect) AsWKB(expr string) string {
	return fmt.Sprintf("ST_AsWKB(%s)::BLOB", expr)
}

func (DuckDBDialect) MakeEnvelope(xmin, ymin, xmax, ymax string, srid int) string {
	return fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s)", xmin, ymin, xmax, ymax)
}

func (DuckDBDialect) SpatialIndex(index, table, column string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s USING RTREE (%s)", index, table, column)
}

// PostGISDialect targets PostgreSQL with PostGIS >= 3.1.
type PostGISDialect struct{}

func (PostGISDialect) Name() string { return "postgis" }

func (PostGISDialect) TypeName(t ColumnType) string {
	switch t {
	case Integer:
		return "integer"
	case BigInt:
		return "bigint"
	case Double:
		return "double precision"
	case Geometry:
		return "geometry"
	default:
		return "text"
	}
}

func (PostGISDialect) UnionAgg(expr string) string {
	return fmt.Sprintf("ST_Union(%s)", expr)
}

func (PostGISDialect) PolygonizeAgg(expr string) string {
	return fmt.Sprintf("ST_Polygonize(%s)", expr)
}

func (PostGISDialect) Dump(expr string) string {
	return fmt.Sprintf("(ST_Dump(%s)).geom", expr)
}

func (PostGISDialect) BBoxIntersects(a, b string) string {
	return fmt.Sprintf("%s && %s", a, b)
}

func (PostGISDialect) DWithin(a, b string, distance float64) string {
	d := SQLFloat(distance)
	return fmt.Sprintf("ST_Expand(%s, %s) && %s AND ST_DWithin(%s, %s, %s)", a, d, b, a, b, d)
}

func (PostGISDialect) GeomFromWKB(param string, srid int) string {
	return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", param, srid)
}

func (PostGISDialect) AsWKB(expr string) string {
	return fmt.Sprintf("ST_AsBinary(%s)", expr)
}

func (PostGISDialect) MakeEnvelope(xmin, ymin, xmax, ymax string, srid int) string {
	return fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s, %d)", xmin, ymin, xmax, ymax, srid)
}

func (PostGISDialect) SpatialIndex(index, table, column string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (%s)", index, table, column)
}

// SQLFloat formats v as a SQL numeric literal without losing precision.
func SQLFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
