package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/grid"
)

// DuckStore runs the pipeline on an embedded DuckDB database with the spatial
// extension. It holds a single connection.
type DuckStore struct {
	db        *sql.DB
	srid      int
	batchSize int
	dialect   DuckDBDialect
}

// OpenDuckDB opens the database file at path, an empty path opens an in-memory
// database. The spatial extension is installed when missing and loaded.
func OpenDuckDB(ctx context.Context, path string, srid, batchSize int) (*DuckStore, error) {
	db, err := getDuckDB(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open duckdb: %w", err)
	}

	// every connection of a pool would need its own LOAD, temp tables
	// and the extension state live on this one
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"INSTALL spatial", "LOAD spatial"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to load the duckdb spatial extension: %w", err)
		}
	}

	if batchSize < 1 {
		batchSize = 1
	}

	log.Debugf("Opened duckdb database '%s'", path)
	return &DuckStore{db: db, srid: srid, batchSize: batchSize}, nil
}

func getDuckDB(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

func (s *DuckStore) Dialect() Dialect { return s.dialect }

func (s *DuckStore) SRID() int { return s.srid }

func (s *DuckStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *DuckStore) Query(ctx context.Context, query string, fn func(Scanner) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s *DuckStore) InsertRows(ctx context.Context, table string, columns []Column, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	query := insertStatement(s.dialect, table, columns, s.srid)

	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		if err := s.insertBatch(ctx, query, columns, rows[start:end]); err != nil {
			return fmt.Errorf("unable to insert into %s: %w", table, err)
		}
	}

	return nil
}

func (s *DuckStore) insertBatch(ctx context.Context, query string, columns []Column, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args, err := encodeRow(columns, row)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CreateGrid renders the grid inside DuckDB, no cell is sent over the driver.
func (s *DuckStore) CreateGrid(ctx context.Context, table string, spec grid.Spec) error {
	if err := DropTables(ctx, s, table); err != nil {
		return err
	}

	x := func(col string) string {
		return fmt.Sprintf("%s + %s * %s", SQLFloat(spec.XMin), col, SQLFloat(spec.CellWidth))
	}
	y := func(row string) string {
		return fmt.Sprintf("%s + %s * %s", SQLFloat(spec.YMin), row, SQLFloat(spec.CellHeight))
	}

	query := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		SELECT
			CAST((r - 1) * %[3]d + c AS INTEGER) AS id_grid,
			%[4]s AS the_geom,
			CAST(c AS INTEGER) AS id_col,
			CAST(r AS INTEGER) AS id_row
		FROM
			generate_series(1, %[2]d) AS rs(r),
			generate_series(1, %[3]d) AS cs(c)`,
		table, spec.Rows, spec.Cols,
		s.dialect.MakeEnvelope(x("(c - 1)"), y("(r - 1)"), x("c"), y("r"), spec.SRID))

	if err := s.Exec(ctx, query); err != nil {
		return fmt.Errorf("unable to create grid %s: %w", table, err)
	}

	return nil
}

func (s *DuckStore) Close() error {
	return s.db.Close()
}
