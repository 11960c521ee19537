package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/grid"
	"github.com/tebben/geoclimate/settings"
)

// PostGISStore runs the pipeline on PostgreSQL/PostGIS. It holds one connection
// acquired from a named pool for its whole lifetime.
type PostGISStore struct {
	conn      *pgxpool.Conn
	srid      int
	batchSize int
	dialect   PostGISDialect
}

// OpenPostGIS acquires a connection from the pool registered under name and
// makes sure PostGIS is available.
func OpenPostGIS(ctx context.Context, name string, config settings.DatabaseConfig, srid, batchSize int) (*PostGISStore, error) {
	pool, err := GetDBPool(ctx, name, config)
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire a connection from '%s': %w", name, err)
	}

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgis is not available on '%s': %w", name, err)
	}

	if batchSize < 1 {
		batchSize = 1
	}

	log.Debugf("Acquired postgis connection from pool %s", name)
	return &PostGISStore{conn: conn, srid: srid, batchSize: batchSize}, nil
}

func (s *PostGISStore) Dialect() Dialect { return s.dialect }

func (s *PostGISStore) SRID() int { return s.srid }

func (s *PostGISStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.conn.Exec(ctx, query, args...)
	return err
}

func (s *PostGISStore) Query(ctx context.Context, query string, fn func(Scanner) error, args ...any) error {
	rows, err := s.conn.Query(ctx, query, args...)
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

func (s *PostGISStore) InsertRows(ctx context.Context, table string, columns []Column, rows [][]any) error {
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

func (s *PostGISStore) insertBatch(ctx context.Context, query string, columns []Column, rows [][]any) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		args, err := encodeRow(columns, row)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateGrid builds the cells in Go and inserts them in batches.
func (s *PostGISStore) CreateGrid(ctx context.Context, table string, spec grid.Spec) error {
	columns := gridColumns()
	if err := CreateTable(ctx, s, table, columns); err != nil {
		return err
	}

	query := insertStatement(s.dialect, table, columns, spec.SRID)
	rows := make([][]any, 0, s.batchSize)

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		err := s.insertBatch(ctx, query, columns, rows)
		rows = rows[:0]
		return err
	}

	var err error
	spec.Each(func(c grid.Cell) {
		if err != nil {
			return
		}
		rows = append(rows, []any{c.ID, c.Geom, c.Col, c.Row})
		if len(rows) == s.batchSize {
			err = flush()
		}
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("unable to create grid %s: %w", table, err)
	}

	return nil
}

func (s *PostGISStore) Close() error {
	s.conn.Release()
	return nil
}
