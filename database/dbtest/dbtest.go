// Package dbtest provides stores for tests: a recording fake and an in-memory
// DuckDB store that skips the test when the spatial extension is unavailable.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/grid"
)

// DuckDB returns an in-memory DuckDB store closed at the end of the test.
func DuckDB(t *testing.T) *database.DuckStore {
	t.Helper()

	s, err := database.OpenDuckDB(context.Background(), "", 2154, 100)
	if err != nil {
		t.Skipf("duckdb spatial extension not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

// CreateLayer creates table with columns and inserts rows.
func CreateLayer(t *testing.T, s database.Store, table string, columns []database.Column, rows [][]any) {
	t.Helper()

	ctx := context.Background()
	if err := database.CreateTable(ctx, s, table, columns); err != nil {
		t.Fatalf("create %s: %v", table, err)
	}
	if err := s.InsertRows(ctx, table, columns, rows); err != nil {
		t.Fatalf("insert into %s: %v", table, err)
	}
}

// WKT parses a WKT string and fails the test when it is invalid.
func WKT(t *testing.T, s string) orb.Geometry {
	t.Helper()

	g, err := wkt.Unmarshal(s)
	if err != nil {
		t.Fatalf("invalid wkt %q: %v", s, err)
	}
	return g
}

// Fake is a Store that records statements and answers queries with Respond.
type Fake struct {
	D    database.Dialect
	Srid int

	// Respond returns the rows for a query, nil for no rows.
	Respond func(query string, args []any) ([][]any, error)
	// ExecErr makes Exec fail for matching statements.
	ExecErr func(query string) error

	mu      sync.Mutex
	Execs   []string
	Queries []string
	Inserts map[string][][]any
	Grids   map[string]grid.Spec
	Closed  bool
}

func NewFake() *Fake {
	return &Fake{
		D:       database.DuckDBDialect{},
		Inserts: make(map[string][][]any),
		Grids:   make(map[string]grid.Spec),
	}
}

func (f *Fake) Dialect() database.Dialect { return f.D }

func (f *Fake) SRID() int { return f.Srid }

func (f *Fake) Exec(ctx context.Context, query string, args ...any) error {
	f.mu.Lock()
	f.Execs = append(f.Execs, query)
	f.mu.Unlock()

	if f.ExecErr != nil {
		return f.ExecErr(query)
	}
	return nil
}

func (f *Fake) Query(ctx context.Context, query string, fn func(database.Scanner) error, args ...any) error {
	f.mu.Lock()
	f.Queries = append(f.Queries, query)
	f.mu.Unlock()

	if f.Respond == nil {
		return nil
	}

	rows, err := f.Respond(query, args)
	if err != nil {
		return err
	}

	for _, r := range rows {
		if err := fn(row(r)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) InsertRows(ctx context.Context, table string, columns []database.Column, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Inserts[table] = append(f.Inserts[table], rows...)
	return nil
}

func (f *Fake) CreateGrid(ctx context.Context, table string, spec grid.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Grids[table] = spec
	return nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// ExecsContaining returns the recorded statements that contain substr.
func (f *Fake) ExecsContaining(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found []string
	for _, q := range f.Execs {
		if strings.Contains(q, substr) {
			found = append(found, q)
		}
	}
	return found
}

type row []any

func (r row) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r))
	}

	for i, d := range dest {
		if err := assign(d, r[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *int64:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("cannot assign %T to *int64", v)
		}
		*d = n
	case *int:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("cannot assign %T to *int", v)
		}
		*d = int(n)
	case *float64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("cannot assign %T to *float64", v)
		}
		*d = f
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to *string", v)
		}
		*d = s
	case *[]byte:
		if v == nil {
			*d = nil
			return nil
		}
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("cannot assign %T to *[]byte", v)
		}
		*d = b
	case sql.Scanner:
		return d.Scan(v)
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
