// Package lcz aggregates the Local Climate Zone of a grid over coarser grids
// of 3^i by 3^i cells.
package lcz

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
)

// AnnotationColumns lists the columns added to the base grid for nbLevels.
func AnnotationColumns(nbLevels int) []string {
	var columns []string
	for _, dir := range Directions {
		columns = append(columns, "lcz_primary_"+dir.Name)
	}
	columns = append(columns, "lcz_warm")

	for i := 1; i <= nbLevels; i++ {
		columns = append(columns,
			fmt.Sprintf("id_row_lod_%d", i),
			fmt.Sprintf("id_col_lod_%d", i),
			fmt.Sprintf("lcz_primary_lod_%d", i))
		for _, dir := range Directions {
			columns = append(columns, fmt.Sprintf("lcz_primary_%s_lod_%d", dir.Name, i))
		}
		columns = append(columns,
			fmt.Sprintf("lcz_warm_lod_%d", i),
			fmt.Sprintf("lcz_cool_lod_%d", i))
		for _, dir := range Directions {
			columns = append(columns, fmt.Sprintf("lcz_warm_%s_lod_%d", dir.Name, i))
		}
	}

	return columns
}

// MultiscaleLCZGrid writes to out the rows of base with the neighbourhood of
// every cell and its aggregation over nbLevels coarser levels. base needs the
// columns lcz_primary, id_row, id_col (or id_column) and idColumn.
func MultiscaleLCZGrid(ctx context.Context, s database.Store, base, idColumn string, nbLevels int, weights map[int]int, out string) (string, error) {
	if nbLevels < 1 || nbLevels > MaxLevels {
		return "", errors.Precondition("nb_levels", "must be between 1 and %d, got %d", MaxLevels, nbLevels)
	}
	if err := database.ValidIdentifiers(base, idColumn, out); err != nil {
		return "", err
	}
	if idColumn == "" {
		return "", errors.Precondition("id column", "an id column is required")
	}
	if err := database.DistinctOutput(out, base); err != nil {
		return "", err
	}

	colColumn, err := checkBase(ctx, s, base, idColumn)
	if err != nil {
		return "", err
	}

	timeStart := time.Now()

	cells, err := readCells(ctx, s, base, idColumn, colColumn)
	if err != nil {
		return "", err
	}

	annotations, err := Aggregate(cells, nbLevels, weights)
	if err != nil {
		return "", err
	}

	scope := database.NewScope(s, "lcz")
	defer scope.Close(ctx)

	annotated := scope.Table("annotations")
	if err := writeAnnotations(ctx, s, annotated, annotations, nbLevels); err != nil {
		return "", err
	}

	if err := database.DropTables(ctx, s, out); err != nil {
		return "", err
	}

	selected := make([]string, 0)
	for _, c := range AnnotationColumns(nbLevels) {
		selected = append(selected, "a."+c)
	}

	query := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		SELECT
			b.*,
			%[4]s
		FROM
			%[2]s AS b
		LEFT JOIN
			%[3]s AS a ON a.lcz_id = b.%[5]s`,
		out, base, annotated, strings.Join(selected, ",\n\t\t\t"), idColumn)

	if err := s.Exec(ctx, query); err != nil {
		return "", fmt.Errorf("unable to join the lcz levels onto %s: %w", base, err)
	}

	log.Infof("Aggregated the lcz of %d cells of %s over %d levels into %s in %v",
		len(cells), base, nbLevels, out, time.Since(timeStart))

	return out, nil
}

// checkBase returns the name of the column index column of base.
func checkBase(ctx context.Context, s database.Store, base, idColumn string) (string, error) {
	exists, err := database.TableExists(ctx, s, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Precondition(base, "table does not exist")
	}

	columns, err := database.Columns(ctx, s, base)
	if err != nil {
		return "", err
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}

	var missing []string
	for _, c := range []string{"lcz_primary", "id_row", strings.ToLower(idColumn)} {
		if !present[c] {
			missing = append(missing, c)
		}
	}

	colColumn := "id_col"
	if !present[colColumn] {
		colColumn = "id_column"
		if !present[colColumn] {
			missing = append(missing, "id_col")
		}
	}

	if len(missing) > 0 {
		return "", errors.Precondition(base, "missing columns %s", strings.Join(missing, ", "))
	}

	return colColumn, nil
}

func readCells(ctx context.Context, s database.Store, base, idColumn, colColumn string) ([]Cell, error) {
	query := fmt.Sprintf("SELECT %s, id_row, %s, lcz_primary FROM %s", idColumn, colColumn, base)

	var cells []Cell
	skipped := 0
	err := s.Query(ctx, query, func(row database.Scanner) error {
		var id int64
		var r, c, class sql.NullInt64
		if err := row.Scan(&id, &r, &c, &class); err != nil {
			return err
		}
		if !r.Valid || !c.Valid {
			skipped++
			return nil
		}

		cell := Cell{ID: id, Row: int(r.Int64), Col: int(c.Int64)}
		if class.Valid {
			v := int(class.Int64)
			cell.LCZ = &v
		}
		cells = append(cells, cell)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read the cells of %s: %w", base, err)
	}

	if skipped > 0 {
		log.Warnf("Ignored %d cells of %s without row or column", skipped, base)
	}

	return cells, nil
}

func writeAnnotations(ctx context.Context, s database.Store, table string, annotations []Annotation, nbLevels int) error {
	columns := []database.Column{{Name: "lcz_id", Type: database.BigInt}}
	for _, name := range AnnotationColumns(nbLevels) {
		columns = append(columns, database.Column{Name: name, Type: database.Integer})
	}

	if err := database.CreateTable(ctx, s, table, columns); err != nil {
		return err
	}

	rows := make([][]any, len(annotations))
	for i, a := range annotations {
		rows[i] = annotationRow(a)
	}

	return s.InsertRows(ctx, table, columns, rows)
}

// annotationRow follows the order of AnnotationColumns.
func annotationRow(a Annotation) []any {
	row := []any{a.ID}
	row = appendNeighborhood(row, a.Base.Primary)
	row = append(row, a.Base.Warm)

	for _, l := range a.Levels {
		row = append(row, l.Row, l.Col, nullable(l.Primary))
		row = appendNeighborhood(row, l.PrimaryNeighbors)
		row = append(row, l.Warm, l.Cool)
		row = appendNeighborhood(row, l.WarmNeighbors)
	}

	return row
}

func appendNeighborhood(row []any, n Neighborhood) []any {
	for _, v := range n {
		row = append(row, nullable(v))
	}
	return row
}

func nullable(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
