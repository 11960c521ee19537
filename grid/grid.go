// Package grid computes regular rectangular tessellations. Cells are numbered
// from the lower-left corner, id_row and id_col are 1-based.
package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/tebben/geoclimate/errors"
)

// ratios this close to an integer are not rounded up to an extra row or column
const epsilon = 1e-9

// Spec is a validated grid definition.
type Spec struct {
	XMin, YMin            float64
	CellWidth, CellHeight float64
	Rows, Cols            int
	SRID                  int
}

// Cell is a single grid cell.
type Cell struct {
	ID   int
	Row  int
	Col  int
	Geom orb.Polygon
}

// NewSpec validates the requested dimensions and computes the grid covering bound.
//
// In metric mode dx and dy are the cell width and height and must be > 0, the grid
// has ceil(width/dx) columns and ceil(height/dy) rows. In rowCol mode dx and dy
// are the number of columns and rows and must be whole numbers >= 1.
func NewSpec(bound orb.Bound, dx, dy float64, rowCol bool, srid int) (Spec, error) {
	if math.IsNaN(dx) || math.IsNaN(dy) {
		return Spec{}, errors.Precondition("grid", "width and height are required")
	}

	width := bound.Max.X() - bound.Min.X()
	height := bound.Max.Y() - bound.Min.Y()
	if width < 0 || height < 0 || math.IsNaN(width) || math.IsNaN(height) {
		return Spec{}, errors.Precondition("grid", "invalid bounding geometry")
	}

	spec := Spec{
		XMin: bound.Min.X(),
		YMin: bound.Min.Y(),
		SRID: srid,
	}

	if rowCol {
		if dx < 1 {
			return Spec{}, errors.Precondition("width", "the number of columns must be >= 1, got %v", dx)
		}
		if dy < 1 {
			return Spec{}, errors.Precondition("height", "the number of rows must be >= 1, got %v", dy)
		}
		if dx != math.Trunc(dx) {
			return Spec{}, errors.Precondition("width", "the number of columns must be a whole number, got %v", dx)
		}
		if dy != math.Trunc(dy) {
			return Spec{}, errors.Precondition("height", "the number of rows must be a whole number, got %v", dy)
		}
		if width == 0 || height == 0 {
			return Spec{}, errors.Precondition("grid", "the bounding geometry has an empty extent")
		}

		spec.Cols = int(dx)
		spec.Rows = int(dy)
		spec.CellWidth = width / float64(spec.Cols)
		spec.CellHeight = height / float64(spec.Rows)
		return spec, nil
	}

	if dx <= 0 {
		return Spec{}, errors.Precondition("width", "the cell width must be > 0, got %v", dx)
	}
	if dy <= 0 {
		return Spec{}, errors.Precondition("height", "the cell height must be > 0, got %v", dy)
	}

	spec.CellWidth = dx
	spec.CellHeight = dy
	spec.Cols = divCeil(width, dx)
	spec.Rows = divCeil(height, dy)

	return spec, nil
}

func divCeil(length, size float64) int {
	n := int(math.Ceil(length/size - epsilon))
	if n < 1 {
		return 1
	}
	return n
}

// Count returns the number of cells.
func (s Spec) Count() int {
	return s.Rows * s.Cols
}

// ID returns id_grid of the cell at row, col.
func (s Spec) ID(row, col int) int {
	return (row-1)*s.Cols + col
}

// CellBound returns the rectangle of the cell at row, col.
func (s Spec) CellBound(row, col int) orb.Bound {
	x := s.XMin + float64(col-1)*s.CellWidth
	y := s.YMin + float64(row-1)*s.CellHeight
	return orb.Bound{
		Min: orb.Point{x, y},
		Max: orb.Point{x + s.CellWidth, y + s.CellHeight},
	}
}

// Bound returns the extent covered by all cells, which may exceed the
// bounding geometry by less than one cell on the east and north sides.
func (s Spec) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{s.XMin, s.YMin},
		Max: orb.Point{s.XMin + float64(s.Cols)*s.CellWidth, s.YMin + float64(s.Rows)*s.CellHeight},
	}
}

// Cells enumerates every cell row by row.
func (s Spec) Cells() []Cell {
	cells := make([]Cell, 0, s.Count())
	s.Each(func(c Cell) {
		cells = append(cells, c)
	})
	return cells
}

// Each calls fn for every cell row by row without keeping them in memory.
func (s Spec) Each(fn func(Cell)) {
	for row := 1; row <= s.Rows; row++ {
		for col := 1; col <= s.Cols; col++ {
			fn(Cell{
				ID:   s.ID(row, col),
				Row:  row,
				Col:  col,
				Geom: s.CellBound(row, col).ToPolygon(),
			})
		}
	}
}
