package lcz

import (
	"sort"

	"github.com/tebben/geoclimate/errors"
)

const MaxLevels = 9

// Direction is a compass neighbour, rows grow northwards and columns eastwards.
type Direction struct {
	Name string
	DRow int
	DCol int
}

var Directions = [8]Direction{
	{"n", 1, 0},
	{"ne", 1, 1},
	{"e", 0, 1},
	{"se", -1, 1},
	{"s", -1, 0},
	{"sw", -1, -1},
	{"w", 0, -1},
	{"nw", 1, -1},
}

// Cell is a base grid cell, LCZ is nil when the cell has no class.
type Cell struct {
	ID  int64
	Row int
	Col int
	LCZ *int
}

// Neighborhood holds one value per entry of Directions, nil when the neighbour
// is missing or has no value.
type Neighborhood [8]*int

type BaseAnnotation struct {
	// Primary are the classes of the 8 neighbours.
	Primary Neighborhood
	// Warm counts the warm cells among the cell and its neighbours.
	Warm int
}

type LevelAnnotation struct {
	Row int
	Col int
	// Primary is the class selected for the coarse cell.
	Primary          *int
	PrimaryNeighbors Neighborhood
	Warm             int
	Cool             int
	WarmNeighbors    Neighborhood
}

// Annotation is everything derived for one base cell.
type Annotation struct {
	ID     int64
	Base   BaseAnnotation
	Levels []LevelAnnotation
}

type key struct {
	row int
	col int
}

type coarseCell struct {
	counts  map[int]int
	classes []int
	warm    int
	cool    int
	primary *int
}

func pow3(n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= 3
	}
	return p
}

// CoarseIndex is the row or column of v at level: floor(|v-1| / 3^level) + 1.
func CoarseIndex(v, level int) int {
	d := v - 1
	if d < 0 {
		d = -d
	}
	return d/pow3(level) + 1
}

// Aggregate annotates every cell with its base neighbourhood and, for the
// levels 1 to nbLevels, the class selected for the coarse cell it belongs to.
//
// A coarse cell selects the class with the highest count among its members,
// ties go to the highest weight (see Weight), remaining ties to the class seen
// first in row then column order. Columns of level i are shifted by
// i*(max column+1) so indexes never repeat between levels.
func Aggregate(cells []Cell, nbLevels int, weights map[int]int) ([]Annotation, error) {
	if nbLevels < 1 || nbLevels > MaxLevels {
		return nil, errors.Precondition("nb_levels", "must be between 1 and %d, got %d", MaxLevels, nbLevels)
	}

	ordered := make([]Cell, len(cells))
	copy(ordered, cells)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Row != ordered[j].Row {
			return ordered[i].Row < ordered[j].Row
		}
		return ordered[i].Col < ordered[j].Col
	})

	base := make(map[key]*int, len(ordered))
	maxCol := 0
	for _, c := range ordered {
		base[key{c.Row, c.Col}] = c.LCZ
		if c.Col > maxCol {
			maxCol = c.Col
		}
	}

	annotations := make([]Annotation, len(ordered))
	for i, c := range ordered {
		a := Annotation{ID: c.ID, Levels: make([]LevelAnnotation, nbLevels)}
		if c.LCZ != nil && IsWarm(*c.LCZ) {
			a.Base.Warm++
		}
		for d, dir := range Directions {
			class, ok := base[key{c.Row + dir.DRow, c.Col + dir.DCol}]
			if !ok {
				continue
			}
			a.Base.Primary[d] = class
			if class != nil && IsWarm(*class) {
				a.Base.Warm++
			}
		}
		annotations[i] = a
	}

	for level := 1; level <= nbLevels; level++ {
		shift := level * (maxCol + 1)
		index := func(c Cell) key {
			return key{CoarseIndex(c.Row, level), CoarseIndex(c.Col, level) + shift}
		}

		coarse := make(map[key]*coarseCell)
		for _, c := range ordered {
			k := index(c)
			cc, ok := coarse[k]
			if !ok {
				cc = &coarseCell{counts: make(map[int]int)}
				coarse[k] = cc
			}
			if c.LCZ == nil {
				continue
			}
			class := *c.LCZ
			if cc.counts[class] == 0 {
				cc.classes = append(cc.classes, class)
			}
			cc.counts[class]++
			if IsWarm(class) {
				cc.warm++
			}
			if IsCool(class) {
				cc.cool++
			}
		}

		for _, cc := range coarse {
			cc.primary = cc.selectPrimary(weights)
		}

		for i, c := range ordered {
			k := index(c)
			cc := coarse[k]

			la := LevelAnnotation{
				Row:     k.row,
				Col:     k.col,
				Primary: cc.primary,
				Warm:    cc.warm,
				Cool:    cc.cool,
			}
			for d, dir := range Directions {
				n, ok := coarse[key{k.row + dir.DRow, k.col + dir.DCol}]
				if !ok {
					continue
				}
				warm := n.warm
				la.PrimaryNeighbors[d] = n.primary
				la.WarmNeighbors[d] = &warm
			}
			annotations[i].Levels[level-1] = la
		}
	}

	return annotations, nil
}

func (c *coarseCell) selectPrimary(weights map[int]int) *int {
	if len(c.classes) == 0 {
		return nil
	}

	best := c.classes[0]
	for _, class := range c.classes[1:] {
		if c.counts[class] != c.counts[best] {
			if c.counts[class] > c.counts[best] {
				best = class
			}
			continue
		}
		if Weight(weights, class) > Weight(weights, best) {
			best = class
		}
	}

	return &best
}
