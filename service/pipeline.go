// Package service runs the pipeline steps on one store, for the CLI and the
// HTTP API alike.
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/lcz"
	"github.com/tebben/geoclimate/loader"
	"github.com/tebben/geoclimate/preprocess"
	"github.com/tebben/geoclimate/settings"
	"github.com/tebben/geoclimate/spatialunits"
)

// Pipeline serialises the steps run on its store, intermediate tables of two
// steps never live side by side on the one connection.
type Pipeline struct {
	mu     sync.Mutex
	store  database.Store
	config settings.Config
}

// TableResult describes the table a step produced.
type TableResult struct {
	Table string  `json:"table" doc:"Name of the output table"`
	Rows  int64   `json:"rows" doc:"Number of rows in the output table"`
	MS    float32 `json:"ms" doc:"Duration of the step in milliseconds"`
}

func NewPipeline(store database.Store, config settings.Config) *Pipeline {
	return &Pipeline{store: store, config: config}
}

// Open opens the store configured in config.
func Open(ctx context.Context, config settings.Config) (*Pipeline, error) {
	store, err := database.Open(ctx, config)
	if err != nil {
		return nil, err
	}
	return NewPipeline(store, config), nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Close()
}

func (p *Pipeline) Config() settings.Config {
	return p.config
}

// outputName returns name or the prefixed default table name.
func (p *Pipeline) outputName(name, fallback string) string {
	if name != "" {
		return name
	}
	if p.config.Process.Prefix == "" {
		return fallback
	}
	return fmt.Sprintf("%s_%s", p.config.Process.Prefix, fallback)
}

func (p *Pipeline) run(ctx context.Context, step func() (string, error)) (TableResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timeStart := time.Now()

	table, err := step()
	if err != nil {
		return TableResult{}, err
	}

	rows, err := database.RowCount(ctx, p.store, table)
	if err != nil {
		return TableResult{}, err
	}

	return TableResult{
		Table: table,
		Rows:  rows,
		MS:    float32(time.Since(timeStart).Milliseconds()),
	}, nil
}

type TSURequest struct {
	Layers preprocess.Layers `json:"layers"`
	// MinArea and Tolerance nil use the configuration.
	MinArea   *float64 `json:"min_area,omitempty" doc:"Faces not above this area are dropped"`
	Tolerance *float64 `json:"tolerance,omitempty" doc:"Snapping grid of the lines before noding, 0 disables snapping"`
	Output    string   `json:"output,omitempty" doc:"Output table, defaults to <prefix>_rsu"`
}

// TSU partitions the zone of req.Layers.
func (p *Pipeline) TSU(ctx context.Context, req TSURequest) (TableResult, error) {
	opts := spatialunits.TSUOptions{
		MinArea:   p.config.Process.MinTSUArea,
		Tolerance: p.config.Process.NodingTolerance,
	}
	if req.MinArea != nil {
		opts.MinArea = *req.MinArea
	}
	if req.Tolerance != nil {
		opts.Tolerance = *req.Tolerance
	}
	th := preprocess.ThresholdsFromConfig(p.config.Process)
	out := p.outputName(req.Output, "rsu")

	return p.run(ctx, func() (string, error) {
		return spatialunits.BuildTSU(ctx, p.store, req.Layers, th, opts, out)
	})
}

type BlocksRequest struct {
	Building string `json:"building" doc:"Building table with id_build and the_geom"`
	// Snapping nil uses the configured snapping tolerance.
	Snapping *float64 `json:"snapping,omitempty" doc:"Distance under which buildings are merged"`
	Output   string   `json:"output,omitempty" doc:"Output table, defaults to <prefix>_block"`
	// Relation, when set, receives (id_build, id_block).
	Relation string `json:"relation,omitempty" doc:"Optional table relating buildings to blocks"`
}

func (p *Pipeline) Blocks(ctx context.Context, req BlocksRequest) (TableResult, error) {
	snapping := p.config.Process.SnappingTolerance
	if req.Snapping != nil {
		snapping = *req.Snapping
	}
	out := p.outputName(req.Output, "block")
	if req.Relation != "" {
		if err := database.DistinctOutput(req.Relation, req.Building, out); err != nil {
			return TableResult{}, err
		}
	}

	return p.run(ctx, func() (string, error) {
		blocks, err := spatialunits.CreateBlocks(ctx, p.store, req.Building, snapping, out)
		if err != nil {
			return "", err
		}
		if req.Relation != "" {
			if _, err := spatialunits.BuildingBlocks(ctx, p.store, req.Building, blocks, req.Relation); err != nil {
				return "", err
			}
		}
		return blocks, nil
	})
}

type GridRequest struct {
	// Table is the table whose extent is covered.
	Table  string  `json:"table" doc:"Table whose extent the grid covers"`
	Width  float64 `json:"width" doc:"Cell width, or number of columns in row/col mode"`
	Height float64 `json:"height" doc:"Cell height, or number of rows in row/col mode"`
	RowCol bool    `json:"row_col,omitempty" doc:"Width and height are column and row counts"`
	Output string  `json:"output,omitempty" doc:"Output table, defaults to <prefix>_grid"`
}

func (p *Pipeline) Grid(ctx context.Context, req GridRequest) (TableResult, error) {
	opts := spatialunits.GridOptions{Width: req.Width, Height: req.Height, RowCol: req.RowCol}
	out := p.outputName(req.Output, "grid")

	return p.run(ctx, func() (string, error) {
		return spatialunits.CreateGridFromTable(ctx, p.store, req.Table, opts, out)
	})
}

type LCZRequest struct {
	Grid     string `json:"grid" doc:"Base grid with lcz_primary, id_row and id_col"`
	IDColumn string `json:"id_column,omitempty" doc:"Id column of the grid, defaults to id_grid"`
	Levels   int    `json:"levels,omitempty" doc:"Number of aggregation levels, 1 to 9"`
	Output   string `json:"output,omitempty" doc:"Output table, defaults to <prefix>_lcz_grid"`
}

func (p *Pipeline) LCZ(ctx context.Context, req LCZRequest) (TableResult, error) {
	idColumn := req.IDColumn
	if idColumn == "" {
		idColumn = "id_grid"
	}
	levels := req.Levels
	if levels == 0 {
		levels = p.config.Process.LCZLevels
	}
	weights := p.config.Process.LCZWeights
	if len(weights) == 0 {
		weights = settings.DefaultLCZWeights()
	}
	out := p.outputName(req.Output, "lcz_grid")

	return p.run(ctx, func() (string, error) {
		return lcz.MultiscaleLCZGrid(ctx, p.store, req.Grid, idColumn, levels, weights, out)
	})
}

// Load imports the parquet file at path, relative paths are resolved against
// the configured data folder.
func (p *Pipeline) Load(ctx context.Context, kind, path, table string) (TableResult, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.config.Process.Folder, path)
	}
	if table == "" {
		table = kind
	}

	return p.run(ctx, func() (string, error) {
		if _, err := loader.Load(ctx, p.store, kind, path, table); err != nil {
			return "", err
		}
		log.Debugf("Loaded %s as %s", path, kind)
		return table, nil
	})
}
