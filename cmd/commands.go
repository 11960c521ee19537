package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tebben/geoclimate/loader"
	"github.com/tebben/geoclimate/server"
	"github.com/tebben/geoclimate/service"
	"github.com/tebben/geoclimate/settings"
)

var (
	loadTable string

	tsuRequest    service.TSURequest
	blocksRequest service.BlocksRequest
	blocksSnap    float64
	tsuMinArea    float64
	tsuTolerance  float64
	gridRequest   service.GridRequest
	lczRequest    service.LCZRequest
)

var loadCmd = &cobra.Command{
	Use:   "load <kind> <file>",
	Short: "Load a GeoParquet layer",
	Long: `load imports a GeoParquet file as a layer table. The kind decides the
table layout, relative paths are read from the configured data folder.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: loader.Kinds(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, func(ctx context.Context, p *service.Pipeline) (service.TableResult, error) {
			return p.Load(ctx, args[0], args[1], loadTable)
		})
	},
}

var tsuCmd = &cobra.Command{
	Use:   "tsu",
	Short: "Build the topological spatial units of a zone",
	Long: `tsu partitions the zone with the boundaries of its roads, rail,
vegetation, water, sea/land mask and urban areas. Layers that are not given,
do not exist or are empty are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("min-area") {
			tsuRequest.MinArea = &tsuMinArea
		}
		if cmd.Flags().Changed("tolerance") {
			tsuRequest.Tolerance = &tsuTolerance
		}
		return withPipeline(cmd, func(ctx context.Context, p *service.Pipeline) (service.TableResult, error) {
			return p.TSU(ctx, tsuRequest)
		})
	},
}

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Merge touching buildings into blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("snapping") {
			blocksRequest.Snapping = &blocksSnap
		}
		return withPipeline(cmd, func(ctx context.Context, p *service.Pipeline) (service.TableResult, error) {
			return p.Blocks(ctx, blocksRequest)
		})
	},
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Create a regular grid covering a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, func(ctx context.Context, p *service.Pipeline) (service.TableResult, error) {
			return p.Grid(ctx, gridRequest)
		})
	},
}

var lczCmd = &cobra.Command{
	Use:   "lcz",
	Short: "Aggregate the LCZ of a grid over coarser levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, func(ctx context.Context, p *service.Pipeline) (service.TableResult, error) {
			return p.LCZ(ctx, lczRequest)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		config := settings.GetConfig()

		p, err := service.Open(cmd.Context(), config)
		if err != nil {
			return err
		}

		return server.Start(config, p)
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadTable, "table", "", "output table, defaults to the kind")

	f := tsuCmd.Flags()
	layers := &tsuRequest.Layers
	f.StringVar(&layers.Zone, "zone", "zone", "zone table, exactly one row")
	f.StringVar(&layers.Road, "road", "", "road table")
	f.StringVar(&layers.Rail, "rail", "", "rail table")
	f.StringVar(&layers.Vegetation, "vegetation", "", "vegetation table")
	f.StringVar(&layers.Water, "water", "", "water table")
	f.StringVar(&layers.SeaLandMask, "sea-land-mask", "", "sea/land mask table")
	f.StringVar(&layers.UrbanAreas, "urban-areas", "", "urban areas table")
	f.Float64Var(&tsuMinArea, "min-area", 0, "faces not above this area are dropped, defaults to the configuration")
	f.Float64Var(&tsuTolerance, "tolerance", 0, "snapping grid of the lines, defaults to the configuration")
	f.StringVar(&tsuRequest.Output, "output", "", "output table")

	f = blocksCmd.Flags()
	f.StringVar(&blocksRequest.Building, "building", "building", "building table")
	f.Float64Var(&blocksSnap, "snapping", 0, "distance under which buildings are merged")
	f.StringVar(&blocksRequest.Output, "output", "", "output table")
	f.StringVar(&blocksRequest.Relation, "relation", "", "table relating buildings to blocks")

	f = gridCmd.Flags()
	f.StringVar(&gridRequest.Table, "table", "zone", "table whose extent the grid covers")
	f.Float64Var(&gridRequest.Width, "width", 100, "cell width, or number of columns with --row-col")
	f.Float64Var(&gridRequest.Height, "height", 100, "cell height, or number of rows with --row-col")
	f.BoolVar(&gridRequest.RowCol, "row-col", false, "width and height are column and row counts")
	f.StringVar(&gridRequest.Output, "output", "", "output table")

	f = lczCmd.Flags()
	f.StringVar(&lczRequest.Grid, "grid", "", "base grid with lcz_primary, id_row and id_col")
	f.StringVar(&lczRequest.IDColumn, "id-column", "id_grid", "id column of the base grid")
	f.IntVar(&lczRequest.Levels, "levels", 0, "number of aggregation levels, 0 uses the configuration")
	f.StringVar(&lczRequest.Output, "output", "", "output table")
	_ = lczCmd.MarkFlagRequired("grid")
}
