// Package preprocess selects the parts of the input layers that bound the
// spatial units of a zone and assembles them into one table of lines.
package preprocess

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/cluster"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/errors"
	"github.com/tebben/geoclimate/preprocess/queries"
	"github.com/tebben/geoclimate/settings"
)

// Layers names the input tables. Zone is required, empty names are skipped.
type Layers struct {
	Zone        string `json:"zone" yaml:"zone"`
	Road        string `json:"road,omitempty" yaml:"road"`
	Rail        string `json:"rail,omitempty" yaml:"rail"`
	Vegetation  string `json:"vegetation,omitempty" yaml:"vegetation"`
	Water       string `json:"water,omitempty" yaml:"water"`
	SeaLandMask string `json:"sea_land_mask,omitempty" yaml:"sea_land_mask"`
	UrbanAreas  string `json:"urban_areas,omitempty" yaml:"urban_areas"`
}

// Thresholds are minimum surfaces, in square CRS units.
type Thresholds struct {
	Vegetation float64
	Water      float64
	UrbanAreas float64
}

const minThreshold = 100

func DefaultThresholds() Thresholds {
	return Thresholds{Vegetation: 10000, Water: 2500, UrbanAreas: 10000}
}

func ThresholdsFromConfig(c settings.ProcessConfig) Thresholds {
	return Thresholds{
		Vegetation: c.SurfaceVegetation,
		Water:      c.SurfaceHydro,
		UrbanAreas: c.SurfaceUrbanAreas,
	}
}

func (t Thresholds) Validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"surface_vegetation", t.Vegetation},
		{"surface_hydro", t.Water},
		{"surface_urban_areas", t.UrbanAreas},
	} {
		if v.value <= minThreshold {
			return errors.Precondition(v.name, "the area threshold must be greater than %d, got %v", minThreshold, v.value)
		}
	}
	return nil
}

// Tables returns the layer table names, absent layers are empty.
func (l Layers) Tables() []string {
	return []string{l.Zone, l.Road, l.Rail, l.Vegetation, l.Water, l.SeaLandMask, l.UrbanAreas}
}

// PrepareTSUData writes to out (id, the_geom) the zone boundary plus the
// selected boundaries of every present and non-empty layer.
func PrepareTSUData(ctx context.Context, s database.Store, layers Layers, th Thresholds, out string) (string, error) {
	if layers.Zone == "" {
		return "", errors.Precondition("zone", "a zone table is required")
	}
	if err := database.ValidIdentifiers(append(layers.Tables(), out)...); err != nil {
		return "", err
	}
	if err := database.DistinctOutput(out, layers.Tables()...); err != nil {
		return "", err
	}
	if err := th.Validate(); err != nil {
		return "", err
	}
	if err := checkZone(ctx, s, layers.Zone); err != nil {
		return "", err
	}

	timeStart := time.Now()

	scope := database.NewScope(s, "prep")
	defer scope.Close(ctx)

	parts := []string{fill(queries.BoundaryQuery, "%TABLE%", layers.Zone)}

	steps := []struct {
		name  string
		table string
		build func() ([]string, error)
	}{
		{"road", layers.Road, func() ([]string, error) {
			return single(ctx, s, layers.Road, queries.RoadColumns, fill(queries.RoadQuery, "%TABLE%", layers.Road))
		}},
		{"rail", layers.Rail, func() ([]string, error) {
			return single(ctx, s, layers.Rail, queries.RailColumns, fill(queries.RailQuery, "%TABLE%", layers.Rail))
		}},
		{"vegetation", layers.Vegetation, func() ([]string, error) {
			return vegetation(ctx, s, scope, layers.Vegetation, th.Vegetation)
		}},
		{"water", layers.Water, func() ([]string, error) {
			return water(ctx, s, scope, layers.Water, th.Water)
		}},
		{"sea/land mask", layers.SeaLandMask, func() ([]string, error) {
			return single(ctx, s, layers.SeaLandMask, queries.SeaLandColumns, fill(queries.SeaLandQuery, "%TABLE%", layers.SeaLandMask))
		}},
		{"urban areas", layers.UrbanAreas, func() ([]string, error) {
			query := fill(queries.UrbanAreaQuery, "%TABLE%", layers.UrbanAreas, "%MIN_AREA%", database.SQLFloat(th.UrbanAreas))
			return single(ctx, s, layers.UrbanAreas, queries.UrbanAreaColumns, query)
		}},
	}

	for _, step := range steps {
		ok, err := present(ctx, s, step.table)
		if err != nil {
			return "", err
		}
		if !ok {
			log.Warnf("Skipping %s layer: no data", step.name)
			continue
		}

		p, err := step.build()
		if err != nil {
			return "", fmt.Errorf("unable to prepare the %s layer: %w", step.name, err)
		}
		parts = append(parts, p...)
		log.Debugf("Prepared %s layer %s", step.name, step.table)
	}

	if err := database.DropTables(ctx, s, out); err != nil {
		return "", err
	}

	query := fill(queries.MergedLinesQuery, "%OUTPUT%", out, "%PARTS%", strings.Join(parts, "\nUNION ALL\n"))
	if err := s.Exec(ctx, query); err != nil {
		return "", fmt.Errorf("unable to merge the boundaries into %s: %w", out, err)
	}

	log.Infof("Prepared TSU input %s from %d sources in %v", out, len(parts), time.Since(timeStart))
	return out, nil
}

func checkZone(ctx context.Context, s database.Store, zone string) error {
	exists, err := database.TableExists(ctx, s, zone)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Precondition(zone, "multiple or missing zone")
	}

	count, err := database.RowCount(ctx, s, zone)
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.Precondition(zone, "multiple or missing zone, found %d rows", count)
	}

	missing, err := database.MissingColumns(ctx, s, zone, "the_geom")
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.Precondition(zone, "missing columns %s", strings.Join(missing, ", "))
	}

	return nil
}

// present reports whether table is set, exists and has rows.
func present(ctx context.Context, s database.Store, table string) (bool, error) {
	if table == "" {
		return false, nil
	}

	exists, err := database.TableExists(ctx, s, table)
	if err != nil || !exists {
		return false, err
	}

	count, err := database.RowCount(ctx, s, table)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func requireColumns(ctx context.Context, s database.Store, table string, columns []string) error {
	missing, err := database.MissingColumns(ctx, s, table, columns...)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.Precondition(table, "missing columns %s", strings.Join(missing, ", "))
	}
	return nil
}

func single(ctx context.Context, s database.Store, table string, columns []string, query string) ([]string, error) {
	if err := requireColumns(ctx, s, table, columns); err != nil {
		return nil, err
	}
	return []string{query}, nil
}

func vegetation(ctx context.Context, s database.Store, scope *database.Scope, table string, minArea float64) ([]string, error) {
	if err := requireColumns(ctx, s, table, queries.VegetationColumns); err != nil {
		return nil, err
	}

	var parts []string
	for _, class := range []string{"low", "high"} {
		merged, err := cluster.MergeTouching(ctx, s, table, cluster.Options{
			IDColumn: "id_veget",
			OutputID: "id",
			AreaGate: minArea,
			Filter:   fmt.Sprintf("height_class = '%s'", class),
		}, scope.Table("veget_"+class))
		if err != nil {
			return nil, err
		}
		parts = append(parts, fill(queries.BoundaryQuery, "%TABLE%", merged))
	}

	return parts, nil
}

func water(ctx context.Context, s database.Store, scope *database.Scope, table string, minArea float64) ([]string, error) {
	if err := requireColumns(ctx, s, table, queries.WaterColumns); err != nil {
		return nil, err
	}

	// bridges and tunnels stay in the graph but never join their neighbours
	merged, err := cluster.MergeTouching(ctx, s, table, cluster.Options{
		IDColumn:        "id_water",
		OutputID:        "id",
		AreaGate:        minArea,
		AdjacencyFilter: "zindex = 0",
	}, scope.Table("water"))
	if err != nil {
		return nil, err
	}

	return []string{fill(queries.BoundaryQuery, "%TABLE%", merged)}, nil
}

func fill(query string, pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		query = strings.ReplaceAll(query, pairs[i], pairs[i+1])
	}
	return query
}
