package database

import (
	"context"
	"fmt"

	"github.com/tebben/geoclimate/settings"
)

// Open returns the store configured by config.Engine.
func Open(ctx context.Context, config settings.Config) (Store, error) {
	switch config.Engine {
	case settings.EngineDuckDB:
		return OpenDuckDB(ctx, config.DuckDB.Path, config.Process.SRID, config.Process.BatchSize)
	case settings.EnginePostGIS:
		return OpenPostGIS(ctx, "geoclimate", config.Database, config.Process.SRID, config.Process.BatchSize)
	default:
		return nil, fmt.Errorf("unknown engine '%s'", config.Engine)
	}
}
