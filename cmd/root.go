// Package cmd holds the geoclimate command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/service"
	"github.com/tebben/geoclimate/settings"
)

var configPath string

// Root is the geoclimate command.
var Root = &cobra.Command{
	Use:   "geoclimate",
	Short: "Spatial units and multiscale LCZ for urban climate studies.",
	Long: `geoclimate builds the spatial units of a zone (topological spatial units,
building blocks and regular grids) and aggregates Local Climate Zones over
multiscale grids. Every step reads and writes tables of the configured spatial
engine, an embedded DuckDB database or PostGIS.

Configuration is read from the file given with --config, an optional .env file
and environment variables in the format 'GEOCLIMATE_var'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.InitializeConfig(configPath); err != nil {
			return err
		}

		level, err := log.ParseLevel(settings.GetConfig().LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		log.SetLevel(level)

		return nil
	},
}

func init() {
	Root.PersistentFlags().StringVar(&configPath, "config", "", "configuration file location")

	Root.AddCommand(loadCmd, tsuCmd, blocksCmd, gridCmd, lczCmd, serveCmd)
}

// Execute runs the command line.
func Execute() error {
	return Root.Execute()
}

// withPipeline opens the configured pipeline, runs fn and closes it.
func withPipeline(cmd *cobra.Command, fn func(ctx context.Context, p *service.Pipeline) (service.TableResult, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := service.Open(ctx, settings.GetConfig())
	if err != nil {
		return err
	}
	defer database.CloseDBPools()
	defer p.Close()

	result, err := fn(ctx, p)
	if err != nil {
		return err
	}

	return printResult(cmd, result)
}

// printResult writes result as JSON to the standard output of cmd.
func printResult(cmd *cobra.Command, result service.TableResult) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
