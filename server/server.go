package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/api/handlers"
	"github.com/tebben/geoclimate/api/middleware"
	"github.com/tebben/geoclimate/database"
	"github.com/tebben/geoclimate/service"
	"github.com/tebben/geoclimate/settings"
)

// Start serves the pipeline API on the configured port until a stop signal
// is received. The pipeline is closed on return.
func Start(config settings.Config, pipeline *service.Pipeline) error {
	router := NewRouter(config, pipeline)
	server := &http.Server{Addr: fmt.Sprintf(":%v", config.Server.Port), Handler: router}
	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		log.Info("Stop signal received, shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 5*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}

		log.Info("Server stopped successfully")
		serverStopCtx()
	}()

	log.Info(fmt.Sprintf("GeoClimate started, running on port %v", config.Server.Port))
	defer database.CloseDBPools()
	defer pipeline.Close()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	// Wait for server context to be stopped
	<-serverCtx.Done()
	return nil
}

// NewRouter creates the router with the middleware and the API routes.
func NewRouter(config settings.Config, pipeline *service.Pipeline) http.Handler {
	router := chi.NewMux()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.Logger("router", log.StandardLogger(), logrus.DebugLevel))
	router.Use(chimiddleware.Recoverer)
	if config.Server.MaxConcurrentRequests > 0 {
		router.Use(chimiddleware.Throttle(config.Server.MaxConcurrentRequests))
	}
	if config.Server.Timeout > 0 {
		router.Use(chimiddleware.Timeout(time.Duration(config.Server.Timeout) * time.Second))
	}
	router.Use(chimiddleware.Compress(5, "application/json"))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.Server.CORS.AllowOrigins,
		AllowedMethods:   config.Server.CORS.AllowMethods,
		AllowedHeaders:   config.Server.CORS.AllowHeaders,
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           600,
	}))
	router.NotFound(handlers.NotFoundHandler)

	api := humachi.New(router, createHumaConfig())
	registerRoutes(api, config, pipeline)

	return router
}

func createHumaConfig() huma.Config {
	humaConfig := huma.DefaultConfig("GeoClimate", "1.0.0")
	humaConfig.CreateHooks = nil
	humaConfig.Info.Description = "GeoClimate builds the spatial units of a zone (topological spatial units, building blocks and grids) and aggregates Local Climate Zones over multiscale grids. Every step reads and writes tables of the configured spatial engine, DuckDB or PostGIS."
	humaConfig.Info.License = &huma.License{
		Name: "MIT",
	}

	return humaConfig
}

func registerRoutes(api huma.API, config settings.Config, pipeline *service.Pipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Status",
		Description: "Get the status of geoclimate.",
	}, handlers.StatusHandler(time.Now(), config.Engine))

	huma.Register(api, huma.Operation{
		OperationID:   "tsu",
		Method:        http.MethodPost,
		Path:          "/tsu",
		Summary:       "Topological spatial units",
		Description:   "Partition the zone with its roads, rail, vegetation, water, sea/land mask and urban areas.",
		DefaultStatus: http.StatusCreated,
	}, handlers.TSUHandler(pipeline))

	huma.Register(api, huma.Operation{
		OperationID:   "blocks",
		Method:        http.MethodPost,
		Path:          "/blocks",
		Summary:       "Building blocks",
		Description:   "Merge touching buildings into blocks.",
		DefaultStatus: http.StatusCreated,
	}, handlers.BlocksHandler(pipeline))

	huma.Register(api, huma.Operation{
		OperationID:   "grid",
		Method:        http.MethodPost,
		Path:          "/grid",
		Summary:       "Grid",
		Description:   "Create a regular grid covering the extent of a table.",
		DefaultStatus: http.StatusCreated,
	}, handlers.GridHandler(pipeline))

	huma.Register(api, huma.Operation{
		OperationID:   "lcz",
		Method:        http.MethodPost,
		Path:          "/lcz",
		Summary:       "Multiscale LCZ",
		Description:   "Aggregate the LCZ of a grid over coarser levels of 3^i by 3^i cells.",
		DefaultStatus: http.StatusCreated,
	}, handlers.LCZHandler(pipeline))
}
