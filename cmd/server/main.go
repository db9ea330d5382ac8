// Package main provides the conversion API HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/config"
	httpHandler "github.com/Global-Water-Security-Center/data-exploration/internal/http"
	"github.com/Global-Water-Security-Center/data-exploration/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	envFile := flag.String("env", ".env", "Environment file loaded before the configuration is read")
	_ = flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("climtile-server version %s\n", version)
		return
	}

	// Load configuration from the environment.
	cfg, err := config.Load(*envFile)
	if err != nil {
		glog.Exitf("Failed to load configuration: %v", err)
	}

	glog.Infof("Starting conversion API server...")
	glog.Infof("Port: %s", cfg.Port)
	cfg.Log()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize use cases.
	conv := usecase.NewConverter(cfg.Backend, geotiff.NewWriter())
	jobs := usecase.NewJobRunner(ctx, conv)

	// Setup router.
	router := httpHandler.SetupRouter(httpHandler.NewHandler(cfg, jobs), cfg.CORSAllowedOrigins)

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Port)
	glog.Infof("Server listening on %s", addr)
	glog.Infof("Health check: http://localhost:%s/health", cfg.Port)
	glog.Infof("API endpoints:")
	glog.Infof("  - GET  /v1/datasets")
	glog.Infof("  - GET  /v1/datasets/info")
	glog.Infof("  - POST /v1/conversions")
	glog.Infof("  - GET  /v1/conversions/:id")
	glog.Infof("  - GET  /v1/series")

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Exitf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	glog.Infof("Shutting down, waiting for running conversions")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("Failed to shut down server: %v", err)
	}
	jobs.Wait()
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Conversion API Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  climtile-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println("  -env FILE      Environment file (default: .env)")
	fmt.Println("  -v N           Verbose logging level")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  CACHE_DIR               Directory holding the netCDF inputs (default: _cache)")
	fmt.Println("  OUT_DIR                 Directory receiving tiles (default: _tiles)")
	fmt.Println("  WORKERS                 Concurrent tile writers per job (default: number of CPUs)")
	fmt.Println("  NC_BACKEND              netCDF reader: cdf or native (default: cdf)")
	fmt.Println("  DATASETS_PATH           TOML dataset registry (optional)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with default settings")
	fmt.Println("  climtile-server")
	fmt.Println()
	fmt.Println("  # Start server on custom port")
	fmt.Println("  PORT=3000 climtile-server")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                   Health check")
	fmt.Println("  GET  /v1/datasets              List registered datasets")
	fmt.Println("  GET  /v1/datasets/info         Describe a netCDF file (path=...)")
	fmt.Println("  POST /v1/conversions           Start a conversion job")
	fmt.Println("  GET  /v1/conversions/:id       Get a conversion job")
	fmt.Println("  GET  /v1/series                Point time series (path, variable, lat, lon, format)")
	fmt.Println()
}
