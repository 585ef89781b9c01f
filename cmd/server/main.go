// Package main is the entry point for the netboot fleet server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"gorm.io/gorm"

	"github.com/bbernstein/netboot-go/internal/api"
	"github.com/bbernstein/netboot-go/internal/config"
	"github.com/bbernstein/netboot-go/internal/database"
	"github.com/bbernstein/netboot-go/internal/database/repositories"
	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/catalog"
	"github.com/bbernstein/netboot-go/internal/services/fleet"
	"github.com/bbernstein/netboot-go/internal/services/fleetio"
	"github.com/bbernstein/netboot-go/internal/services/network"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
	"github.com/bbernstein/netboot-go/pkg/netdimm"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Print startup banner
	printBanner(cfg)

	// Connect to database
	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment() && cfg.DBDebug,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	// Auto-migrate database schema
	log.Println("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migrations complete")

	app, err := newApp(context.Background(), cfg, db)
	if err != nil {
		log.Fatalf("Failed to start services: %v", err)
	}

	checkSubnets(context.Background(), app.fleet)

	if cfg.AdminToken == "" {
		log.Println("⚠️  ADMIN_TOKEN not set: admin power commands are trusted as sent")
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(cfg, app.api),
		ReadTimeout: 15 * time.Second,
		// The cabinet stream holds its connection open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		log.Printf("Cabinet stream: ws://localhost:%s/cabinets/stream\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	// Wait for power cycles in flight
	app.fleet.Close()

	log.Println("Server stopped")
}

type app struct {
	fleet *fleet.Service
	api   *api.Server
}

// newApp builds the services on top of a migrated database and seeds an
// empty registry.
func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB) (*app, error) {
	cat, err := catalog.New(ctx, cfg.CatalogFile, repositories.NewRomNameRepository(db))
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	outlets := outlet.NewService(outlet.ServiceConfig{
		Timeout:    cfg.OutletTimeout,
		CycleDelay: cfg.PowerCycleDelay,
	})

	probeTimeout := cfg.NetDimmTimeout
	if probeTimeout <= 0 {
		probeTimeout = netboot.SendTimeoutDuration(netboot.TargetNaomi, nil)
	}
	prober := netdimm.NewClient(probeTimeout)

	initial := netboot.Status(cfg.InitialStatus)
	if initial != netboot.StatusTurnedOff && initial != netboot.StatusStartup {
		return nil, fmt.Errorf("INITIAL_STATUS must be turned_off or startup, got %q", cfg.InitialStatus)
	}

	bus := pubsub.New()
	f := fleet.NewService(db, cat, outlets, prober, bus, fleet.Options{InitialStatus: initial})

	if _, err := fleetio.Seed(ctx, f, repositories.NewSettingRepository(db), cfg.CabinetSeedFile); err != nil {
		f.Close()
		return nil, err
	}

	srv := api.NewServer(f, bus, api.Options{AdminToken: cfg.AdminToken, Version: Version})
	return &app{fleet: f, api: srv}, nil
}

// checkSubnets warns about cabinets that no local interface can reach
// directly.
func checkSubnets(ctx context.Context, f *fleet.Service) {
	subnets, err := network.LocalSubnets()
	if err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	for _, s := range subnets {
		log.Printf("🌐 %s %s (%s)", s.Interface, s.CIDR, s.InterfaceType)
	}

	cabinets, err := f.List(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to list cabinets: %v", err)
		return
	}
	for _, c := range cabinets {
		if _, ok := network.Covering(subnets, c.IP); !ok {
			log.Printf("⚠️  Cabinet %s (%s) is not on a local subnet", c.IP, c.Description)
		}
	}
}

// newRouter mounts the API behind the standard middleware stack.
func newRouter(cfg *config.Config, srv *api.Server) http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin, "http://localhost:3000", "http://localhost:4000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", api.AdminTokenHeader},
		AllowCredentials: true,
		Debug:            cfg.IsDevelopment() && cfg.DBDebug,
	})
	router.Use(corsMiddleware.Handler)

	srv.Routes(router)
	return router
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  Netboot Fleet Server")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Catalog:     %s\n", cfg.CatalogFile)
	fmt.Println("============================================")
}
