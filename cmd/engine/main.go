// Command engine runs the detection and occupancy reconciliation engine:
// it ingests perception results over HTTP, reconciles zone occupancy,
// drives threat escalations and serves the engine's query surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/api"
	"github.com/kestrel-data/occupancy.report/internal/config"
	"github.com/kestrel-data/occupancy.report/internal/db"
	"github.com/kestrel-data/occupancy.report/internal/detector"
	"github.com/kestrel-data/occupancy.report/internal/version"
	"github.com/kestrel-data/occupancy.report/internal/vision"
)

var (
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	configPath    = flag.String("config", "", "Path to tuning config JSON")
	dbPath        = flag.String("db", "", "Path to engine database (overrides config)")
	migrationsDir = flag.String("migrations", "migrations", "Path to migrations directory")
)

func main() {
	flag.Parse()
	log.Printf("occupancy engine %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := &config.TuningConfig{}
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	database, err := db.New(path)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	if version, dirty, err := database.MigrateVersion(*migrationsDir); err == nil {
		log.Printf("database schema at version %d (dirty=%v)", version, dirty)
	}

	frames := detector.NewFrameBuffer()
	perception := detector.New(detector.Options{
		BaseURL:         cfg.GetDetectorBaseURL(),
		DetectTimeout:   cfg.GetDetectorTimeout(),
		ClassifyTimeout: cfg.GetClassifyTimeout(),
	})

	engine := vision.NewEngine(vision.EngineOptions{
		Zones:              vision.NewZoneStore(database.DB),
		Occupancy:          vision.NewOccupancyLog(database.DB),
		Frames:             frames,
		Classifier:         perception,
		VerdictTTL:         cfg.GetVerdictTTL(),
		SweepInterval:      cfg.GetSweepInterval(),
		StaleResultAge:     cfg.GetStaleResultAge(),
		OccupancyCooldown:  cfg.GetOccupancyCooldown(),
		TriggerCooldown:    cfg.GetTriggerCooldown(),
		TerminalResetDelay: cfg.GetTerminalResetDelay(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.Run(ctx)

	mux := http.NewServeMux()
	api.NewServer(engine, frames).RegisterRoutes(mux)
	database.AttachAdminRoutes(mux)

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("engine listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
