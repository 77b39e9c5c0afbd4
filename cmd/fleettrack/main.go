package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/fleettrack/internal/api"
	"github.com/banshee-data/fleettrack/internal/config"
	"github.com/banshee-data/fleettrack/internal/db"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/resource"
	"github.com/banshee-data/fleettrack/internal/serialmux"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/tracking"
	"github.com/banshee-data/fleettrack/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a tracking config file (.json, .yaml or .yml); empty uses built-in defaults")
	listen       = flag.String("listen", "", "Listen address (overrides listen_addr)")
	dbPathFlag   = flag.String("db-path", "", "SQLite database path (overrides db_path)")
	port         = flag.String("port", "", "Serial port of the GNSS receiver (overrides serial_port)")
	replayFile   = flag.String("replay", "", "Replay an NMEA log file instead of reading a serial port")
	replayLoop   = flag.Bool("replay-loop", false, "Restart the replay at end of file")
	disableGNSS  = flag.Bool("disable-gnss", false, "Run without a position receiver")
	autoStart    = flag.Bool("start", false, "Start tracking immediately (same as auto_start)")
	importFile   = flag.String("import-locations", "", "Import known locations from a JSON file at startup")
	logDisable   = flag.Bool("log-disable", false, "Disable all log output")
	verbose      = flag.Bool("verbose", false, "Log diagnostic lines (rejected samples, proximity shows)")
	printVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		os.Exit(runMigrate(os.Args[2:]))
	}
	flag.Parse()

	if *printVersion {
		fmt.Println(version.String())
		return
	}
	if *logDisable {
		monitoring.SetLogger(nil)
	}
	monitoring.SetDiagnostics(*verbose && !*logDisable)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg)

	if err := run(cfg); err != nil {
		log.Fatalf("fleettrack: %v", err)
	}
}

// runMigrate handles `fleettrack migrate [-db-path path] <action>`.
func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db-path", "fleettrack.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.TrackingConfig, error) {
	if path == "" {
		return config.DefaultTrackingConfig(), nil
	}
	return config.LoadTrackingConfig(path)
}

func applyFlagOverrides(cfg *config.TrackingConfig) {
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
	if *port != "" {
		cfg.SerialPort = port
	}
	if *autoStart {
		cfg.AutoStart = autoStart
	}
}

// openReceiver picks the line source: a replay file, a serial port or
// nothing at all.
func openReceiver(cfg *config.TrackingConfig, clock timeutil.Clock) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableGNSS:
		return serialmux.NewDisabledSerialMux(), nil
	case *replayFile != "":
		return serialmux.NewReplaySerialMux(*replayFile, clock, 0, *replayLoop)
	case cfg.GetSerialPort() != "":
		m, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetSerialOptions())
		if err != nil {
			return nil, err
		}
		if err := m.Initialize(cfg.SerialInitCmds...); err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to initialize receiver: %w", err)
		}
		return m, nil
	default:
		monitoring.Logf("no serial port or replay file configured; position source disabled")
		return serialmux.NewDisabledSerialMux(), nil
	}
}

func registerDB(reg *resource.Registry, path string) error {
	return reg.Register("db",
		func(context.Context) (any, error) { return db.NewDB(path) },
		func(v any) error { return v.(*db.DB).Close() },
	)
}

func run(cfg *config.TrackingConfig) error {
	monitoring.Logf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	metrics := monitoring.NewMetrics()

	if err := registerDB(resource.Default, cfg.GetDBPath()); err != nil {
		return err
	}
	dbHandle, err := resource.Default.Acquire("db")
	if err != nil {
		return err
	}
	defer dbHandle.Release()

	database, err := resource.Value[*db.DB](ctx, dbHandle)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if *importFile != "" {
		if err := importLocations(ctx, database, *importFile); err != nil {
			return err
		}
	}

	receiver, err := openReceiver(cfg, clock)
	if err != nil {
		return fmt.Errorf("failed to open receiver: %w", err)
	}
	defer receiver.Close()

	sink, closeSink, err := buildSink(cfg, dbHandle)
	if err != nil {
		return err
	}
	defer closeSink()
	emitter := telemetry.NewEmitter(cfg.EmitterConfig(), sink, clock, metrics)

	tracker := tracking.NewTracker(
		source.NewNMEASource(receiver, clock, cfg.GetUERE()),
		clock,
		cfg.TrackerConfig(),
		tracking.WithEmitter(emitter),
		tracking.WithMetrics(metrics),
		tracking.WithCallbacks(tracking.Callbacks{
			OnError: func(err error) { monitoring.Logf("tracking: %v", err) },
		}),
	)

	dir := buildDirectory(cfg, dbHandle)
	scanner := proximity.NewScanner(dir, tracker, clock, cfg.ScannerConfig(), metrics)
	scanner.SetPhase(cfg.GetProximityPhase())
	scanner.OnShow(func(m proximity.Match) {
		monitoring.Logf("proximity: arriving at %s (%.0fm)", m.Location.Name, m.DistanceM)
	})
	if cfg.GetProximityEnabled() {
		scanner.Enable()
	}

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := receiver.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("failed to monitor receiver: %v", err)
		}
		monitoring.Logf("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		emitter.Run(ctx)
		monitoring.Logf("telemetry routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner.Run(ctx)
		monitoring.Logf("proximity routine terminated")
	}()

	if cfg.GetAutoStart() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Start(ctx); err != nil {
				monitoring.Logf("auto start failed: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(tracker,
			api.WithScanner(scanner),
			api.WithEmitter(emitter),
			api.WithDirectory(dir),
			api.WithIngest(db.NewTelemetryStore(dbHandle)),
			api.WithMetrics(metrics),
			api.WithSerialMux(receiver),
		)
		mux := srv.ServeMux()
		srv.AttachDebugRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			monitoring.Logf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:              cfg.GetListenAddr(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		monitoring.Logf("listening on %s", cfg.GetListenAddr())

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		monitoring.Logf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	tracker.Stop()
	scanner.Disable()

	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
	return nil
}

func importLocations(ctx context.Context, database *db.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open locations file: %w", err)
	}
	defer f.Close()
	n, err := database.ImportLocations(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to import locations: %w", err)
	}
	monitoring.Logf("imported %d known locations from %s", n, path)
	return nil
}
