package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/timewarden/backend/internal/alarm"
	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/config"
	"github.com/timewarden/backend/internal/mock"
	"github.com/timewarden/backend/internal/storage"
	"github.com/timewarden/backend/internal/tracker"
	"github.com/timewarden/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Run with synthetic browsing activity (in-memory storage)")
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/timewarden/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	dbPath := flag.String("db", "", "Override state database path")
	flag.Parse()

	// Use XDG config directory if no config path specified
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	var kv browser.KVStore
	var boltKV *storage.BoltKV
	if *mockMode {
		kv = mock.NewMemKV()
	} else {
		boltKV, err = storage.OpenBolt(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("Failed to open state database: %v", err)
		}
		kv = boltKV
	}

	store := storage.NewStore(kv)

	scheduler, err := alarm.NewScheduler(kv)
	if err != nil {
		log.Fatalf("Failed to load alarms: %v", err)
	}

	// The host browser adapter attaches real capability surfaces; until
	// one connects, the in-memory surfaces stand in.
	host := mock.NewBrowser()
	trk := tracker.New(store, host.Capabilities(scheduler), tracker.Options{
		FlushInterval:        cfg.Tracking.FlushInterval,
		IdleDetectionSeconds: cfg.Tracking.IdleDetectionSeconds,
		InitRetry:            cfg.Tracking.InitRetry,
	})

	broadcaster := ws.NewBroadcaster(trk.AllStatus, cfg.Tracking.BroadcastThrottle, cfg.Tracking.SnapshotInterval, cfg.Server.MaxConnections)
	trk.SetEventSink(broadcaster.HandleEvent)

	server := ws.NewServer(cfg, trk, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go trk.Run(ctx)
	scheduler.Start()
	trk.Init()

	if *mockMode {
		log.Println("Starting in mock mode (synthetic browsing activity)")
		gen := mock.NewGenerator(host)
		go gen.Run(ctx, trk)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	go watchConfig(ctx, cfgPath, cfg, trk)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			log.Println("SIGHUP received, reloading config")
			reloadConfig(cfgPath, cfg, trk)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		trk.Suspend() // bank live tracking time before exit
		scheduler.Stop()
		broadcaster.Stop()
		cancel()
		if boltKV != nil {
			boltKV.Close()
		}
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// reloadConfig re-reads the config file, logs each changed tracking timing,
// and applies the new flush interval to the running tracker. The other
// tracking timings are stored in current but are not applied to the
// running tracker or broadcaster.
func reloadConfig(cfgPath string, current *config.Config, trk *tracker.Tracker) {
	next, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Printf("Config reload failed: %v", err)
		return
	}
	changes := config.Diff(current, next)
	if len(changes) == 0 {
		return
	}
	for _, change := range changes {
		log.Printf("Config reload: %s", change)
	}
	trk.SetFlushInterval(next.Tracking.FlushInterval)
	*current = *next
}

// watchConfig calls reloadConfig when the config file is rewritten.
// Server and storage settings still require a restart.
func watchConfig(ctx context.Context, cfgPath string, current *config.Config, trk *tracker.Tracker) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Config watcher unavailable: %v", err)
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace files rather than writing in
	// place, which would drop a file-level watch.
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		log.Printf("Config watcher unavailable: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != cfgPath || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			reloadConfig(cfgPath, current, trk)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}
