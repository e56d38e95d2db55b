package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"telecine/api"
	"telecine/config"
	"telecine/handlers"
	"telecine/services/catalog"
	"telecine/services/library"
	"telecine/services/probe"
	"telecine/services/store"
	"telecine/services/transcode"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	// Determine config path (env or default)
	configPath := os.Getenv("TELECINE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	ctx := context.Background()

	db, err := store.Open(ctx, settings.Store.Path)
	if err != nil {
		log.Fatalf("failed to open library store: %v", err)
	}
	defer db.Close()

	// Library roots come from the config file plus any registered in the
	// store by a previous run.
	roots := settings.Library.Roots
	if stored, err := db.Roots(ctx); err == nil {
		roots = mergeRoots(roots, stored)
	}
	for _, root := range settings.Library.Roots {
		if err := db.AddRoot(ctx, root); err != nil {
			log.Printf("warning: could not register root %q: %v", root, err)
		}
	}

	scanner := library.NewScanner(afero.NewOsFs(), roots, settings.Library.ScanWorkers)

	var showCatalog handlers.ShowCatalog
	if settings.Catalog.Enabled {
		showCatalog = catalog.NewClient(settings.Catalog.BaseURL, nil)
	}

	prober := probe.NewProber(settings.Transcode.FFprobePath)
	session := transcode.NewManager(settings.Transcode.FFmpegPath)

	videoHandler := handlers.NewVideoHandler(prober, session, settings.Transcode.IdleTimeoutSeconds)
	playbackHandler := handlers.NewPlaybackHandler(prober, session, db)
	libraryHandler := handlers.NewLibraryHandler(scanner, showCatalog, db)

	r := mux.NewRouter()
	api.Register(r, videoHandler, playbackHandler, libraryHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout for streaming
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("[main] server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("[main] shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop any in-flight transcode before closing the listener so ffmpeg
	// never outlives the server.
	session.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("[main] shutdown complete")
}

// mergeRoots unions configured and stored roots, keeping first-seen order.
func mergeRoots(configured, stored []string) []string {
	seen := make(map[string]struct{}, len(configured)+len(stored))
	var merged []string
	for _, root := range append(append([]string{}, configured...), stored...) {
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		merged = append(merged, root)
	}
	return merged
}
