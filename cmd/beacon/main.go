// main is the entry point of the Beacon daemon. It initializes the
// configuration, logger, database, and GeoIP provider, restores the server
// directory, starts the synchronization engine, and serves the launcher API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dssb/beacon/internal/api"
	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/directory"
	"github.com/dssb/beacon/internal/fetch"
	"github.com/dssb/beacon/internal/geoip"
	"github.com/dssb/beacon/internal/heartbeat"
	"github.com/dssb/beacon/internal/listing"
	"github.com/dssb/beacon/internal/logger"
	"github.com/dssb/beacon/internal/models"
	"github.com/dssb/beacon/internal/storage"
	beaconsync "github.com/dssb/beacon/internal/sync"
	"github.com/dssb/beacon/internal/theme"
	"github.com/dssb/beacon/internal/vars"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Str("version", vars.Version).Msg("Starting beacon service...")

	// GeoIP
	var geoProvider *geoip.Provider
	if !cfg.GeoIP.Disabled {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		var err error
		geoProvider, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		} else {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Restore the directory from persistence
	dir := directory.New()
	stored, err := store.GetServers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load persisted servers")
	}
	for _, s := range stored {
		dir.Seed(s.Record, models.LiveStatus{
			Players:    s.Players,
			MaxPlayers: s.MaxPlayers,
			LatencyMs:  s.LatencyMs,
			LastSeenAt: s.LastSeen,
		})
	}
	log.Info().Int("servers", dir.Len()).Msg("Server directory restored")

	// Polling engine
	client := fetch.NewClient(vars.Name + "/" + vars.Version)
	poller := heartbeat.NewPoller(client, cfg.Heartbeat)
	themes := theme.NewFetcher(client, cfg.Theme.CacheSize, cfg.Theme.TTL, cfg.Theme.Timeout)

	scheduler := beaconsync.New(dir, poller, themes, store, cfg.Sync)
	scheduler.Start(context.Background())

	loader := listing.New(dir, poller, client, store, cfg.Listing)
	loader.Start(context.Background())

	// Launcher API
	apiServer := api.New(dir, scheduler, loader, themes, geoProvider, store, cfg.API)

	httpServer := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      apiServer.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.API.Address).Msg("API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}

	// Stop background work, then release network and database resources
	loader.Stop()
	scheduler.Stop()
	client.Close()

	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database")
	}

	log.Info().Msg("Beacon exited")
}
