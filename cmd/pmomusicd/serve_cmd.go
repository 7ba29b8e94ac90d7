// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pmomusic/pmomusicd/internal/bus"
	"github.com/pmomusic/pmomusicd/internal/bus/natsbus"
	"github.com/pmomusic/pmomusicd/internal/cache"
	"github.com/pmomusic/pmomusicd/internal/cache/distlock"
	"github.com/pmomusic/pmomusicd/internal/config"
	"github.com/pmomusic/pmomusicd/internal/control"
	"github.com/pmomusic/pmomusicd/internal/device"
	xglog "github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/mediaserver"
	"github.com/pmomusic/pmomusicd/internal/renderer"
	"github.com/pmomusic/pmomusicd/internal/source/localfiles"
	"github.com/pmomusic/pmomusicd/internal/ssdp"
	"github.com/pmomusic/pmomusicd/internal/telemetry"
	"github.com/pmomusic/pmomusicd/internal/version"
)

const genaFlushInterval = 200 * time.Millisecond

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the PMOMusic daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			envPath, _ := cmd.Flags().GetString("env")
			return runServe(path, envPath)
		},
	}
}

func runServe(configPath, envPath string) error {
	holder, err := config.NewHolder(configPath, envPath)
	if err != nil {
		return exitError{exitConfig, fmt.Errorf("load configuration: %w", err)}
	}
	fc := holder.Get()

	xglog.Configure(xglog.Config{Level: fc.LogLevel, Service: "pmomusicd", Version: version.Version})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        fc.Telemetry.Enabled,
		ServiceName:    "pmomusicd",
		ServiceVersion: version.Version,
		ExporterType:   fc.Telemetry.Exporter,
		Endpoint:       fc.Telemetry.Endpoint,
		SamplingRate:   fc.Telemetry.SamplingRate,
	})
	if err != nil {
		return exitError{exitConfig, fmt.Errorf("init telemetry: %w", err)}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	if err := holder.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("config hot-reload watcher disabled")
	}

	eventBus := bus.New()

	if fc.Bus.NATSURL != "" {
		nodeID := fc.Bus.NodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		br, err := natsbus.Connect(fc.Bus.NATSURL, nodeID, eventBus)
		if err != nil {
			logger.Warn().Err(err).Msg("nats bridge unavailable, continuing with in-process bus only")
		} else {
			defer br.Close()
			logger.Info().Str("url", fc.Bus.NATSURL).Msg("bridging event bus to nats")
		}
	}

	caches, err := openCaches(fc)
	if err != nil {
		return exitError{exitConfig, fmt.Errorf("open caches: %w", err)}
	}
	defer func() {
		for name, c := range caches {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Str("cache", name).Msg("error closing cache")
			}
		}
	}()

	agg := mediaserver.NewAggregator()
	if fc.Sources.LocalFiles.Root != "" {
		lf := localfiles.New(fc.Sources.LocalFiles.Root)
		if err := lf.Scan(ctx); err != nil {
			logger.Warn().Err(err).Str("root", fc.Sources.LocalFiles.Root).Msg("initial local-files scan failed")
		}
		agg.Register(lf)
		logger.Info().Str("root", fc.Sources.LocalFiles.Root).Msg("registered local-files source")
	}
	// Qobuz/RadioParadise/RadioFrance each need a concrete HTTP API
	// client implementing their source package's API interface; wiring
	// one in requires live upstream credentials this daemon does not
	// fabricate (see DESIGN.md). Registering a Source built on a real
	// client is a one-line addition to this function once one exists.

	cdService, err := mediaserver.BuildContentDirectoryService(agg)
	if err != nil {
		return exitError{exitInternal, fmt.Errorf("build ContentDirectory service: %w", err)}
	}
	cmService, err := mediaserver.BuildConnectionManagerService()
	if err != nil {
		return exitError{exitInternal, fmt.Errorf("build ConnectionManager service: %w", err)}
	}
	go cdService.Events.FlushLoop(ctx, genaFlushInterval)
	go cmService.Events.FlushLoop(ctx, genaFlushInterval)

	udn := uuid.NewString()
	dev := &device.Device{
		UDN:          udn,
		Type:         "urn:schemas-upnp-org:device:MediaServer:1",
		FriendlyName: "PMOMusic",
		Manufacturer: "PMOMusic",
		ModelName:    "pmomusicd",
		Services:     []*device.Service{cdService, cmService},
	}

	registry := renderer.NewRegistry(eventBus)

	ctrl := &control.Server{
		Registry:  registry,
		Sources:   agg,
		Caches:    caches,
		Bus:       eventBus,
		JWTSecret: fc.HTTP.JWTSecret,
	}

	mux := http.NewServeMux()
	devBase := "/device/mediaserver/" + udn
	mux.Handle(devBase+"/", http.StripPrefix(devBase, dev.Mux(devBase)))
	mux.Handle("/api/", ctrl.Router())
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", fc.HTTP.ListenAddr)
	if err != nil {
		return exitError{exitBind, fmt.Errorf("bind %s: %w", fc.HTTP.ListenAddr, err)}
	}
	httpServer := &http.Server{Handler: mux}

	if fc.Discovery.Enabled != nil && *fc.Discovery.Enabled {
		ssdpServer := ssdp.NewServer()
		ssdpServer.AddDevice(ssdp.Device{
			UDN:      udn,
			Location: fmt.Sprintf("http://%s%s/desc.xml", fc.HTTP.ListenAddr, devBase),
			Server:   "pmomusicd/" + version.Version + " UPnP/1.0",
			NotificationTypes: []string{
				"upnp:rootdevice",
				dev.Type,
				cdService.Type,
				cmService.Type,
			},
			MaxAge: time.Duration(fc.Discovery.MaxAgeSecs) * time.Second,
		})
		if err := ssdpServer.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("ssdp discovery disabled")
		} else {
			defer ssdpServer.Stop()
		}

		discoverer, err := startRendererDiscovery(ctx, registry, udn)
		if err != nil {
			logger.Warn().Err(err).Msg("renderer discovery disabled")
		} else {
			defer discoverer.Stop()
		}
	}

	go func() {
		logger.Info().Str("addr", fc.HTTP.ListenAddr).Msg("listening")
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	for _, r := range registry.List() {
		r.StopWatching()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return exitError{exitInternal, err}
	}
	return nil
}

func openCaches(fc config.FileConfig) (map[string]*cache.Cache, error) {
	out := make(map[string]*cache.Cache, len(fc.Caches.Named))
	for name, nc := range fc.Caches.Named {
		cfg := cache.Config{
			Root:  fc.Caches.Root,
			Name:  name,
			Limit: nc.MaxEntries,
		}
		if nc.RedisAddr != "" {
			locker, err := distlock.New(nc.RedisAddr, "", 0)
			if err != nil {
				return nil, fmt.Errorf("cache %q: connect redis lock: %w", name, err)
			}
			cfg.Lock = locker
		}
		c, err := cache.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("cache %q: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}
