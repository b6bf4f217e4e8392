// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/discovery"
	"github.com/AleutianAI/SentinelTower/pkg/tracing"
	"github.com/AleutianAI/SentinelTower/services/tower"
)

func newServeCmd(a *app) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			ln, err := net.Listen("tcp", a.cfg.Listen)
			if err != nil {
				return a.fail(fmt.Errorf("listen on %s: %w", a.cfg.Listen, err))
			}
			if err := a.serve(cmd.Context(), ln); err != nil {
				return a.fail(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable gin debug mode")
	return cmd
}

// serve runs the HTTP server on ln together with the registry watcher,
// badger GC, and mDNS advertiser until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	cfg := a.cfg
	logger := a.logger

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: serviceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := tower.OpenRegistry(cfg.RegistryPath, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := tower.NewMetrics(reg)
	feed := tower.NewFeed(logger, metrics)

	svc, err := tower.NewService(st.repo, registry,
		tower.WithLogger(logger),
		tower.WithMetrics(metrics),
		tower.WithTracer(otel.Tracer("github.com/AleutianAI/SentinelTower/services/tower")),
		tower.WithNotifier(feed),
	)
	if err != nil {
		return err
	}
	router := tower.NewRouter(tower.RouterConfig{
		Service:         svc,
		ServiceName:     serviceName,
		Gatherer:        reg,
		Metrics:         metrics,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		Feed:            feed,
		FeedTokenSHA256: cfg.FeedTokenSHA256,
		Logger:          logger,
	})
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("tower listening",
			"address", ln.Addr().String(),
			"tls", cfg.TLS.Enabled(),
			"store", cfg.Store.Backend,
			"tower_id", cfg.TowerID)
		var err error
		if cfg.TLS.Enabled() {
			err = srv.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			logger.Warn("serving plaintext http; sentinels need a LAN exception to deliver")
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		feed.Close()
		logger.Info("shutting down tower")
		return srv.Shutdown(sctx)
	})
	g.Go(func() error { return registry.Watch(gctx) })
	g.Go(func() error { return st.runGC(gctx) })
	if cfg.Discovery.Enabled {
		g.Go(func() error {
			ad, err := advertisement(cfg.TowerID, cfg.Discovery.Instance, ln.Addr(), cfg.TLS.Enabled())
			if err == nil {
				err = discovery.Run(gctx, ad)
			}
			if err != nil {
				// Pairing still works with a typed URL.
				logger.Warn("mdns advertisement unavailable", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func advertisement(towerID, instance string, addr net.Addr, tls bool) (discovery.Advertisement, error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return discovery.Advertisement{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return discovery.Advertisement{}, err
	}
	if instance == "" {
		instance = towerID
	}
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return discovery.Advertisement{
		Instance:   instance,
		TowerID:    towerID,
		Port:       port,
		Scheme:     scheme,
		APIVersion: alert.APIVersion,
	}, nil
}
