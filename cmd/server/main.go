package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/trackerspotter/internal/broadcast"
	"github.com/sdko-org/trackerspotter/internal/config"
	"github.com/sdko-org/trackerspotter/internal/database"
	"github.com/sdko-org/trackerspotter/internal/handlers"
	httpserver "github.com/sdko-org/trackerspotter/internal/http"
	"github.com/sdko-org/trackerspotter/internal/logger"
	"github.com/sdko-org/trackerspotter/internal/retention"
	"github.com/sdko-org/trackerspotter/internal/storage"
	"github.com/sdko-org/trackerspotter/internal/store"
	"github.com/sdko-org/trackerspotter/internal/udp"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg)
	if err := run(log, cfg); err != nil {
		log.WithError(err).Fatal("Tracker failed")
	}
}

func run(log *logrus.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(log, cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	events := store.New(log, db)
	hub := broadcast.NewHub(log, cfg.SubscriberBuffer)

	var archiver storage.Archiver
	if cfg.ArchiveS3Bucket != "" {
		s3Archiver, err := storage.NewS3Archiver(log, storage.S3ConfigFrom(cfg))
		if err != nil {
			return err
		}
		archiver = s3Archiver
	}

	limiter := handlers.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow, cfg.TrustProxyHeaders)
	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(log, cfg.TrustProxyHeaders))
	handlers.RegisterRoutes(r,
		handlers.NewTrackerHandler(log, events, hub, cfg.IntervalSeconds(), cfg.TrustProxyHeaders),
		handlers.NewAPIHandler(log, events, hub),
		handlers.NewWSHandler(log, hub),
		limiter,
	)

	httpSrv, err := httpserver.Listen(log, r, httpserver.Config{
		Addr:    cfg.HTTPAddr(),
		TLSAddr: cfg.TLSAddr(),
	})
	if err != nil {
		return err
	}

	udpServers, err := listenUDP(log, cfg, events, hub)
	if err != nil {
		httpSrv.Shutdown(context.Background())
		return err
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	udpErrs := make(chan error, len(udpServers))
	for _, srv := range udpServers {
		srv := srv
		goRun(func() {
			if err := srv.Run(ctx); err != nil {
				udpErrs <- err
			}
		})
	}
	goRun(func() { limiter.Cleanup(ctx) })
	goRun(func() {
		retention.NewPurger(log, events, archiver, cfg.RetentionPeriod, cfg.RetentionInterval).Start(ctx)
	})
	httpSrv.Start()

	log.WithFields(logrus.Fields{
		"http":     cfg.HTTPAddr(),
		"https":    cfg.TLSAddr(),
		"udp":      len(udpServers),
		"database": cfg.DBDriver,
	}).Info("Tracker started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-httpSrv.Errors():
	case runErr = <-udpErrs:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown error")
	}
	wg.Wait()

	log.Info("Tracker stopped")
	return runErr
}

func listenUDP(log *logrus.Logger, cfg *config.Config, recorder udp.Recorder, hub udp.Broadcaster) ([]*udp.Server, error) {
	if !cfg.UDPEnabled {
		return nil, nil
	}

	base := udp.Config{
		Interval:  uint32(cfg.IntervalSeconds()),
		Workers:   cfg.UDPWorkers,
		QueueSize: cfg.UDPQueueSize,
	}
	v4 := base
	v4.Network, v4.Addr = "udp4", cfg.UDPAddr()
	configs := []udp.Config{v4}
	if cfg.UDPIPv6Enabled {
		v6 := base
		v6.Network, v6.Addr = "udp6", cfg.UDPv6Addr()
		configs = append(configs, v6)
	}

	var servers []*udp.Server
	for _, c := range configs {
		srv := udp.New(log, recorder, hub, c)
		if err := srv.Listen(); err != nil {
			// IPv6 is optional; a host without it still runs over IPv4
			if c.Network == "udp6" {
				log.WithError(err).Warn("IPv6 UDP tracker unavailable")
				continue
			}
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, nil
}
