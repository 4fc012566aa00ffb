// Package server is the read-only HTTP surface over the reading and
// aggregate stores, plus the background tasks that keep it current.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/nicktill/biogas-etl/pkg/aggregate"
	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/export"
	"github.com/nicktill/biogas-etl/pkg/server/monitor"
	"github.com/nicktill/biogas-etl/pkg/storage"
)

// Config holds server configuration.
type Config struct {
	ListenAddr   string
	DataDir      string
	MaxStorageGB int64

	// AllowedOrigins lists browser origins allowed by CORS and the
	// WebSocket upgrader.
	AllowedOrigins []string

	AggregateInterval time.Duration
	AggregateLookback time.Duration

	// Aggregate configures the background aggregator.
	Aggregate []aggregate.Option
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = config.DefaultListenAddr
	}
	if c.DataDir == "" {
		c.DataDir = config.DefaultDataDir
	}
	if c.AggregateInterval <= 0 {
		c.AggregateInterval = config.AggregateInterval
	}
	if c.AggregateLookback <= 0 {
		c.AggregateLookback = config.AggregateLookback
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
}

// Server owns the router, monitors and background tasks for one store.
type Server struct {
	cfg   Config
	store storage.Storage

	storageMonitor     *monitor.StorageMonitor
	aggregationMonitor *monitor.AggregationMonitor
	hub                *Hub
	aggregator         *aggregate.Aggregator
	exports            *export.Handler
}

// New wires a server around store. The store is not closed by the server.
func New(store storage.Storage, cfg Config) *Server {
	cfg.defaults()

	aggMonitor := &monitor.AggregationMonitor{}
	opts := append([]aggregate.Option{aggregate.WithRecorder(aggMonitor)}, cfg.Aggregate...)

	return &Server{
		cfg:                cfg,
		store:              store,
		storageMonitor:     monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB*1024*1024*1024),
		aggregationMonitor: aggMonitor,
		hub:                NewHub(cfg.AllowedOrigins),
		aggregator:         aggregate.New(store, opts...),
		exports:            export.NewHandler(store),
	}
}

// Router returns the HTTP handler with every route and CORS applied.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", handleHealth(s.store, s.aggregationMonitor)).Methods("GET")
	api.HandleFunc("/system/trends", handleTrends(s.store)).Methods("GET")
	api.HandleFunc("/readings/latest", handleLatestReadings(s.store)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(s.storageMonitor)).Methods("GET")
	api.HandleFunc("/export", s.exports.HandleExport).Methods("GET")
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

// Run serves HTTP and runs the background tasks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started for live aggregate updates")

	wg.Add(1)
	go func() {
		defer wg.Done()
		BroadcastAggregates(ctx, s.store, s.hub, config.LiveUpdateInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		RunAggregation(ctx, s.aggregator, s.cfg.AggregateInterval, s.cfg.AggregateLookback)
	}()

	if gc, ok := s.store.(GarbageCollector); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RunBadgerGC(ctx, gc, config.BadgerGCInterval, config.BadgerGCRatio)
		}()
	} else {
		log.Println("⚠️  Storage does not support GC, skipping GC scheduler")
	}

	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("🌐 Server listening on %s", s.cfg.ListenAddr)
		log.Println("📡 API endpoints:")
		log.Println("   GET /api/health           - Store and aggregation health")
		log.Println("   GET /api/system/trends    - Hourly aggregates (?hours=N)")
		log.Println("   GET /api/readings/latest  - Most recent readings")
		log.Println("   GET /api/storage          - Disk usage")
		log.Println("   GET /api/export           - Aggregate export (json/csv)")
		log.Println("   GET /api/ws               - Live aggregate updates")
		log.Println("   GET /metrics              - Prometheus endpoint")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Println("🛑 Shutdown signal received...")
	case serveErr = <-errc:
		log.Printf("❌ Server failed: %v", serveErr)
	}

	// Stop background tasks before waiting on them.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time")
	}

	return serveErr
}
