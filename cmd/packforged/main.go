package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/packforge/packforge/pkg/api"
	"github.com/packforge/packforge/pkg/auth"
	"github.com/packforge/packforge/pkg/config"
	"github.com/packforge/packforge/pkg/logging"
	"github.com/packforge/packforge/pkg/metrics"
	"github.com/packforge/packforge/pkg/pack"
	"github.com/packforge/packforge/pkg/ratelimit"
	"github.com/packforge/packforge/pkg/scheduler"
	"github.com/packforge/packforge/pkg/shutdown"
	"github.com/packforge/packforge/pkg/store"
	"github.com/packforge/packforge/pkg/tracing"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Optional config file (env vars take precedence)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("packforged %s\n", version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	logger.Info("Starting packforged", map[string]interface{}{
		"version":        version,
		"port":           cfg.Port,
		"max_concurrent": cfg.MaxConcurrentJobs,
		"max_backlog":    cfg.MaxQueueBacklog,
	})

	shutdownMgr := shutdown.New(30 * time.Second)

	storeCfg := cfg.StoreConfig()
	dataStore, err := store.NewStore(storeCfg)
	if err != nil {
		logger.Fatal("Failed to open store", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Store ready", map[string]interface{}{"type": storeCfg.Type})
	shutdownMgr.Register(shutdown.CloseResource(dataStore, "store"))

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "packforged",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		logger.Fatal("Failed to init tracing", map[string]interface{}{"error": err.Error()})
	}
	shutdownMgr.Register(tracer.Shutdown)

	engine := pack.NewEngine(dataStore, logger)
	sched := scheduler.New(dataStore, engine, scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		MaxBacklog:    cfg.MaxQueueBacklog,
		Stale:         cfg.StalePolicy(),
	}, logger)

	exporter := metrics.NewExporter(dataStore)
	sched.SetMetricsRecorder(exporter)

	limiter := ratelimit.PerMinute(cfg.MaxRequestsPerIPMin)
	verifier := auth.NewTokenVerifier(cfg.WorkerTickToken)
	if !verifier.Enabled() {
		logger.Warn("WORKER_TICK_TOKEN not set, internal endpoints will reject all callers", nil)
	}

	handler := api.NewHandler(dataStore, sched, engine, limiter, verifier, cfg.MaxQueueBacklog, logger)

	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)
	router.Use(tracing.HTTPMiddleware(tracer))
	handler.RegisterRoutes(router)

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", exporter).Methods("GET")
	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      metricsRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", map[string]interface{}{"addr": metricsSrv.Addr})
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	shutdownMgr.Register(shutdown.StopHTTPServer(metricsSrv, "metrics"))

	// Optional timer: polling endpoints already kick the scheduler,
	// the ticker covers deployments nothing polls.
	tickerCtx, cancelTicker := context.WithCancel(context.Background())
	if cfg.TickInterval > 0 {
		logger.Info("Background ticker enabled", map[string]interface{}{"interval": cfg.TickInterval.String()})
		go sched.RunTicker(tickerCtx, cfg.TickInterval, 2)
	}
	shutdownMgr.Register(func(ctx context.Context) error {
		cancelTicker()
		return sched.Drain(ctx)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("API server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	shutdownMgr.Register(shutdown.StopHTTPServer(srv, "api"))

	shutdownMgr.Wait()
	logger.Info("Shutting down", nil)
	shutdownMgr.Shutdown()
	logger.Close()
}
