package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/startup"
)

const metricsInterval = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live session janitor and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *startup.Config) error {
	startTime := time.Now()
	if parent == nil {
		parent = context.Background()
	}

	startup.LogConfig(cfg)
	startup.CheckFeatures(parent, cfg)

	svc, err := newServices(cfg, true)
	if err != nil {
		return err
	}

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	collector := metrics.NewCollector(svc.derivative, metricsInterval)
	collector.Start()

	runCtx, stopJanitor := context.WithCancel(parent)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		svc.live.Run(runCtx)
	}()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.MetricsEnabled {
		router := newRouter(svc.derivative)
		startup.LogHTTPRoutes(router)

		srv = &http.Server{
			Addr:              net.JoinHostPort("", cfg.MetricsPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	startup.LogServerStarted(startup.ServerConfig{
		MetricsPort:     cfg.MetricsPort,
		MetricsEnabled:  cfg.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		startup.LogShutdownInitiated(sig.String())
	case err := <-serveErr:
		startup.LogShutdownInitiated("metrics server error")
		runErr = err
	case <-parent.Done():
		startup.LogShutdownInitiated(parent.Err().Error())
	}

	if srv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
		cancel()
	}

	stopJanitor()
	<-janitorDone
	collector.Stop()
	svc.close()

	startup.LogShutdownComplete()
	return runErr
}

type healthResponse struct {
	Status       string            `json:"status"`
	Build        startup.BuildInfo `json:"build"`
	RunningTasks int               `json:"runningTasks"`
	LiveSessions int               `json:"liveSessions"`
	Resident     uint64            `json:"residentBytes"`
}

func newRouter(provider metrics.StatsProvider) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")
	r.HandleFunc("/healthz", healthHandler(provider)).Methods(http.MethodGet, http.MethodHead).Name("health")
	r.HandleFunc("/version", versionHandler).Methods(http.MethodGet).Name("version")
	return r
}

func healthHandler(provider metrics.StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := provider.GetStats()
		writeJSONResponse(w, healthResponse{
			Status:       "ok",
			Build:        startup.GetBuildInfo(),
			RunningTasks: stats.RunningTasks,
			LiveSessions: stats.LiveSessions,
			Resident:     stats.ResidentBytes,
		})
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, startup.GetBuildInfo())
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response: %v", err)
	}
}
