package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Readiness reports whether the ingestion pipeline is serving.
type Readiness interface {
	Ready() bool
	Connections() []ConnectionStatus
}

// MetricsServer exposes /metrics, /health and /ready over HTTP.
type MetricsServer struct {
	server *http.Server
	logger *logrus.Entry
	done   chan struct{}
}

// NewMetricsServer serves metrics from gatherer. If gatherer is also a
// Registerer the handler itself is instrumented.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, readiness Readiness) *MetricsServer {
	s := &MetricsServer{
		logger: logrus.WithField("component", "metrics_server"),
		done:   make(chan struct{}),
	}

	var metricsHandler http.Handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	if reg, ok := gatherer.(prometheus.Registerer); ok {
		metricsHandler = promhttp.InstrumentMetricHandler(reg, metricsHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debugf("Metrics request from %s", r.RemoteAddr)
		metricsHandler.ServeHTTP(w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Ready       bool               `json:"ready"`
			Connections []ConnectionStatus `json:"connections"`
		}{Ready: readiness != nil && readiness.Ready()}
		if readiness != nil {
			body.Connections = readiness.Connections()
		}

		w.Header().Set("Content-Type", "application/json")
		if !body.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.WithError(err).Debug("Failed to write readiness response")
		}
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start listens on the configured address and serves until ctx is done.
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.logger.WithError(err).Error("Error starting server")
		close(s.done)
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *MetricsServer) Serve(ctx context.Context, ln net.Listener) error {
	stopped := make(chan struct{})
	go func() {
		defer close(s.done)
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("Shutting down metrics server")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Error shutting down server")
		}
	}()

	s.logger.WithField("addr", ln.Addr().String()).Info("Metrics server listening")
	err := s.server.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		close(stopped)
		s.logger.WithError(err).Error("Metrics server failed")
		return err
	}
	<-s.done
	s.logger.Info("Metrics server shutdown complete")
	return nil
}

func (s *MetricsServer) Done() <-chan struct{} {
	return s.done
}
