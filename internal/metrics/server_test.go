package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReadiness struct {
	ready bool
	conns []ConnectionStatus
}

func (s staticReadiness) Ready() bool                     { return s.ready }
func (s staticReadiness) Connections() []ConnectionStatus { return s.conns }

func TestMetricsServer_Start(t *testing.T) {
	tests := []struct {
		name           string
		readiness      Readiness
		setupMetrics   func(registry *prometheus.Registry)
		validateServer func(*testing.T, string)
	}{
		{
			name:      "server serves metrics and health",
			readiness: staticReadiness{ready: true},
			setupMetrics: func(registry *prometheus.Registry) {
				testGauge := prometheus.NewGauge(prometheus.GaugeOpts{
					Name: "test_metric",
					Help: "Test metric",
				})
				registry.MustRegister(testGauge)
				testGauge.Set(42.0)
			},
			validateServer: func(t *testing.T, addr string) {
				resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, http.StatusOK, resp.StatusCode)
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), "test_metric 42")
				assert.Contains(t, string(body), "promhttp_metric_handler_requests_total")

				health, err := http.Get(fmt.Sprintf("http://%s/health", addr))
				require.NoError(t, err)
				defer health.Body.Close()
				assert.Equal(t, http.StatusOK, health.StatusCode)
			},
		},
		{
			name: "ready reports connection states",
			readiness: staticReadiness{ready: false, conns: []ConnectionStatus{
				{Name: "ws/btcusdt@ticker", State: "connecting"},
			}},
			setupMetrics: func(*prometheus.Registry) {},
			validateServer: func(t *testing.T, addr string) {
				resp, err := http.Get(fmt.Sprintf("http://%s/ready", addr))
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
				var body struct {
					Ready       bool               `json:"ready"`
					Connections []ConnectionStatus `json:"connections"`
				}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.False(t, body.Ready)
				assert.Equal(t, []ConnectionStatus{{Name: "ws/btcusdt@ticker", State: "connecting"}}, body.Connections)
			},
		},
		{
			name:         "ready when all connected",
			readiness:    staticReadiness{ready: true},
			setupMetrics: func(*prometheus.Registry) {},
			validateServer: func(t *testing.T, addr string) {
				resp, err := http.Get(fmt.Sprintf("http://%s/ready", addr))
				require.NoError(t, err)
				defer resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			tt.setupMetrics(registry)

			listener, err := net.Listen("tcp", "localhost:0")
			require.NoError(t, err)
			addr := listener.Addr().String()

			server := NewMetricsServer(addr, registry, tt.readiness)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve(ctx, listener)
			}()

			require.NoError(t, waitForServer(addr, 2*time.Second), "Server failed to start")

			tt.validateServer(t, addr)

			cancel()
			select {
			case err := <-errCh:
				assert.NoError(t, err)
			case <-time.After(shutdownTimeout + time.Second):
				t.Fatal("Server didn't shut down within timeout")
			}

			_, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
			assert.Error(t, err, "Server should be stopped")
		})
	}
}

func TestMetricsServer_StartFailsOnBusyPort(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer listener.Close()

	server := NewMetricsServer(listener.Addr().String(), prometheus.NewRegistry(), nil)
	err = server.Start(context.Background())
	assert.Error(t, err)

	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

// waitForServer attempts to connect to the server until it's ready or times out
func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("server failed to start within %v", timeout)
}
