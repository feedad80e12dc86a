package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/circuitbreaker"
	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/events"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/Dea1h/AtlasEngine/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const namespace = "atlas"

var latencyBuckets = []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1}

// MetricsRecorder turns bus traffic and supervisor notifications into
// Prometheus metrics. It also tracks connection states for readiness.
type MetricsRecorder struct {
	ingestMetrics struct {
		events      *prometheus.CounterVec
		decodeErrs  *prometheus.CounterVec
		payloadSize prometheus.Histogram
		lastPrice   *prometheus.GaugeVec
		latency     prometheus.Histogram
		busDrops    *prometheus.CounterVec
	}
	wsMetrics struct {
		state        *prometheus.GaugeVec
		reconnects   *prometheus.CounterVec
		backoffDelay prometheus.Histogram
		frameErrors  *prometheus.CounterVec
		outOfOrder   *prometheus.CounterVec
	}
	kafkaMetrics struct {
		messagesSent *prometheus.CounterVec
		sendErrors   *prometheus.CounterVec
		sendLatency  prometheus.Histogram
		idleProducer prometheus.Gauge
		breaker      *prometheus.GaugeVec
	}

	eventBus events.Bus
	logger   *logrus.Entry
	done     chan struct{}

	statesMu sync.RWMutex
	states   map[string]ws.ConnectionState
}

// NewMetricsRecorder registers all collectors on reg.
func NewMetricsRecorder(reg prometheus.Registerer, eventBus events.Bus) *MetricsRecorder {
	r := &MetricsRecorder{
		eventBus: eventBus,
		logger:   logrus.WithField("component", "metrics_recorder"),
		done:     make(chan struct{}),
		states:   make(map[string]ws.ConnectionState),
	}
	factory := promauto.With(reg)

	r.ingestMetrics.events = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Decoded market events by kind and symbol",
	}, []string{"kind", "symbol"})
	r.ingestMetrics.decodeErrs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Text frames that could not be decoded",
	}, []string{"stream"})
	r.ingestMetrics.payloadSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payload_size_bytes",
		Help:      "Size of text frame payloads",
		Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
	})
	r.ingestMetrics.lastPrice = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_price",
		Help:      "Last trade or ticker price per symbol",
	}, []string{"symbol"})
	r.ingestMetrics.latency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_latency_seconds",
		Help:      "Time from frame receipt until the recorder saw the event",
		Buckets:   latencyBuckets,
	})
	r.ingestMetrics.busDrops = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_total",
		Help:      "Results dropped by the event bus because a subscriber was full",
	}, []string{"topic"})

	r.wsMetrics.state = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ws",
		Name:      "connection_state",
		Help:      "Connection state (0 disconnected, 1 connecting, 2 connected, 3 closing)",
	}, []string{"connection"})
	r.wsMetrics.reconnects = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ws",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts",
	}, []string{"connection"})
	r.wsMetrics.backoffDelay = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ws",
		Name:      "backoff_delay_seconds",
		Help:      "Delay before each reconnect attempt",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})
	r.wsMetrics.frameErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ws",
		Name:      "frame_errors_total",
		Help:      "Frames rejected by the frame codec",
	}, []string{"connection", "opcode"})
	r.wsMetrics.outOfOrder = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ws",
		Name:      "out_of_order_total",
		Help:      "Events whose timestamp went backwards within a stream",
	}, []string{"connection", "stream"})

	r.kafkaMetrics.messagesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka",
		Name:      "messages_sent_total",
		Help:      "Messages published to Kafka by topic",
	}, []string{"topic"})
	r.kafkaMetrics.sendErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka",
		Name:      "send_errors_total",
		Help:      "Failed Kafka publishes by reason",
	}, []string{"reason"})
	r.kafkaMetrics.sendLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kafka",
		Name:      "send_latency_seconds",
		Help:      "Latency of Kafka publishes",
		Buckets:   latencyBuckets,
	})
	r.kafkaMetrics.idleProducer = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "kafka",
		Name:      "idle_producers",
		Help:      "Idle producers in the pool when a send started",
	})
	r.kafkaMetrics.breaker = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kafka",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	r.logger.Debug("Metrics recorder initialized")
	return r
}

// Start subscribes to the bus and records until ctx is done or the bus shuts
// down. Results published after Start returns are recorded.
func (r *MetricsRecorder) Start(ctx context.Context) error {
	r.logger.Debug("Starting metrics recorder")
	tickers := r.eventBus.Subscribe(common.TopicTicker)
	trades := r.eventBus.Subscribe(common.TopicTrade)
	decodeErrs := r.eventBus.Subscribe(common.TopicDecodeError)
	r.logger.Debug("Subscribed to channels")

	go r.recordMetrics(ctx, tickers, trades, decodeErrs)
	return nil
}

func (r *MetricsRecorder) Done() <-chan struct{} {
	return r.done
}

func (r *MetricsRecorder) recordMetrics(ctx context.Context, tickers, trades, decodeErrs <-chan sink.Result) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Context cancelled, stopping metrics recorder")
			r.eventBus.Unsubscribe(common.TopicTicker, tickers)
			r.eventBus.Unsubscribe(common.TopicTrade, trades)
			r.eventBus.Unsubscribe(common.TopicDecodeError, decodeErrs)
			return
		case res, ok := <-tickers:
			if !ok {
				r.logger.Debug("Ticker channel closed")
				return
			}
			r.RecordResult(res)
		case res, ok := <-trades:
			if !ok {
				r.logger.Debug("Trade channel closed")
				return
			}
			r.RecordResult(res)
		case res, ok := <-decodeErrs:
			if !ok {
				r.logger.Debug("Decode error channel closed")
				return
			}
			r.RecordResult(res)
		}
	}
}

// RecordResult records one sink result.
func (r *MetricsRecorder) RecordResult(res sink.Result) {
	if res.Size > 0 {
		r.ingestMetrics.payloadSize.Observe(float64(res.Size))
	}
	if !res.ReceivedAt.IsZero() {
		r.ingestMetrics.latency.Observe(time.Since(res.ReceivedAt).Seconds())
	}

	if res.IsError() {
		r.ingestMetrics.decodeErrs.WithLabelValues(res.Stream).Inc()
		return
	}

	meta := res.Event.Meta()
	r.ingestMetrics.events.WithLabelValues(string(res.Event.Kind()), meta.Symbol).Inc()

	price, err := decimal.NewFromString(res.Event.ReferencePrice())
	if err != nil {
		r.logger.WithError(err).WithField("symbol", meta.Symbol).Trace("Skipping last price")
		return
	}
	r.ingestMetrics.lastPrice.WithLabelValues(meta.Symbol).Set(price.InexactFloat64())
}

// RecordBusDrop counts a result dropped by the event bus.
func (r *MetricsRecorder) RecordBusDrop(topic common.Topic) {
	r.ingestMetrics.busDrops.WithLabelValues(string(topic)).Inc()
}

// Track registers a connection for readiness before its first state change.
func (r *MetricsRecorder) Track(name string) {
	r.statesMu.Lock()
	defer r.statesMu.Unlock()
	if _, ok := r.states[name]; !ok {
		r.states[name] = ws.StateDisconnected
		r.wsMetrics.state.WithLabelValues(name).Set(float64(ws.StateDisconnected))
	}
}

// Ready reports whether every tracked connection is connected.
func (r *MetricsRecorder) Ready() bool {
	r.statesMu.RLock()
	defer r.statesMu.RUnlock()
	if len(r.states) == 0 {
		return false
	}
	for _, st := range r.states {
		if st != ws.StateConnected {
			return false
		}
	}
	return true
}

// Connections returns the tracked connection states sorted by name.
func (r *MetricsRecorder) Connections() []ConnectionStatus {
	r.statesMu.RLock()
	defer r.statesMu.RUnlock()
	out := make([]ConnectionStatus, 0, len(r.states))
	for name, st := range r.states {
		out = append(out, ConnectionStatus{Name: name, State: st.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConnectionStatus is one entry of the readiness report.
type ConnectionStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// ws.Observer

func (r *MetricsRecorder) StateChanged(name string, from, to ws.ConnectionState) {
	r.statesMu.Lock()
	r.states[name] = to
	r.statesMu.Unlock()
	r.wsMetrics.state.WithLabelValues(name).Set(float64(to))
}

func (r *MetricsRecorder) Reconnecting(name string, attempt int, err error, delay time.Duration) {
	r.wsMetrics.reconnects.WithLabelValues(name).Inc()
	r.wsMetrics.backoffDelay.Observe(delay.Seconds())
}

func (r *MetricsRecorder) FrameRejected(name string, frameErr *ws.FrameError) {
	r.wsMetrics.frameErrors.WithLabelValues(name, frameErr.OpcodeName()).Inc()
}

func (r *MetricsRecorder) OutOfOrder(name, stream string, previous, current int64) {
	r.wsMetrics.outOfOrder.WithLabelValues(name, stream).Inc()
}

// kafka.Recorder

func (r *MetricsRecorder) UpdateKafkaQueueSize(size float64) {
	r.kafkaMetrics.idleProducer.Set(size)
}

func (r *MetricsRecorder) RecordKafkaError(reason string) {
	r.kafkaMetrics.sendErrors.WithLabelValues(reason).Inc()
}

func (r *MetricsRecorder) RecordKafkaMessageSent(topic string, duration time.Duration) {
	r.kafkaMetrics.messagesSent.WithLabelValues(topic).Inc()
	r.kafkaMetrics.sendLatency.Observe(duration.Seconds())
}

// BreakerStateChanged is a circuitbreaker state change hook.
func (r *MetricsRecorder) BreakerStateChanged(name string, from, to circuitbreaker.State) {
	r.kafkaMetrics.breaker.WithLabelValues(name).Set(float64(to))
}
