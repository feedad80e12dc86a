package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/circuitbreaker"
	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/decoder"
	"github.com/Dea1h/AtlasEngine/internal/events"
	"github.com/Dea1h/AtlasEngine/internal/events/mocks"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/Dea1h/AtlasEngine/internal/ws"
	"github.com/Dea1h/AtlasEngine/pkg/binance"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(symbol, price string) sink.Result {
	return sink.Result{
		Stream: "btcusdt@trade",
		Event: binance.Trade{
			Header:   binance.Header{EventType: "trade", EventTime: 123, Symbol: symbol},
			TradeID:  1,
			Price:    price,
			Quantity: "0.01",
		},
		ReceivedAt: time.Now(),
		Size:       180,
	}
}

func ticker(symbol, last string) sink.Result {
	return sink.Result{
		Stream: "btcusdt@ticker",
		Event: binance.Ticker{
			Header:    binance.Header{EventType: "24hrTicker", EventTime: 123, Symbol: symbol},
			LastPrice: last,
		},
		ReceivedAt: time.Now(),
	}
}

func decodeFailure() sink.Result {
	return sink.Result{
		Stream:     "btcusdt@trade",
		Err:        &decoder.DecodeError{Payload: []byte("nope"), Reason: "malformed json"},
		ReceivedAt: time.Now(),
		Size:       4,
	}
}

func TestRecordMetrics(t *testing.T) {
	tests := []struct {
		name      string
		tickers   []sink.Result
		trades    []sink.Result
		errors    []sink.Result
		wantCheck func(*testing.T, *MetricsRecorder)
	}{
		{
			name:   "trade and ticker",
			trades: []sink.Result{trade("BTCUSDT", "50000.00")},
			tickers: []sink.Result{
				ticker("ETHUSDT", "2500.50"),
				ticker("ETHUSDT", "2501.25"),
			},
			wantCheck: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 1.0, testutil.ToFloat64(r.ingestMetrics.events.WithLabelValues("trade", "BTCUSDT")))
				assert.Equal(t, 2.0, testutil.ToFloat64(r.ingestMetrics.events.WithLabelValues("24hrTicker", "ETHUSDT")))
				assert.Equal(t, 50000.0, testutil.ToFloat64(r.ingestMetrics.lastPrice.WithLabelValues("BTCUSDT")))
				assert.Equal(t, 2501.25, testutil.ToFloat64(r.ingestMetrics.lastPrice.WithLabelValues("ETHUSDT")))
			},
		},
		{
			name:   "decode errors",
			errors: []sink.Result{decodeFailure(), decodeFailure()},
			wantCheck: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 2.0, testutil.ToFloat64(r.ingestMetrics.decodeErrs.WithLabelValues("btcusdt@trade")))
				assert.Equal(t, 0, testutil.CollectAndCount(r.ingestMetrics.events))
			},
		},
		{
			name:   "unparsable price is counted but not gauged",
			trades: []sink.Result{trade("BTCUSDT", "n/a")},
			wantCheck: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 1.0, testutil.ToFloat64(r.ingestMetrics.events.WithLabelValues("trade", "BTCUSDT")))
				assert.Equal(t, 0, testutil.CollectAndCount(r.ingestMetrics.lastPrice))
			},
		},
		{
			name: "nothing received",
			wantCheck: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 0, testutil.CollectAndCount(r.ingestMetrics.events))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockBus := mocks.NewMockBus(ctrl)
			tickerCh := make(chan sink.Result, 10)
			tradeCh := make(chan sink.Result, 10)
			errCh := make(chan sink.Result, 10)

			mockBus.EXPECT().Subscribe(common.TopicTicker).Return((<-chan sink.Result)(tickerCh))
			mockBus.EXPECT().Subscribe(common.TopicTrade).Return((<-chan sink.Result)(tradeCh))
			mockBus.EXPECT().Subscribe(common.TopicDecodeError).Return((<-chan sink.Result)(errCh))
			mockBus.EXPECT().Unsubscribe(common.TopicTicker, gomock.Any())
			mockBus.EXPECT().Unsubscribe(common.TopicTrade, gomock.Any())
			mockBus.EXPECT().Unsubscribe(common.TopicDecodeError, gomock.Any())

			for _, r := range tt.tickers {
				tickerCh <- r
			}
			for _, r := range tt.trades {
				tradeCh <- r
			}
			for _, r := range tt.errors {
				errCh <- r
			}

			ctx, cancel := context.WithCancel(context.Background())
			recorder := NewMetricsRecorder(prometheus.NewRegistry(), mockBus)
			require.NoError(t, recorder.Start(ctx))

			want := len(tt.tickers) + len(tt.trades) + len(tt.errors)
			assert.Eventually(t, func() bool {
				return len(tickerCh)+len(tradeCh)+len(errCh) == 0
			}, time.Second, 5*time.Millisecond, "recorder should drain %d results", want)
			// the last result may still be in flight after its channel drained
			time.Sleep(20 * time.Millisecond)

			cancel()
			select {
			case <-recorder.Done():
			case <-time.After(time.Second):
				t.Fatal("recorder did not stop")
			}

			tt.wantCheck(t, recorder)
		})
	}
}

func TestRecorder_StopsWhenBusShutsDown(t *testing.T) {
	bus := events.NewEventBus()
	recorder := NewMetricsRecorder(prometheus.NewRegistry(), bus)
	require.NoError(t, recorder.Start(context.Background()))

	// subscribed by the time Start returns
	assert.Equal(t, 1, bus.TopicSubscriberCount(common.TopicTrade))
	bus.Publish(common.TopicTrade, trade("BTCUSDT", "1.5"))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(recorder.ingestMetrics.lastPrice.WithLabelValues("BTCUSDT")) == 1.5
	}, time.Second, 5*time.Millisecond)

	bus.Shutdown()
	select {
	case <-recorder.Done():
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop after bus shutdown")
	}
}

func TestRecorder_RecordsResultsPublishedRightAfterStart(t *testing.T) {
	bus := events.NewEventBus()
	recorder := NewMetricsRecorder(prometheus.NewRegistry(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, recorder.Start(ctx))

	for i := 0; i < 5; i++ {
		bus.Publish(common.TopicTrade, trade("BTCUSDT", "2"))
	}
	bus.Publish(common.TopicDecodeError, decodeFailure())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(recorder.ingestMetrics.events.WithLabelValues("trade", "BTCUSDT")) == 5 &&
			testutil.ToFloat64(recorder.ingestMetrics.decodeErrs.WithLabelValues("btcusdt@trade")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, bus.Dropped())
}

func TestRecorder_ObserverAndReadiness(t *testing.T) {
	r := NewMetricsRecorder(prometheus.NewRegistry(), events.NewEventBus())
	var _ ws.Observer = r

	assert.False(t, r.Ready(), "no connections tracked")

	r.Track("a")
	r.Track("b")
	assert.False(t, r.Ready())

	r.StateChanged("a", ws.StateDisconnected, ws.StateConnected)
	r.StateChanged("b", ws.StateConnecting, ws.StateConnected)
	assert.True(t, r.Ready())
	assert.Equal(t, []ConnectionStatus{{Name: "a", State: "connected"}, {Name: "b", State: "connected"}}, r.Connections())
	assert.Equal(t, float64(ws.StateConnected), testutil.ToFloat64(r.wsMetrics.state.WithLabelValues("a")))

	r.StateChanged("b", ws.StateConnected, ws.StateClosing)
	assert.False(t, r.Ready())

	r.Reconnecting("b", 1, errors.New("eof"), 2*time.Second)
	r.Reconnecting("b", 2, errors.New("eof"), 4*time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.wsMetrics.reconnects.WithLabelValues("b")))

	_, err := ws.DecodeFrame(1, []byte{0xff})
	var frameErr *ws.FrameError
	require.ErrorAs(t, err, &frameErr)
	r.FrameRejected("a", frameErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.wsMetrics.frameErrors.WithLabelValues("a", "text")))

	r.OutOfOrder("a", "btcusdt@trade", 10, 5)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.wsMetrics.outOfOrder.WithLabelValues("a", "btcusdt@trade")))
}

func TestRecorder_KafkaAndBreaker(t *testing.T) {
	r := NewMetricsRecorder(prometheus.NewRegistry(), events.NewEventBus())

	r.RecordKafkaMessageSent("atlas.trade", 3*time.Millisecond)
	r.RecordKafkaError("send_failed")
	r.UpdateKafkaQueueSize(3)
	r.BreakerStateChanged("kafka", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	r.RecordBusDrop(common.TopicTrade)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.kafkaMetrics.messagesSent.WithLabelValues("atlas.trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.kafkaMetrics.sendErrors.WithLabelValues("send_failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.kafkaMetrics.idleProducer))
	assert.Equal(t, float64(circuitbreaker.StateOpen), testutil.ToFloat64(r.kafkaMetrics.breaker.WithLabelValues("kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ingestMetrics.busDrops.WithLabelValues("trade")))
}

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestRecordResult_PayloadHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewMetricsRecorder(reg, events.NewEventBus())

	r.RecordResult(trade("BTCUSDT", "50000.00"))
	r.RecordResult(decodeFailure())
	r.RecordResult(ticker("ETHUSDT", "2500.50"))

	families, err := reg.Gather()
	require.NoError(t, err)

	payload := findFamily(t, families, namespace+"_payload_size_bytes")
	require.Equal(t, dto.MetricType_HISTOGRAM, payload.GetType())
	hist := payload.GetMetric()[0].GetHistogram()
	// the ticker fixture carries no size
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.Equal(t, 184.0, hist.GetSampleSum())

	latency := findFamily(t, families, namespace+"_ingest_latency_seconds")
	assert.Equal(t, uint64(3), latency.GetMetric()[0].GetHistogram().GetSampleCount())
}
