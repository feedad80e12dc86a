package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/decoder"
	"github.com/Dea1h/AtlasEngine/pkg/binance"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecode(t *testing.T) {
	now := time.Now()

	t.Run("event", func(t *testing.T) {
		trade := binance.Trade{Header: binance.Header{EventType: "trade", Symbol: "BTCUSDT"}, Price: "1", Quantity: "2"}
		res := FromDecode(decoder.Result{Stream: "btcusdt@trade", Event: trade}, nil, now)
		assert.False(t, res.IsError())
		assert.Equal(t, "btcusdt@trade", res.Stream)
		assert.Equal(t, trade, res.Event)
		assert.Equal(t, now, res.ReceivedAt)
	})

	t.Run("decode error", func(t *testing.T) {
		_, err := decoder.Decode([]byte("{"))
		res := FromDecode(decoder.Result{}, err, now)
		require.True(t, res.IsError())
		assert.Nil(t, res.Event)
		assert.Equal(t, "{", string(res.Err.Payload))
	})

	t.Run("foreign error is wrapped", func(t *testing.T) {
		res := FromDecode(decoder.Result{}, errors.New("boom"), now)
		require.True(t, res.IsError())
		assert.Equal(t, "boom", res.Err.Reason)
	})
}

func TestMultiAndFunc(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return Func(func(_ context.Context, res Result) {
			got = append(got, name+":"+res.Stream)
		})
	}

	Multi{record("a"), record("b")}.Accept(context.Background(), Result{Stream: "s"})
	assert.Equal(t, []string{"a:s", "b:s"}, got)
}

func TestChan(t *testing.T) {
	c := NewChan(1)
	c.Accept(context.Background(), Result{Stream: "first"})

	// queue is full; a cancelled context must unblock Accept
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		c.Accept(ctx, Result{Stream: "dropped"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Accept did not return after cancellation")
	}

	res := <-c.C()
	assert.Equal(t, "first", res.Stream)
	c.Close()
	_, ok := <-c.C()
	assert.False(t, ok)
}

func TestLogSink(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	l := NewLogSink()
	l.Accept(context.Background(), Result{
		Stream: "btcusdt@trade",
		Event: binance.Trade{
			Header: binance.Header{EventType: "trade", EventTime: 123, Symbol: "BTCUSDT"},
			Price:  "50000.00",
		},
	})
	l.Accept(context.Background(), Result{
		Stream: "btcusdt@trade",
		Err:    &decoder.DecodeError{Payload: []byte("{"), Reason: "malformed json"},
	})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "price 50000.00", entries[0].Message)
	assert.Equal(t, "BTCUSDT", entries[0].Data["symbol"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, "malformed json", entries[1].Data["reason"])
}
