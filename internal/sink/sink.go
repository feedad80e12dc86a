package sink

import (
	"context"
	"errors"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/decoder"
	"github.com/Dea1h/AtlasEngine/pkg/binance"
	"github.com/sirupsen/logrus"
)

// Result is what a supervisor hands to its sink for every text frame:
// either a decoded event or the decode error for that frame.
type Result struct {
	Stream     string
	Event      binance.Event
	Err        *decoder.DecodeError
	ReceivedAt time.Time
	Size       int // payload length in bytes
}

// IsError reports whether the result carries a decode error.
func (r Result) IsError() bool { return r.Err != nil }

// FromDecode builds a Result from the return values of decoder.Decode.
func FromDecode(res decoder.Result, err error, receivedAt time.Time) Result {
	out := Result{Stream: res.Stream, Event: res.Event, ReceivedAt: receivedAt}
	if err != nil {
		var decodeErr *decoder.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = &decoder.DecodeError{Reason: err.Error(), Err: err}
		}
		out.Event = nil
		out.Err = decodeErr
	}
	return out
}

// Sink receives decoded results. Accept is called from the supervisor read
// loop, so slow sinks slow down reading.
type Sink interface {
	Accept(ctx context.Context, res Result)
}

// Func adapts a plain function to a Sink.
type Func func(ctx context.Context, res Result)

func (f Func) Accept(ctx context.Context, res Result) { f(ctx, res) }

// Multi forwards every result to each sink in order.
type Multi []Sink

func (m Multi) Accept(ctx context.Context, res Result) {
	for _, s := range m {
		s.Accept(ctx, res)
	}
}

// Chan is a bounded queue sink. Accept blocks while the queue is full until
// the context is done.
type Chan struct {
	ch chan Result
}

func NewChan(size int) *Chan {
	return &Chan{ch: make(chan Result, size)}
}

func (c *Chan) Accept(ctx context.Context, res Result) {
	select {
	case c.ch <- res:
	case <-ctx.Done():
	}
}

// C returns the receive side of the queue.
func (c *Chan) C() <-chan Result { return c.ch }

// Close closes the queue. It must only be called once no more Accept calls
// can happen.
func (c *Chan) Close() { close(c.ch) }

// LogSink logs every result.
type LogSink struct {
	logger *logrus.Entry
}

func NewLogSink() *LogSink {
	return &LogSink{logger: logrus.WithField("component", "log_sink")}
}

func (l *LogSink) Accept(_ context.Context, res Result) {
	if res.Err != nil {
		l.logger.WithFields(logrus.Fields{
			"stream": res.Stream,
			"reason": res.Err.Reason,
		}).Warnf("Failed to decode payload: %s", string(res.Err.Payload))
		return
	}
	meta := res.Event.Meta()
	l.logger.WithFields(logrus.Fields{
		"stream": res.Stream,
		"kind":   res.Event.Kind(),
		"symbol": meta.Symbol,
		"time":   meta.EventTime,
	}).Infof("price %s", res.Event.ReferencePrice())
}
