package ws

import (
	"context"
	"errors"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/decoder"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Reader runs the read loop of one connection. Every frame goes through
// DecodeFrame; text payloads are decoded and handed to the sink, pings are
// answered inline before the next read.
type Reader struct {
	name        string
	conn        Conn
	writer      *Writer
	decoder     *decoder.Decoder
	sink        sink.Sink
	ordering    *orderingTracker
	observer    Observer
	readTimeout time.Duration
	logger      *logrus.Entry
}

// NewReader creates a Reader. ordering is shared across the connections of
// one supervisor so regressions across a reconnect are still seen.
func NewReader(name string, conn Conn, writer *Writer, dec *decoder.Decoder, out sink.Sink, ordering *orderingTracker, observer Observer, readTimeout time.Duration, logger *logrus.Entry) *Reader {
	return &Reader{
		name:        name,
		conn:        conn,
		writer:      writer,
		decoder:     dec,
		sink:        out,
		ordering:    ordering,
		observer:    observer,
		readTimeout: readTimeout,
		logger:      logger.WithField("role", "reader"),
	}
}

// Run reads until the context is cancelled, the server closes the
// connection or the transport fails.
//
// It returns nil on cancellation, a *ServerClosedError for a close frame
// and an *IOError for anything else.
func (r *Reader) Run(ctx context.Context) error {
	r.conn.SetPingHandler(func(appData string) error {
		return r.handleControl(ctx, websocket.PingMessage, appData)
	})
	r.conn.SetPongHandler(func(appData string) error {
		return r.handleControl(ctx, websocket.PongMessage, appData)
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.extendDeadline()
		// ReadMessage blocks until a data frame arrives; control frames are
		// dispatched to the handlers above while it waits.
		messageType, payload, err := r.conn.ReadMessage()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return r.readError(ctx, err)
		}

		frame, err := DecodeFrame(messageType, payload)
		if err != nil {
			r.rejectFrame(err)
			continue
		}
		if err := r.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

func (r *Reader) handleControl(ctx context.Context, opcode int, appData string) error {
	frame, err := DecodeFrame(opcode, []byte(appData))
	if err != nil {
		r.rejectFrame(err)
		return nil
	}
	return r.handleFrame(ctx, frame)
}

func (r *Reader) handleFrame(ctx context.Context, frame Frame) error {
	switch frame.Kind {
	case FramePing:
		r.logger.Trace("Ping from server")
		r.extendDeadline()
		if err := r.writer.Pong(frame.Payload); err != nil {
			return &IOError{Op: "write pong", Err: err}
		}
	case FramePong:
		r.logger.Trace("Pong received")
		r.extendDeadline()
	case FrameClose:
		r.logger.WithFields(logrus.Fields{
			"code":   frame.CloseCode,
			"reason": frame.CloseReason,
		}).Info("Connection closed by server")
		return &ServerClosedError{Code: frame.CloseCode, Reason: frame.CloseReason}
	case FrameText:
		r.emit(ctx, frame.Payload)
	}
	return nil
}

// readError turns a ReadMessage error into the loop result. gorilla reports
// a close frame as *websocket.CloseError; an abnormal closure (1006) is a
// dropped transport, not a frame.
func (r *Reader) readError(ctx context.Context, err error) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		frame, ferr := DecodeFrame(websocket.CloseMessage, EncodeClose(closeErr.Code, closeErr.Text))
		if ferr != nil {
			r.rejectFrame(ferr)
			return &ServerClosedError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return r.handleFrame(ctx, frame)
	}

	r.logger.WithError(err).Warn("Failed to receive message from server")
	return &IOError{Op: "read", Err: err}
}

func (r *Reader) emit(ctx context.Context, payload []byte) {
	res, err := r.decoder.Decode(payload)
	out := sink.FromDecode(res, err, time.Now())
	out.Size = len(payload)
	if err != nil {
		r.logger.WithError(err).Debugf("Skipping payload: %s", string(payload))
	} else {
		r.checkOrdering(res)
	}
	r.sink.Accept(ctx, out)
}

func (r *Reader) checkOrdering(res decoder.Result) {
	meta := res.Event.Meta()
	key := res.Stream
	if key == "" {
		key = string(res.Event.Kind()) + ":" + meta.Symbol
	}
	previous, regressed := r.ordering.observe(key, meta.EventTime)
	if !regressed {
		return
	}
	r.logger.WithFields(logrus.Fields{
		"stream":   key,
		"previous": previous,
		"current":  meta.EventTime,
	}).Warn("Event time went backwards")
	r.observer.OutOfOrder(r.name, key, previous, meta.EventTime)
}

func (r *Reader) rejectFrame(err error) {
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		frameErr = &FrameError{Reason: err.Error()}
	}
	r.logger.WithError(frameErr).Warn("Skipping malformed frame")
	r.observer.FrameRejected(r.name, frameErr)
}

func (r *Reader) extendDeadline() {
	if r.readTimeout <= 0 {
		return
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
		r.logger.WithError(err).Trace("Failed to set read deadline")
	}
}
