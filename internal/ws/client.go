package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/decoder"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Supervisor owns one websocket connection to one stream URL. It moves
// through Disconnected → Connecting → Connected → Closing → Disconnected,
// reconnecting with exponential backoff after connect and read failures.
type Supervisor struct {
	cfg        Config
	name       string
	dialer     Dialer
	decoder    *decoder.Decoder
	newBackOff func() backoff.BackOff
	observer   Observer
	ordering   *orderingTracker
	logger     *logrus.Entry

	state atomic.Int32

	shutdownChan chan struct{} // Signal for graceful shutdown
	shutdownOnce sync.Once
	done         chan struct{} // Closed when Run returns
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) {
		s.dialer = d
	}
}

// WithBackOff replaces the backoff built from Config.Backoff. The factory
// is called once per Run.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(s *Supervisor) {
		s.newBackOff = factory
	}
}

// WithDecoder sets the decoder shared with other supervisors.
func WithDecoder(d *decoder.Decoder) Option {
	return func(s *Supervisor) {
		s.decoder = d
	}
}

// WithObserver registers lifecycle callbacks (metrics).
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		s.observer = o
	}
}

// NewSupervisor validates cfg and builds a supervisor. An invalid
// configuration is reported here as a *ConfigError, before any connection
// is attempted.
func NewSupervisor(cfg Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:          cfg,
		name:         cfg.label(),
		decoder:      decoder.New(),
		newBackOff:   cfg.Backoff.NewBackOff,
		observer:     NopObserver{},
		ordering:     newOrderingTracker(),
		shutdownChan: make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.logger = logrus.WithFields(logrus.Fields{
		"component": "ws_supervisor",
		"stream":    s.name,
	})

	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = NewDialer(cfg.HandshakeTimeout)
	}

	return s, nil
}

// Name returns the label used in logs and metrics.
func (s *Supervisor) Name() string { return s.name }

// State returns the current connection state. Safe to call from any
// goroutine.
func (s *Supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Run connects and delivers every decoded result to out until:
//   - the context is cancelled or Shutdown is called (returns nil)
//   - the server sends a close frame and ReconnectOnClose is off (returns nil)
//   - MaxRetries consecutive attempts failed (returns *RetriesExhaustedError)
//
// Run must be called at most once.
func (s *Supervisor) Run(ctx context.Context, out sink.Sink) error {
	s.logger.Debug("Starting supervisor")
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.shutdownChan:
			s.logger.Debug("Shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := s.newBackOff()
	failures := 0

	for {
		if ctx.Err() != nil {
			s.logger.Debug("Context cancelled, supervisor stopped")
			return nil
		}

		connected, err := s.session(ctx, out)
		if ctx.Err() != nil {
			s.logger.Debug("Context cancelled, supervisor stopped")
			return nil
		}

		var closed *ServerClosedError
		if errors.As(err, &closed) && !s.cfg.ReconnectOnClose {
			return nil
		}

		if connected {
			failures = 0
			bo.Reset()
		}
		failures++

		if s.cfg.MaxRetries >= 0 && failures > s.cfg.MaxRetries {
			s.logger.WithError(err).Errorf("Giving up after %d attempts", failures)
			return &RetriesExhaustedError{Attempts: failures, Err: err}
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return &RetriesExhaustedError{Attempts: failures, Err: err}
		}

		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": failures,
			"delay":   delay,
		}).Warn("Reconnecting")
		s.observer.Reconnecting(s.name, failures, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to cleanup. connected reports
// whether the handshake succeeded.
func (s *Supervisor) session(ctx context.Context, out sink.Sink) (connected bool, err error) {
	s.setState(StateConnecting)

	dialCtx := ctx
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := s.dialer.Dial(dialCtx, s.cfg.URL)
	if err != nil {
		s.setState(StateDisconnected)
		connectErr := &ConnectError{URL: s.cfg.URL, Err: err}
		if resp != nil {
			connectErr.StatusCode = resp.StatusCode
		}
		s.logger.WithError(connectErr).Warn("Failed to connect to WebSocket")
		return false, connectErr
	}

	logger := s.logger.WithField("session", uuid.NewString())
	status := http.StatusSwitchingProtocols
	if resp != nil {
		status = resp.StatusCode
	}
	logger.WithField("status", status).Info("Connected to WebSocket")
	s.setState(StateConnected)

	writer := NewWriter(conn, s.cfg.WriteTimeout, logger)
	reader := NewReader(s.name, conn, writer, s.decoder, out, s.ordering, s.observer, s.cfg.ReadTimeout, logger)

	var closeOnce sync.Once
	release := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil {
				logger.WithError(err).Trace("Error closing connection")
			}
		})
	}

	// Cancellation has to interrupt a blocking read: send the close frame
	// and drop the socket from here.
	readerDone := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			s.setState(StateClosing)
			if err := writer.Close(websocket.CloseNormalClosure, ""); err != nil {
				logger.WithError(err).Debug("Error sending close message")
			}
			release()
		case <-readerDone:
		}
	}()

	err = reader.Run(ctx)
	close(readerDone)
	<-stopped

	s.setState(StateClosing)
	release()
	s.setState(StateDisconnected)
	logger.Debug("WS connection closed")

	return true, err
}

// Stream runs the supervisor in the background and returns its results as
// a channel. The error channel yields Run's result once the result channel
// is closed.
func (s *Supervisor) Stream(ctx context.Context) (<-chan sink.Result, <-chan error) {
	size := s.cfg.StreamBuffer
	if size <= 0 {
		size = 100
	}
	queue := sink.NewChan(size)
	errc := make(chan error, 1)

	go func() {
		err := s.Run(ctx, queue)
		queue.Close()
		errc <- err
		close(errc)
	}()

	return queue.C(), errc
}

// Shutdown stops Run and waits for it to return. Run must have been
// started.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Debug("Shutting down supervisor")
		close(s.shutdownChan)
	})
	<-s.done
}

// Done returns a channel that's closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) setState(to ConnectionState) {
	from := ConnectionState(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Tracef("State %s -> %s", from, to)
	s.observer.StateChanged(s.name, from, to)
}
