package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("use of closed network connection")

type fakeStepKind int

const (
	fakeText fakeStepKind = iota
	fakeBinary
	fakePing
	fakePong
	fakeClose
	fakeErr
)

type fakeStep struct {
	kind    fakeStepKind
	payload []byte
	code    int
	err     error
}

func textStep(payload string) fakeStep   { return fakeStep{kind: fakeText, payload: []byte(payload)} }
func pingStep(payload string) fakeStep   { return fakeStep{kind: fakePing, payload: []byte(payload)} }
func pongStep(payload string) fakeStep   { return fakeStep{kind: fakePong, payload: []byte(payload)} }
func closeStep(code int) fakeStep        { return fakeStep{kind: fakeClose, code: code} }
func errStep(err error) fakeStep         { return fakeStep{kind: fakeErr, err: err} }
func binaryStep(payload []byte) fakeStep { return fakeStep{kind: fakeBinary, payload: payload} }

type controlWrite struct {
	messageType int
	data        []byte
}

// fakeConn plays a script of frames. Control frames are delivered to the
// installed handlers from inside ReadMessage, like gorilla does. Once the
// script is exhausted ReadMessage blocks until Close.
type fakeConn struct {
	mu          sync.Mutex
	steps       []fakeStep
	pingHandler func(string) error
	pongHandler func(string) error
	controls    []controlWrite
	deadlines   int
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeConn(steps ...fakeStep) *fakeConn {
	return &fakeConn{steps: steps, closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		select {
		case <-f.closed:
			return 0, nil, errConnClosed
		default:
		}

		f.mu.Lock()
		if len(f.steps) == 0 {
			f.mu.Unlock()
			<-f.closed
			return 0, nil, errConnClosed
		}
		step := f.steps[0]
		f.steps = f.steps[1:]
		ping, pong := f.pingHandler, f.pongHandler
		f.mu.Unlock()

		switch step.kind {
		case fakeText:
			return websocket.TextMessage, step.payload, nil
		case fakeBinary:
			return websocket.BinaryMessage, step.payload, nil
		case fakePing:
			if ping != nil {
				if err := ping(string(step.payload)); err != nil {
					return 0, nil, err
				}
			}
		case fakePong:
			if pong != nil {
				if err := pong(string(step.payload)); err != nil {
					return 0, nil, err
				}
			}
		case fakeClose:
			return 0, nil, &websocket.CloseError{Code: step.code}
		case fakeErr:
			return 0, nil, step.err
		}
	}
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, controlWrite{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlines++
	return nil
}

func (f *fakeConn) SetPingHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingHandler = h
}

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongHandler = h
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.steps)
}

func (f *fakeConn) controlWrites(messageType int) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, c := range f.controls {
		if c.messageType == messageType {
			out = append(out, c.data)
		}
	}
	return out
}

// fakeDialer hands out scripted connections or errors, one per Dial.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
	urls    []string
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, &http.Response{StatusCode: http.StatusServiceUnavailable}, r.err
	}
	return r.conn, &http.Response{StatusCode: http.StatusSwitchingProtocols}, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recordingSink keeps everything it is given.
type recordingSink struct {
	mu      sync.Mutex
	results []sink.Result
}

func (r *recordingSink) Accept(_ context.Context, res sink.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordingSink) Results() []sink.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sink.Result, len(r.results))
	copy(out, r.results)
	return out
}

// recordingObserver keeps every notification.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []ConnectionState
	delays      []time.Duration
	retryErrs   []error
	frameErrs   []*FrameError
	outOfOrder  []string
}

func (o *recordingObserver) StateChanged(_ string, _, to ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) Reconnecting(_ string, _ int, err error, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = append(o.delays, delay)
	o.retryErrs = append(o.retryErrs, err)
}

func (o *recordingObserver) FrameRejected(_ string, err *FrameError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frameErrs = append(o.frameErrs, err)
}

func (o *recordingObserver) OutOfOrder(_ string, stream string, _, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outOfOrder = append(o.outOfOrder, stream)
}

type observed struct {
	transitions []ConnectionState
	delays      []time.Duration
	retryErrs   []error
	frameErrs   []*FrameError
	outOfOrder  []string
}

func (o *recordingObserver) snapshot() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return observed{
		transitions: append([]ConnectionState(nil), o.transitions...),
		delays:      append([]time.Duration(nil), o.delays...),
		retryErrs:   append([]error(nil), o.retryErrs...),
		frameErrs:   append([]*FrameError(nil), o.frameErrs...),
		outOfOrder:  append([]string(nil), o.outOfOrder...),
	}
}
