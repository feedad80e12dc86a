package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/events"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueueSize    = 256
	defaultDrainTimeout = 5 * time.Second
)

// MessageHandler processes one decoded result for a topic.
type MessageHandler interface {
	Handle(ctx context.Context, res sink.Result) error
}

// DispatcherConfig holds the dispatcher dependencies.
type DispatcherConfig struct {
	// EventBus receives every result, whatever its handler does with it
	EventBus events.Bus
	// ErrChan receives handler errors. Errors are dropped when it is full or nil.
	ErrChan chan error
	// QueueSize bounds the results waiting to be dispatched
	QueueSize int
	// DrainTimeout bounds how long Run keeps dispatching queued results after
	// its context is done
	DrainTimeout time.Duration
}

// Dispatcher is the sink the supervisors write to. It routes each result by
// topic to a registered handler and publishes it on the event bus.
//
// Accept only enqueues. Run does the routing on its own goroutine.
type Dispatcher struct {
	handlers     map[common.Topic]MessageHandler
	handlerMutex sync.RWMutex

	eventBus events.Bus
	logger   *logrus.Entry

	// Senders: Accept (supervisor read loops)
	// Receivers: Run
	msgChan chan sink.Result
	errChan chan error
	done    chan struct{}

	drainTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &Dispatcher{
		handlers:     make(map[common.Topic]MessageHandler),
		eventBus:     cfg.EventBus,
		logger:       logrus.WithField("component", "dispatcher"),
		msgChan:      make(chan sink.Result, size),
		errChan:      cfg.ErrChan,
		done:         make(chan struct{}),
		drainTimeout: drainTimeout,
	}
}

// RegisterHandler registers the handler for topic, replacing any previous one.
//
//	dispatcher.RegisterHandler(common.TopicTrade, handlers.NewDebugHandler())
func (d *Dispatcher) RegisterHandler(topic common.Topic, handler MessageHandler) {
	d.handlerMutex.Lock()
	defer d.handlerMutex.Unlock()
	d.handlers[topic] = handler
}

// Accept implements sink.Sink. It blocks while the queue is full until ctx is done.
func (d *Dispatcher) Accept(ctx context.Context, res sink.Result) {
	select {
	case d.msgChan <- res:
	case <-ctx.Done():
	}
}

// Run dispatches queued results until ctx is done. Results still queued at
// that point are dispatched before Run returns, with a context that keeps
// ctx's values but is only bounded by DrainTimeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting dispatcher")
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.drainTimeout)
			d.drain(drainCtx)
			cancel()
			d.logger.Info("Shutting down dispatcher")
			return nil
		case res := <-d.msgChan:
			d.process(ctx, res)
		}
	}
}

func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drain(ctx context.Context) {
	drained := 0
	defer func() {
		if drained > 0 {
			d.logger.WithField("count", drained).Debug("Drained queued results")
		}
	}()
	for {
		if ctx.Err() != nil {
			if left := len(d.msgChan); left > 0 {
				d.logger.WithField("dropped", left).Warn("Drain timeout, dropping queued results")
			}
			return
		}
		select {
		case res := <-d.msgChan:
			d.process(ctx, res)
			drained++
		default:
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, res sink.Result) {
	if err := d.dispatch(ctx, res); err != nil {
		d.reportError(fmt.Errorf("dispatch error: %w", err))
	}
}

func (d *Dispatcher) reportError(err error) {
	d.logger.WithError(err).Debug("Handler failed")
	if d.errChan == nil {
		return
	}
	select {
	case d.errChan <- err:
	default:
		d.logger.WithError(err).Warn("Error channel full, dropping error")
	}
}

// dispatch publishes res on the bus and hands it to the handler of its topic.
func (d *Dispatcher) dispatch(ctx context.Context, res sink.Result) error {
	topic := TopicFor(res)
	if topic == common.TopicUnknown {
		return fmt.Errorf("unroutable result for stream %q", res.Stream)
	}

	if d.eventBus != nil {
		d.eventBus.Publish(topic, res)
	}

	d.handlerMutex.RLock()
	handler, exists := d.handlers[topic]
	d.handlerMutex.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for topic: %s", topic)
	}
	if err := handler.Handle(ctx, res); err != nil {
		return fmt.Errorf("handler error for topic %s: %w", topic, err)
	}
	return nil
}

// TopicFor returns the topic a result is routed to.
func TopicFor(res sink.Result) common.Topic {
	switch {
	case res.IsError():
		return common.TopicDecodeError
	case res.Event == nil:
		return common.TopicUnknown
	default:
		return common.TopicForKind(res.Event.Kind())
	}
}

var _ sink.Sink = (*Dispatcher)(nil)
