package ws

import "time"

// Observer receives supervisor lifecycle notifications. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	StateChanged(name string, from, to ConnectionState)
	Reconnecting(name string, attempt int, err error, delay time.Duration)
	FrameRejected(name string, err *FrameError)
	OutOfOrder(name, stream string, previous, current int64)
}

// NopObserver ignores every notification. Embed it to implement only part
// of Observer.
type NopObserver struct{}

func (NopObserver) StateChanged(string, ConnectionState, ConnectionState) {}
func (NopObserver) Reconnecting(string, int, error, time.Duration)        {}
func (NopObserver) FrameRejected(string, *FrameError)                     {}
func (NopObserver) OutOfOrder(string, string, int64, int64)               {}
