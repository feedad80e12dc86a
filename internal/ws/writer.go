package ws

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Writer sends the only frames the client ever writes: pong replies and
// the close handshake. Writes are synchronous and bounded by timeout.
type Writer struct {
	conn    Conn
	timeout time.Duration
	logger  *logrus.Entry
}

// NewWriter creates a Writer for conn. A zero timeout means no deadline.
func NewWriter(conn Conn, timeout time.Duration, logger *logrus.Entry) *Writer {
	return &Writer{
		conn:    conn,
		timeout: timeout,
		logger:  logger.WithField("role", "writer"),
	}
}

// Pong answers a ping with the same payload.
func (w *Writer) Pong(payload []byte) error {
	w.logger.Tracef("Writing pong (%d bytes)", len(payload))
	return w.writeControl(websocket.PongMessage, payload)
}

// Close starts the close handshake.
func (w *Writer) Close(code int, reason string) error {
	w.logger.Trace("Sending close message through ws connection")
	return w.writeControl(websocket.CloseMessage, EncodeClose(code, reason))
}

func (w *Writer) writeControl(messageType int, data []byte) error {
	var deadline time.Time
	if w.timeout > 0 {
		deadline = time.Now().Add(w.timeout)
	}
	err := w.conn.WriteControl(messageType, data, deadline)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
