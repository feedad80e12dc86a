package handlers

import (
	"context"
	"fmt"

	"github.com/Dea1h/AtlasEngine/internal/kafka"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/sirupsen/logrus"
)

const maxLoggedPayload = 256

// DecodeErrorHandler logs payloads that could not be decoded and, when a
// base is given, forwards the raw payload to a dead-letter topic.
type DecodeErrorHandler struct {
	base   *BaseHandler
	logger *logrus.Entry
}

// NewDecodeErrorHandler creates the handler. base may be nil to only log.
func NewDecodeErrorHandler(base *BaseHandler) *DecodeErrorHandler {
	return &DecodeErrorHandler{
		base:   base,
		logger: logrus.WithField("component", "decode_error_handler"),
	}
}

func (h *DecodeErrorHandler) Handle(ctx context.Context, res sink.Result) error {
	if res.Err == nil {
		return fmt.Errorf("result for stream %q carries no decode error", res.Stream)
	}

	h.logger.WithFields(logrus.Fields{
		"stream": res.Stream,
		"reason": res.Err.Reason,
	}).Warnf("Undecodable payload: %s", truncate(res.Err.Payload, maxLoggedPayload))

	if h.base == nil {
		return nil
	}
	msg := kafka.Message{
		Topic:   h.base.topicName,
		Key:     res.Stream,
		Payload: res.Err.Payload,
		Headers: map[string]string{
			"stream": res.Stream,
			"reason": res.Err.Reason,
		},
	}
	if err := h.base.send(func() error { return h.base.sender.Send(ctx, msg) }); err != nil {
		return fmt.Errorf("failed to send to dead-letter topic: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
