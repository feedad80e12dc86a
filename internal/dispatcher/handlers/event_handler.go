package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dea1h/AtlasEngine/internal/kafka"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/sirupsen/logrus"
)

// EventHandler publishes decoded events to Kafka as JSON, keyed by symbol.
type EventHandler struct {
	*BaseHandler
	logger *logrus.Entry
}

func NewEventHandler(base *BaseHandler) *EventHandler {
	return &EventHandler{
		BaseHandler: base,
		logger:      logrus.WithField("component", "event_handler"),
	}
}

func (h *EventHandler) Handle(ctx context.Context, res sink.Result) error {
	if res.Event == nil {
		return fmt.Errorf("result for stream %q carries no event", res.Stream)
	}

	payload, err := json.Marshal(res.Event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", res.Event.Kind(), err)
	}

	meta := res.Event.Meta()
	msg := kafka.Message{
		Topic:   h.topicName,
		Key:     meta.Symbol,
		Payload: payload,
		Headers: map[string]string{
			"stream":     res.Stream,
			"event_type": string(res.Event.Kind()),
		},
	}

	if err := h.send(func() error { return h.sender.Send(ctx, msg) }); err != nil {
		return fmt.Errorf("failed to send to kafka: %w", err)
	}
	h.logger.WithFields(logrus.Fields{
		"topic":  h.topicName,
		"symbol": meta.Symbol,
	}).Trace("Event sent to producer pool")
	return nil
}
