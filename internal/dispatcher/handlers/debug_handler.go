package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/sirupsen/logrus"
)

// DebugHandler logs every event as indented JSON at trace level.
type DebugHandler struct {
	logger *logrus.Entry
}

func NewDebugHandler() *DebugHandler {
	return &DebugHandler{
		logger: logrus.WithField("component", "debug_handler"),
	}
}

func (h *DebugHandler) Handle(_ context.Context, res sink.Result) error {
	if !h.logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return nil
	}
	if res.Event == nil {
		h.logger.Tracef("Received decode error on %s: %v", res.Stream, res.Err)
		return nil
	}

	pretty, err := json.MarshalIndent(res.Event, "", "    ")
	if err != nil {
		return fmt.Errorf("error formatting JSON: %w", err)
	}
	h.logger.WithField("stream", res.Stream).Trace("Received message:\n", string(pretty))
	return nil
}
