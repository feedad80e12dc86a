package handlers

import (
	"github.com/Dea1h/AtlasEngine/internal/circuitbreaker"
	"github.com/Dea1h/AtlasEngine/internal/kafka"
	"github.com/sirupsen/logrus"
)

// BaseHandler holds what the publishing handlers share.
type BaseHandler struct {
	logger    *logrus.Entry
	sender    kafka.MessageSender
	topicName string
	breaker   *circuitbreaker.CircuitBreaker
}

// NewBaseHandler creates a base handler publishing to topicName. breaker may be nil.
func NewBaseHandler(sender kafka.MessageSender, topicName string, breaker *circuitbreaker.CircuitBreaker) *BaseHandler {
	return &BaseHandler{
		logger:    logrus.WithField("component", "base_handler"),
		sender:    sender,
		topicName: topicName,
		breaker:   breaker,
	}
}

func (b *BaseHandler) send(fn func() error) error {
	if b.breaker == nil {
		return fn()
	}
	return b.breaker.Execute(fn)
}
