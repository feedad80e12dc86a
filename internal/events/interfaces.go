package events

import (
	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/sink"
)

// Bus defines the interface for event bus operations
type Bus interface {
	// Publish sends a result to all subscribers of the specified topic
	Publish(topic common.Topic, res sink.Result)
	// Subscribe returns a channel that receives results for the specified topic
	Subscribe(topic common.Topic) <-chan sink.Result
	// Unsubscribe removes a subscriber channel from the specified topic
	Unsubscribe(topic common.Topic, ch <-chan sink.Result)
}
