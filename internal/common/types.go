package common

import "github.com/Dea1h/AtlasEngine/pkg/binance"

// Topic names an event bus topic
type Topic string

// Topics published by the dispatcher
const (
	TopicTicker      Topic = "ticker"       // 24hr ticker statistics
	TopicTrade       Topic = "trade"        // Executed trades
	TopicDecodeError Topic = "decode_error" // Payloads that could not be decoded
	TopicUnknown     Topic = "unknown"
)

// TopicForKind maps an event kind to its topic.
func TopicForKind(kind binance.EventKind) Topic {
	switch kind {
	case binance.KindTicker:
		return TopicTicker
	case binance.KindTrade:
		return TopicTrade
	default:
		return TopicUnknown
	}
}
