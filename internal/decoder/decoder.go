package decoder

import (
	"encoding/json"

	"github.com/Dea1h/AtlasEngine/pkg/binance"
	"github.com/sirupsen/logrus"
)

// Result is a successfully decoded payload. Stream is empty for payloads
// received on a raw (single stream) connection.
type Result struct {
	Stream string
	Event  binance.Event
}

// variantDecoder turns the JSON object of one event kind into an Event.
type variantDecoder func(data []byte) (binance.Event, error)

// Decoder parses exchange payloads into events. The variant table is
// filled by New and read-only afterwards, so a Decoder may be shared.
type Decoder struct {
	variants map[binance.EventKind]variantDecoder
	logger   *logrus.Entry
}

// New returns a Decoder that knows the ticker and trade variants.
func New() *Decoder {
	d := &Decoder{
		variants: make(map[binance.EventKind]variantDecoder),
		logger:   logrus.WithField("component", "decoder"),
	}
	d.variants[binance.KindTicker] = decodeInto[binance.Ticker]
	d.variants[binance.KindTrade] = decodeInto[binance.Trade]
	return d
}

// Decode parses a text payload. Envelopes are tried first ("stream" and
// "data" present), then the payload is treated as a single event. The
// variant is selected by the "e" field.
//
// Any failure is a *DecodeError; the caller keeps reading.
func (d *Decoder) Decode(payload []byte) (Result, error) {
	if len(payload) == 0 {
		return Result{}, newDecodeError(payload, ErrEmptyPayload, "")
	}

	var generic binance.GenericResponse
	if err := json.Unmarshal(payload, &generic); err != nil {
		return Result{}, newDecodeError(payload, ErrMalformed, "%v", err)
	}

	if !generic.IsEnvelope() {
		evt, err := d.decodeEvent(payload, generic.EventType, payload)
		if err != nil {
			return Result{}, err
		}
		return Result{Event: evt}, nil
	}

	return d.decodeEnvelope(payload, generic.StreamEnvelope)
}

// decodeEnvelope decodes the event wrapped by a combined-stream envelope
// and checks the stream name against the event symbol.
func (d *Decoder) decodeEnvelope(payload []byte, env binance.StreamEnvelope) (Result, error) {
	var inner binance.GenericResponse
	if err := json.Unmarshal(env.Data, &inner); err != nil {
		return Result{}, newDecodeError(payload, ErrMalformed, "stream %s: %v", env.Stream, err)
	}
	evt, err := d.decodeEvent(payload, inner.EventType, env.Data)
	if err != nil {
		return Result{}, err
	}

	if sym := binance.SymbolFromStream(env.Stream); sym != evt.Meta().Symbol {
		d.logger.WithFields(logrus.Fields{
			"stream": env.Stream,
			"symbol": evt.Meta().Symbol,
		}).Warn("Stream name does not match event symbol")
	}

	return Result{Stream: env.Stream, Event: evt}, nil
}

func (d *Decoder) decodeEvent(payload []byte, eventType string, data []byte) (binance.Event, error) {
	if eventType == "" {
		return nil, newDecodeError(payload, ErrMissingType, "")
	}

	fn, ok := d.variants[binance.EventKind(eventType)]
	if !ok {
		return nil, newDecodeError(payload, ErrUnknownType, "%q", eventType)
	}

	evt, err := fn(data)
	if err != nil {
		return nil, newDecodeError(payload, ErrMalformed, "%s: %v", eventType, err)
	}
	if err := evt.Validate(); err != nil {
		return nil, newDecodeError(payload, ErrInvalidEvent, "%s: %v", eventType, err)
	}
	return evt, nil
}

func decodeInto[T binance.Ticker | binance.Trade](data []byte) (binance.Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return any(v).(binance.Event), nil
}

var defaultDecoder = New()

// Decode parses payload with the package level decoder.
func Decode(payload []byte) (Result, error) {
	return defaultDecoder.Decode(payload)
}
