package binance

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
)

// EventKind is the value of the "e" discriminator field.
type EventKind string

const (
	KindTicker EventKind = "24hrTicker"
	KindTrade  EventKind = "trade"
)

// Event is a decoded market-data event. Ticker and Trade are the only
// implementations.
type Event interface {
	Kind() EventKind
	Meta() Header
	// ReferencePrice is the price a consumer would display for the event,
	// exactly as sent on the wire.
	ReferencePrice() string
	Validate() error
	isEvent()
}

// Header holds the fields every stream event carries.
type Header struct {
	EventType string `json:"e"` // Event type
	EventTime int64  `json:"E"` // Event time (ms)
	Symbol    string `json:"s"` // Symbol
}

func (h Header) Meta() Header { return h }

// Ticker is the 24hr rolling window statistics event (<symbol>@ticker).
type Ticker struct {
	Header
	PriceChange        string `json:"p"` // Price change
	PriceChangePercent string `json:"P"` // Price change percent
	WeightedAvgPrice   string `json:"w"` // Weighted average price
	PrevClosePrice     string `json:"x"` // First trade(F)-1 price
	LastPrice          string `json:"c"` // Last price
	LastQty            string `json:"Q"` // Last quantity
	BidPrice           string `json:"b"` // Best bid price
	BidQty             string `json:"B"` // Best bid quantity
	AskPrice           string `json:"a"` // Best ask price
	AskQty             string `json:"A"` // Best ask quantity
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	BaseVolume         string `json:"v"` // Total traded base asset volume
	QuoteVolume        string `json:"q"` // Total traded quote asset volume
	OpenTime           int64  `json:"O"` // Statistics open time
	CloseTime          int64  `json:"C"` // Statistics close time
	FirstTradeID       int64  `json:"F"`
	LastTradeID        int64  `json:"L"`
	TradeCount         int64  `json:"n"`
}

func (Ticker) Kind() EventKind { return KindTicker }
func (Ticker) isEvent()        {}

func (t Ticker) ReferencePrice() string { return t.LastPrice }

// Validate checks the symbol and that every price/quantity field is a
// decimal number. Empty optional fields are accepted.
func (t Ticker) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	return validateDecimals(map[string]string{
		"p": t.PriceChange,
		"P": t.PriceChangePercent,
		"w": t.WeightedAvgPrice,
		"x": t.PrevClosePrice,
		"c": t.LastPrice,
		"Q": t.LastQty,
		"b": t.BidPrice,
		"B": t.BidQty,
		"a": t.AskPrice,
		"A": t.AskQty,
		"o": t.OpenPrice,
		"h": t.HighPrice,
		"l": t.LowPrice,
		"v": t.BaseVolume,
		"q": t.QuoteVolume,
	}, "c")
}

func (t Ticker) Last() decimal.Decimal { return toDecimal(t.LastPrice) }
func (t Ticker) Bid() decimal.Decimal  { return toDecimal(t.BidPrice) }
func (t Ticker) Ask() decimal.Decimal  { return toDecimal(t.AskPrice) }

// Spread returns ask minus bid.
func (t Ticker) Spread() decimal.Decimal { return t.Ask().Sub(t.Bid()) }

// PrettyPrint returns a small table with the most relevant ticker fields.
func (t Ticker) PrettyPrint() string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Ticker %s (E=%d)\n", t.Symbol, t.EventTime)
	fmt.Fprintln(w, "LAST\tBID\tASK\tHIGH\tLOW\tVOLUME")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.LastPrice, t.BidPrice, t.AskPrice, t.HighPrice, t.LowPrice, t.BaseVolume)
	w.Flush()
	return buf.String()
}

// Trade is a single executed trade (<symbol>@trade).
type Trade struct {
	Header
	TradeID       int64  `json:"t"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	BuyerOrderID  *int64 `json:"b,omitempty"` // nil when not sent
	SellerOrderID *int64 `json:"a,omitempty"` // nil when not sent
	TradeTime     int64  `json:"T"`
	IsBuyerMaker  bool   `json:"m"`
	Ignore        bool   `json:"M"`
}

func (Trade) Kind() EventKind { return KindTrade }
func (Trade) isEvent()        {}

func (t Trade) ReferencePrice() string { return t.Price }

func (t Trade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	return validateDecimals(map[string]string{
		"p": t.Price,
		"q": t.Quantity,
	}, "p", "q")
}

func (t Trade) PriceDecimal() decimal.Decimal    { return toDecimal(t.Price) }
func (t Trade) QuantityDecimal() decimal.Decimal { return toDecimal(t.Quantity) }

// Notional returns price * quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.PriceDecimal().Mul(t.QuantityDecimal())
}

// Side returns the aggressor side. A buyer-maker trade was hit by a seller.
func (t Trade) Side() string {
	if t.IsBuyerMaker {
		return "sell"
	}
	return "buy"
}

// SymbolFromStream returns the symbol of a stream name such as
// "btcusdt@trade", uppercased the way it appears in the "s" field.
func SymbolFromStream(stream string) string {
	name, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(name)
}

func validateDecimals(fields map[string]string, required ...string) error {
	for _, key := range required {
		if fields[key] == "" {
			return fmt.Errorf("missing field %q", key)
		}
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("field %q is not a decimal: %w", key, err)
		}
	}
	return nil
}

func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
