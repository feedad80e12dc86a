package decoder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Dea1h/AtlasEngine/pkg/binance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tradePayload  = `{"e":"trade","E":123,"s":"BTCUSDT","t":1,"p":"50000.00","q":"0.01","T":123,"m":false,"M":true}`
	tickerPayload = `{"e":"24hrTicker","E":1672515782136,"s":"BNBBTC","p":"0.0015","P":"250.00","w":"0.0018","x":"0.0009","c":"0.0025","Q":"10","b":"0.0024","B":"10","a":"0.0026","A":"100","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}`
)

func TestDecoder_Decode(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		validate func(*testing.T, Result)
	}{
		{
			name:    "stream wrapped trade",
			payload: `{"stream":"btcusdt@trade","data":` + tradePayload + `}`,
			validate: func(t *testing.T, r Result) {
				assert.Equal(t, "btcusdt@trade", r.Stream)
				trade, ok := r.Event.(binance.Trade)
				require.True(t, ok, "expected a trade, got %T", r.Event)
				assert.Equal(t, "BTCUSDT", trade.Symbol)
				assert.Equal(t, "50000.00", trade.Price)
				assert.Equal(t, "0.01", trade.Quantity)
				assert.Equal(t, int64(123), trade.EventTime)
				assert.True(t, trade.Ignore)
				assert.False(t, trade.IsBuyerMaker)
			},
		},
		{
			name:    "single trade",
			payload: tradePayload,
			validate: func(t *testing.T, r Result) {
				assert.Empty(t, r.Stream)
				assert.Equal(t, binance.KindTrade, r.Event.Kind())
				assert.Equal(t, "50000.00", r.Event.ReferencePrice())
			},
		},
		{
			name:    "single ticker",
			payload: tickerPayload,
			validate: func(t *testing.T, r Result) {
				ticker, ok := r.Event.(binance.Ticker)
				require.True(t, ok)
				assert.Equal(t, "BNBBTC", ticker.Symbol)
				assert.Equal(t, "0.0025", ticker.LastPrice)
				assert.Equal(t, "0.0024", ticker.BidPrice)
				assert.Equal(t, int64(18151), ticker.TradeCount)
				assert.Equal(t, int64(86400000), ticker.CloseTime)
			},
		},
		{
			name:    "stream wrapped ticker",
			payload: `{"stream":"bnbbtc@ticker","data":` + tickerPayload + `}`,
			validate: func(t *testing.T, r Result) {
				assert.Equal(t, "bnbbtc@ticker", r.Stream)
				assert.Equal(t, binance.KindTicker, r.Event.Kind())
				assert.Equal(t, "BNBBTC", r.Event.Meta().Symbol)
			},
		},
	}

	d := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Decode([]byte(tt.payload))
			require.NoError(t, err)
			require.NotNil(t, res.Event)
			tt.validate(t, res)
		})
	}
}

func TestDecoder_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "empty payload", payload: ``, wantErr: ErrEmptyPayload},
		{name: "not json", payload: `hello`, wantErr: ErrMalformed},
		{name: "truncated json", payload: `{"e":"trade","s":"BTCUSDT"`, wantErr: ErrMalformed},
		{name: "json array", payload: `[1,2,3]`, wantErr: ErrMalformed},
		{name: "missing event type", payload: `{"s":"BTCUSDT","p":"1"}`, wantErr: ErrMissingType},
		{name: "unknown event type", payload: `{"e":"kline","s":"BTCUSDT"}`, wantErr: ErrUnknownType},
		{name: "subscription response", payload: `{"result":null,"id":1}`, wantErr: ErrMissingType},
		{name: "wrong field type", payload: `{"e":"trade","E":"soon","s":"BTCUSDT","p":"1","q":"1"}`, wantErr: ErrMalformed},
		{name: "price is not a decimal", payload: `{"e":"trade","E":1,"s":"BTCUSDT","p":"abc","q":"1"}`, wantErr: ErrInvalidEvent},
		{name: "missing quantity", payload: `{"e":"trade","E":1,"s":"BTCUSDT","p":"1"}`, wantErr: ErrInvalidEvent},
		{name: "missing symbol", payload: `{"e":"trade","E":1,"p":"1","q":"1"}`, wantErr: ErrInvalidEvent},
		{name: "envelope with malformed data", payload: `{"stream":"btcusdt@trade","data":"oops"}`, wantErr: ErrMalformed},
		{name: "envelope with unknown inner type", payload: `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","s":"BTCUSDT"}}`, wantErr: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.Nil(t, res.Event)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "expected *DecodeError, got %T", err)
			assert.Equal(t, tt.payload, string(decodeErr.Payload))
			assert.NotEmpty(t, decodeErr.Reason)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecoder_RoundTrip(t *testing.T) {
	for _, payload := range []string{
		tradePayload,
		tickerPayload,
		`{"e":"trade","E":1672515782136,"s":"BNBBTC","t":12345,"p":"0.001","q":"100","b":88,"a":50,"T":1672515782136,"m":true,"M":true}`,
		`{"e":"trade","E":1672515782136,"s":"BNBBTC","t":12346,"p":"0.001","q":"100","b":0,"a":0,"T":1672515782136,"m":false,"M":true}`,
	} {
		res, err := Decode([]byte(payload))
		require.NoError(t, err)

		encoded, err := json.Marshal(res.Event)
		require.NoError(t, err)
		assert.JSONEq(t, payload, string(encoded))
	}
}
