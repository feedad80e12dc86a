package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/events"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/Dea1h/AtlasEngine/pkg/binance"
	"github.com/sirupsen/logrus"
)

// Printer writes one line per ticker or trade event to out, e.g.
//
//	BTCUSDT last=50000.00
//
// With Verbose set, tickers are printed as a table instead.
type Printer struct {
	eventBus events.Bus
	out      io.Writer
	logger   *logrus.Entry
	Verbose  bool

	mu   sync.RWMutex
	last map[string]string
	done chan struct{}
}

func NewPrinter(eventBus events.Bus, out io.Writer) *Printer {
	return &Printer{
		eventBus: eventBus,
		out:      out,
		logger:   logrus.WithField("component", "console_printer"),
		last:     make(map[string]string),
		done:     make(chan struct{}),
	}
}

// Start subscribes to tickers and trades and prints until ctx is done or the
// bus shuts down.
func (p *Printer) Start(ctx context.Context) {
	tickers := p.eventBus.Subscribe(common.TopicTicker)
	trades := p.eventBus.Subscribe(common.TopicTrade)

	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.eventBus.Unsubscribe(common.TopicTicker, tickers)
				p.eventBus.Unsubscribe(common.TopicTrade, trades)
				return
			case res, ok := <-tickers:
				if !ok {
					return
				}
				p.print(res)
			case res, ok := <-trades:
				if !ok {
					return
				}
				p.print(res)
			}
		}
	}()
}

func (p *Printer) Done() <-chan struct{} {
	return p.done
}

// Last returns the last printed price for symbol.
func (p *Printer) Last(symbol string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.last[symbol]
	return price, ok
}

func (p *Printer) print(res sink.Result) {
	if res.Event == nil {
		return
	}
	symbol := res.Event.Meta().Symbol
	price := res.Event.ReferencePrice()

	p.mu.Lock()
	p.last[symbol] = price
	p.mu.Unlock()

	var err error
	if t, ok := res.Event.(binance.Ticker); ok && p.Verbose {
		_, err = fmt.Fprintln(p.out, t.PrettyPrint())
	} else {
		_, err = fmt.Fprintf(p.out, "%s last=%s\n", symbol, price)
	}
	if err != nil {
		p.logger.WithError(err).Debug("Failed to print event")
	}
}
