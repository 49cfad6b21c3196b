package ingestion

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sbneo2022/gmx-synthetics/internal/core"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
)

// Dispatcher drains the raw message channel, parses each message, and calls
// the core. Settlement errors are terminal, so a rejected order is ACKed and
// logged; only queueing interruptions NAK for redelivery. Processing is
// single-threaded, which is what serializes calls against the shared ledger.
type Dispatcher struct {
	core    *core.Core
	oracle  *pricing.StaticOracle
	msgChan <-chan RawMessage
	log     zerolog.Logger
}

func NewDispatcher(c *core.Core, oracle *pricing.StaticOracle, msgChan <-chan RawMessage, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{core: c, oracle: oracle, msgChan: msgChan, log: log}
}

// Run processes messages until the context is cancelled or the channel
// closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-d.msgChan:
			if !ok {
				return nil
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg RawMessage) {
	switch {
	case strings.HasPrefix(msg.Subject, "gmx.prices."):
		d.handlePrice(msg)
	case strings.HasPrefix(msg.Subject, "gmx.orders.swap."):
		d.handleSwap(ctx, msg)
	case strings.HasPrefix(msg.Subject, "gmx.orders."):
		d.handleOrder(ctx, msg)
	default:
		d.log.Warn().Str("subject", msg.Subject).Msg("message on unexpected subject dropped")
		msg.AckFunc()
	}
}

func (d *Dispatcher) handlePrice(msg RawMessage) {
	update, err := ParsePriceUpdate(msg.Data)
	if err != nil {
		// Malformed input never gets better on redelivery.
		d.log.Error().Err(err).Str("subject", msg.Subject).Msg("dropping unparseable price update")
		msg.AckFunc()
		return
	}
	d.oracle.Set(update.Token, update.Price)
	msg.AckFunc()
}

func (d *Dispatcher) handleOrder(ctx context.Context, msg RawMessage) {
	order, err := ParseDecreaseOrder(msg.Data)
	if err != nil {
		d.log.Error().Err(err).Str("subject", msg.Subject).Msg("dropping unparseable order")
		msg.AckFunc()
		return
	}
	if _, err := d.core.DecreasePosition(ctx, order.Order, order.Block); err != nil {
		// The core already logged and counted the rejection; the order is
		// consumed either way.
		d.log.Debug().Err(err).Str("order_id", order.OrderID).Msg("order rejected")
	}
	msg.AckFunc()
}

func (d *Dispatcher) handleSwap(ctx context.Context, msg RawMessage) {
	params, err := ParseSwapRequest(msg.Data)
	if err != nil {
		d.log.Error().Err(err).Str("subject", msg.Subject).Msg("dropping unparseable swap request")
		msg.AckFunc()
		return
	}
	if _, err := d.core.Swap(ctx, *params); err != nil {
		d.log.Debug().Err(err).Msg("swap rejected")
	}
	msg.AckFunc()
}
