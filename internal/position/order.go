package position

import (
	"fmt"
	"math/big"
)

// OrderKind is the closed set of decrease request kinds. The kind is
// dispatched once at the top of settlement and drives the size-clamp and
// validation rules.
type OrderKind int

const (
	MarketDecrease OrderKind = iota
	LimitDecrease
	StopLossDecrease
	Liquidation
)

func (k OrderKind) String() string {
	switch k {
	case MarketDecrease:
		return "market_decrease"
	case LimitDecrease:
		return "limit_decrease"
	case StopLossDecrease:
		return "stop_loss_decrease"
	case Liquidation:
		return "liquidation"
	default:
		return fmt.Sprintf("order_kind(%d)", int(k))
	}
}

// clampable reports whether an oversized request is silently reduced to the
// position's size instead of failing. Limit and stop-loss orders trigger at
// a price, not a moment, so the position may have shrunk since placement.
func (k OrderKind) clampable() bool {
	return k == LimitDecrease || k == StopLossDecrease
}

// Order is one immutable decrease request. The core consumes it once and
// never mutates it; partial-fill adjustments are applied by the order-store
// collaborator using the values the core returns.
type Order struct {
	Kind OrderKind

	Account         string
	Market          string
	CollateralToken string
	IsLong          bool

	SizeDeltaUsd                 *big.Int
	InitialCollateralDeltaAmount *big.Int

	// AcceptablePrice bounds the execution price. Nil skips the check,
	// which is how liquidations are submitted.
	AcceptablePrice *big.Int

	Receiver string

	// SwapPath optionally routes the payout through the swap engine;
	// MinOutputAmount then bounds the final swapped amount.
	SwapPath        []string
	MinOutputAmount *big.Int
	UnwrapNative    bool
}

func (o *Order) positionKey() Key {
	return Key{Account: o.Account, Market: o.Market, CollateralToken: o.CollateralToken, IsLong: o.IsLong}
}

// Validate checks request sanity before settlement runs.
func (o *Order) Validate() error {
	if o.Account == "" || o.Market == "" || o.CollateralToken == "" {
		return fmt.Errorf("order is missing position identity")
	}
	if o.SizeDeltaUsd == nil || o.SizeDeltaUsd.Sign() < 0 {
		return fmt.Errorf("order size delta must be non-negative, got %v", o.SizeDeltaUsd)
	}
	if o.InitialCollateralDeltaAmount == nil || o.InitialCollateralDeltaAmount.Sign() < 0 {
		return fmt.Errorf("order collateral delta must be non-negative, got %v", o.InitialCollateralDeltaAmount)
	}
	if o.AcceptablePrice != nil && o.AcceptablePrice.Sign() < 0 {
		return fmt.Errorf("order acceptable price is negative: %s", o.AcceptablePrice)
	}
	return nil
}
