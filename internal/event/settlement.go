package event

import (
	"math/big"

	"github.com/google/uuid"
)

// PositionDecrease reports one settled decrease, full or partial. Amounts
// are exact fixed-point integers; USD values carry the oracle price scale.
type PositionDecrease struct {
	EventID         uuid.UUID
	Account         string
	MarketAddress   string
	CollateralToken string
	IsLong          bool
	Liquidation     bool

	SizeDeltaUsd    *big.Int
	SizeDeltaTokens *big.Int
	ExecutionPrice  *big.Int
	PnlAmount       *big.Int
	OutputToken     string
	OutputAmount    *big.Int
	Closed          bool
}

func (e *PositionDecrease) EventType() EventType {
	if e.Liquidation {
		return EventTypePositionLiquidation
	}
	return EventTypePositionDecrease
}

func (e *PositionDecrease) Market() string { return e.MarketAddress }

// SwapExecuted reports one completed multi-hop swap.
type SwapExecuted struct {
	EventID   uuid.UUID
	Receiver  string
	TokenIn   string
	TokenOut  string
	AmountIn  *big.Int
	AmountOut *big.Int
	Path      []string
}

func (e *SwapExecuted) EventType() EventType { return EventTypeSwapExecuted }

// Market returns the first hop; the full path is in the payload.
func (e *SwapExecuted) Market() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[0]
}

// FeesCollected reports the fee split of one settlement or swap hop.
type FeesCollected struct {
	EventID           uuid.UUID
	MarketAddress     string
	Token             string
	Source            string // "swap" or "position"
	FeeReceiverAmount *big.Int
	FeesForPool       *big.Int
	FundingFeeAmount  *big.Int
	BorrowingFeeAmount *big.Int
}

func (e *FeesCollected) EventType() EventType { return EventTypeFeesCollected }

func (e *FeesCollected) Market() string { return e.MarketAddress }
