package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/position"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
	"github.com/sbneo2022/gmx-synthetics/internal/swap"
)

// Message kinds produced by the parser.
const (
	KindDecreaseOrder    = "DecreaseOrder"
	KindLiquidationOrder = "LiquidationOrder"
	KindSwapRequest      = "SwapRequest"
	KindPriceUpdate      = "PriceUpdate"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts arrive as
// decimal strings; fixed-point values do not fit int64.

type decreaseOrderJSON struct {
	OrderID                      string   `json:"order_id"`
	Kind                         string   `json:"kind"`
	Account                      string   `json:"account"`
	Market                       string   `json:"market"`
	CollateralToken              string   `json:"collateral_token"`
	IsLong                       bool     `json:"is_long"`
	SizeDeltaUsd                 string   `json:"size_delta_usd"`
	InitialCollateralDeltaAmount string   `json:"initial_collateral_delta_amount"`
	AcceptablePrice              string   `json:"acceptable_price,omitempty"`
	Receiver                     string   `json:"receiver"`
	SwapPath                     []string `json:"swap_path,omitempty"`
	MinOutputAmount              string   `json:"min_output_amount,omitempty"`
	UnwrapNative                 bool     `json:"unwrap_native,omitempty"`
	Block                        int64    `json:"block"`
}

type swapRequestJSON struct {
	RequestID       string   `json:"request_id"`
	TokenIn         string   `json:"token_in"`
	AmountIn        string   `json:"amount_in"`
	Path            []string `json:"path"`
	MinOutputAmount string   `json:"min_output_amount,omitempty"`
	Receiver        string   `json:"receiver"`
	UnwrapNative    bool     `json:"unwrap_native,omitempty"`
}

type priceUpdateJSON struct {
	Token    string `json:"token"`
	MinPrice string `json:"min_price"`
	MaxPrice string `json:"max_price"`
}

// DecreaseOrderMessage pairs the parsed order with its submission block.
type DecreaseOrderMessage struct {
	OrderID string
	Order   position.Order
	Block   int64
}

// PriceUpdate is one oracle refresh for a token.
type PriceUpdate struct {
	Token string
	Price pricing.Price
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: %q is not a decimal integer", field, s)
	}
	return v, nil
}

func parseOrderKind(s string) (position.OrderKind, error) {
	switch s {
	case "market_decrease":
		return position.MarketDecrease, nil
	case "limit_decrease":
		return position.LimitDecrease, nil
	case "stop_loss_decrease":
		return position.StopLossDecrease, nil
	case "liquidation":
		return position.Liquidation, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", s)
	}
}

// ParseDecreaseOrder converts the JSON wire form into a settlement request.
func ParseDecreaseOrder(data []byte) (*DecreaseOrderMessage, error) {
	var j decreaseOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse decrease order: %w", err)
	}
	kind, err := parseOrderKind(j.Kind)
	if err != nil {
		return nil, err
	}
	sizeDelta, err := parseBig("size_delta_usd", j.SizeDeltaUsd)
	if err != nil {
		return nil, err
	}
	if sizeDelta == nil {
		return nil, fmt.Errorf("decrease order %s is missing size_delta_usd", j.OrderID)
	}
	collateralDelta, err := parseBig("initial_collateral_delta_amount", j.InitialCollateralDeltaAmount)
	if err != nil {
		return nil, err
	}
	if collateralDelta == nil {
		collateralDelta = new(big.Int)
	}
	acceptable, err := parseBig("acceptable_price", j.AcceptablePrice)
	if err != nil {
		return nil, err
	}
	minOutput, err := parseBig("min_output_amount", j.MinOutputAmount)
	if err != nil {
		return nil, err
	}

	o := position.Order{
		Kind:                         kind,
		Account:                      j.Account,
		Market:                       j.Market,
		CollateralToken:              j.CollateralToken,
		IsLong:                       j.IsLong,
		SizeDeltaUsd:                 sizeDelta,
		InitialCollateralDeltaAmount: collateralDelta,
		AcceptablePrice:              acceptable,
		Receiver:                     j.Receiver,
		SwapPath:                     j.SwapPath,
		MinOutputAmount:              minOutput,
		UnwrapNative:                 j.UnwrapNative,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &DecreaseOrderMessage{OrderID: j.OrderID, Order: o, Block: j.Block}, nil
}

// ParseSwapRequest converts the JSON wire form into swap parameters.
func ParseSwapRequest(data []byte) (*swap.Params, error) {
	var j swapRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse swap request: %w", err)
	}
	amountIn, err := parseBig("amount_in", j.AmountIn)
	if err != nil {
		return nil, err
	}
	if amountIn == nil {
		return nil, fmt.Errorf("swap request %s is missing amount_in", j.RequestID)
	}
	minOutput, err := parseBig("min_output_amount", j.MinOutputAmount)
	if err != nil {
		return nil, err
	}
	return &swap.Params{
		TokenIn:         j.TokenIn,
		AmountIn:        amountIn,
		Path:            j.Path,
		MinOutputAmount: minOutput,
		Receiver:        j.Receiver,
		UnwrapNative:    j.UnwrapNative,
	}, nil
}

// ParsePriceUpdate converts the JSON wire form into an oracle refresh.
func ParsePriceUpdate(data []byte) (*PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price update: %w", err)
	}
	minPrice, err := parseBig("min_price", j.MinPrice)
	if err != nil {
		return nil, err
	}
	maxPrice, err := parseBig("max_price", j.MaxPrice)
	if err != nil {
		return nil, err
	}
	if minPrice == nil || maxPrice == nil {
		return nil, fmt.Errorf("price update for %s is missing a bound", j.Token)
	}
	p := pricing.Price{Min: minPrice, Max: maxPrice}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PriceUpdate{Token: j.Token, Price: p}, nil
}
