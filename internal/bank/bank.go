package bank

import (
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
)

// Bank is the token custody collaborator. The core never moves tokens
// itself; it instructs the bank, and the surrounding transaction guarantees
// the instruction only takes effect if the whole call commits.
type Bank interface {
	// TransferOut pays amount of token to receiver. unwrapNative asks the
	// custody layer to unwrap a wrapped native token before paying out.
	// Fails when receiver is the bank itself.
	TransferOut(token, receiver string, amount *big.Int, unwrapNative bool) error
}

// FeeReceiver is the opaque sink credited with every fee-receiver share.
type FeeReceiver interface {
	CreditFee(market, token string, amount *big.Int)
}

// MemBank is an in-memory Bank that records outflows, used in tests and
// local wiring. Outflows are tracked per (receiver, token).
type MemBank struct {
	Self     string
	outflows map[string]map[string]*big.Int
}

func NewMemBank(self string) *MemBank {
	return &MemBank{Self: self, outflows: make(map[string]map[string]*big.Int)}
}

func (b *MemBank) TransferOut(token, receiver string, amount *big.Int, unwrapNative bool) error {
	if receiver == b.Self {
		return fmt.Errorf("bank cannot transfer to itself (%s)", b.Self)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s for token %s", amount, token)
	}
	if amount.Sign() == 0 {
		return nil
	}
	byToken, ok := b.outflows[receiver]
	if !ok {
		byToken = make(map[string]*big.Int)
		b.outflows[receiver] = byToken
	}
	cur, ok := byToken[token]
	if !ok {
		cur = fixedmath.Zero()
	}
	byToken[token] = fixedmath.Add(cur, amount)
	return nil
}

// Outflow returns the total paid to receiver in token.
func (b *MemBank) Outflow(receiver, token string) *big.Int {
	if byToken, ok := b.outflows[receiver]; ok {
		if v, ok := byToken[token]; ok {
			return fixedmath.Copy(v)
		}
	}
	return fixedmath.Zero()
}

// MemFeeReceiver accumulates fee credits per (market, token).
type MemFeeReceiver struct {
	credits map[string]*big.Int
}

func NewMemFeeReceiver() *MemFeeReceiver {
	return &MemFeeReceiver{credits: make(map[string]*big.Int)}
}

func (r *MemFeeReceiver) CreditFee(market, token string, amount *big.Int) {
	key := market + "/" + token
	cur, ok := r.credits[key]
	if !ok {
		cur = fixedmath.Zero()
	}
	r.credits[key] = fixedmath.Add(cur, amount)
}

// Credited returns the accumulated fee-receiver share for (market, token).
func (r *MemFeeReceiver) Credited(market, token string) *big.Int {
	if v, ok := r.credits[market+"/"+token]; ok {
		return fixedmath.Copy(v)
	}
	return fixedmath.Zero()
}
