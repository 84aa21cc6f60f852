package market

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCollateral rejects operations that would push an
	// account's used borrow value above its capacity.
	ErrInsufficientCollateral = errors.New("Not enough collateral for this operation")
	// ErrBelowThreshold rejects operations that would push an account's
	// collateralization under the liquidation threshold.
	ErrBelowThreshold = errors.New("Operation would drop the position below the liquidation threshold")
)

// Valuation aggregates an account's positions across this market and every
// reporting peer into value terms.
type Valuation struct {
	// Collateral is the total collateral value.
	Collateral decimal.Decimal
	// Borrowed is the total used borrow value.
	Borrowed decimal.Decimal
}

// Value prices a raw token quantity: qty * price / 10^denomination.
func Value(qty *big.Int, price decimal.Decimal, denomination uint64) decimal.Decimal {
	if qty == nil || qty.Sign() == 0 {
		return decimal.Zero
	}
	scale := decimal.New(1, int32(denomination))
	return decimal.NewFromBigInt(qty, 0).Mul(price).Div(scale)
}

// OwnPosition returns the account's collateral quantity (shares converted to
// underlying at the current exchange rate) and borrow balance in this market,
// without mutating the ledger.
func (l *Ledger) OwnPosition(addr string, params Params, now int64) (capacity, borrowed *big.Int) {
	capacity = l.UnderlyingForShares(l.Balance(addr))
	borrowed = l.BorrowBalance(addr, params, now)
	return capacity, borrowed
}

// Valuate combines the account's own position with every peer's reported one,
// pricing each leg with the supplied ticker prices. Peers with zero reported
// exposure contribute nothing. A missing price for a leg with exposure is an
// error.
func Valuate(ownCapacity, ownBorrowed *big.Int, params Params, peers map[string]PeerPosition, prices map[string]decimal.Decimal) (Valuation, error) {
	v := Valuation{Collateral: decimal.Zero, Borrowed: decimal.Zero}

	ownPrice, ok := prices[params.CollateralTicker]
	if !ok {
		return v, fmt.Errorf("no price available for %s", params.CollateralTicker)
	}
	v.Collateral = v.Collateral.Add(Value(ownCapacity, ownPrice, params.CollateralDenomination))
	v.Borrowed = v.Borrowed.Add(Value(ownBorrowed, ownPrice, params.CollateralDenomination))

	for peer, pos := range peers {
		if pos.Zero() {
			continue
		}
		price, ok := prices[pos.Ticker]
		if !ok {
			return v, fmt.Errorf("no price available for %s (peer %s)", pos.Ticker, peer)
		}
		v.Collateral = v.Collateral.Add(Value(pos.Capacity, price, pos.Denomination))
		v.Borrowed = v.Borrowed.Add(Value(pos.BorrowBalance, price, pos.Denomination))
	}
	return v, nil
}

// Capacity returns the remaining borrowing capacity:
// collateralValue / collateralFactor - usedBorrowValue.
func (v Valuation) Capacity(collateralFactor decimal.Decimal) decimal.Decimal {
	if collateralFactor.Sign() <= 0 {
		return decimal.Zero
	}
	return v.Collateral.Div(collateralFactor).Sub(v.Borrowed)
}

// CheckBorrow verifies that borrowing addValue more stays within capacity.
func (v Valuation) CheckBorrow(params Params, addValue decimal.Decimal) error {
	if addValue.GreaterThan(v.Capacity(params.CollateralFactor)) {
		return ErrInsufficientCollateral
	}
	return nil
}

// CheckWithdraw verifies that removing removeValue of collateral keeps the
// account's used borrow value within capacity and its collateralization above
// the liquidation threshold.
func (v Valuation) CheckWithdraw(params Params, removeValue decimal.Decimal) error {
	remaining := Valuation{
		Collateral: v.Collateral.Sub(removeValue),
		Borrowed:   v.Borrowed,
	}
	if remaining.Borrowed.Sign() == 0 {
		if remaining.Collateral.Sign() < 0 {
			return ErrInsufficientCollateral
		}
		return nil
	}
	if remaining.Capacity(params.CollateralFactor).Sign() < 0 {
		return ErrInsufficientCollateral
	}
	if remaining.Collateral.Div(remaining.Borrowed).LessThan(params.LiquidationThreshold) {
		return ErrBelowThreshold
	}
	return nil
}
