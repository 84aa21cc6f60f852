package market

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Utilization returns totalBorrows / (cash + totalBorrows), the ratio driving
// the borrow rate. An empty pool has zero utilization.
func (l *Ledger) Utilization() decimal.Decimal {
	total := new(big.Int).Add(l.Cash, l.TotalBorrows)
	if total.Sign() == 0 {
		return decimal.Zero
	}
	borrows := decimal.NewFromBigInt(l.TotalBorrows, 0)
	return borrows.Div(decimal.NewFromBigInt(total, 0))
}

// BorrowRate returns the current annual borrow rate:
// baseRate + utilization * initRate.
func (l *Ledger) BorrowRate(params Params) decimal.Decimal {
	return params.BaseRate.Add(l.Utilization().Mul(params.InitRate))
}

// Accrue advances the borrow index to now and splits the interest accrued
// since the last touch between reserves (reserveFactor percent) and cash.
// There is no periodic tick; every mutating operation calls Accrue first.
func (l *Ledger) Accrue(params Params, now int64) {
	if now <= l.LastAccrual {
		return
	}
	elapsed := now - l.LastAccrual
	l.LastAccrual = now
	if l.TotalBorrows.Sign() == 0 {
		return
	}
	rate := l.BorrowRate(params)
	if rate.Sign() <= 0 {
		return
	}
	// factor = 1 + rate * elapsed / msPerYear, carried in ray precision.
	growth := rate.
		Mul(decimal.NewFromInt(elapsed)).
		Div(decimal.NewFromBigInt(msPerYear, 0)).
		Mul(decimal.NewFromBigInt(ray, 0))
	factor := new(big.Int).Add(ray, growth.BigInt())

	interest := mulDiv(l.TotalBorrows, new(big.Int).Sub(factor, ray), ray)
	if interest.Sign() > 0 {
		toReserves := mulDiv(interest, new(big.Int).SetUint64(params.ReserveFactor), oneHundred)
		l.TotalReserves.Add(l.TotalReserves, toReserves)
		l.Cash.Add(l.Cash, new(big.Int).Sub(interest, toReserves))
	}
	l.BorrowIndex = rayMul(l.BorrowIndex, factor)
}

// pool returns cash + totalBorrows - totalReserves, the underlying value
// backing the share supply.
func (l *Ledger) pool() *big.Int {
	out := new(big.Int).Add(l.Cash, l.TotalBorrows)
	return out.Sub(out, l.TotalReserves)
}

// Pool returns the underlying value backing the share supply.
func (l *Ledger) Pool() *big.Int { return l.pool() }

// SharesForDeposit converts a deposited asset quantity into share tokens at
// the current exchange rate, flooring. The rate bootstraps to 1 when no
// shares exist yet.
func (l *Ledger) SharesForDeposit(qty *big.Int) *big.Int {
	if l.TotalSupply.Sign() == 0 {
		return clone(qty)
	}
	return mulDiv(qty, l.TotalSupply, l.pool())
}

// UnderlyingForShares converts a share quantity into the underlying asset at
// the current exchange rate, flooring.
func (l *Ledger) UnderlyingForShares(shares *big.Int) *big.Int {
	if l.TotalSupply.Sign() == 0 {
		return clone(shares)
	}
	return mulDiv(shares, l.pool(), l.TotalSupply)
}

// SharesForUnderlying converts an underlying asset quantity into the share
// quantity it currently corresponds to, flooring.
func (l *Ledger) SharesForUnderlying(qty *big.Int) *big.Int {
	return l.SharesForDeposit(qty)
}

// syncAccount folds the interest owed since the account's last touch into its
// principal and refreshes the index snapshot. Total borrows grows by the same
// amount so it keeps tracking the sum of principals.
func (l *Ledger) syncAccount(acc *Account, now int64) {
	if acc.Principal.Sign() > 0 && acc.BorrowIndex.Sign() > 0 && l.BorrowIndex.Cmp(acc.BorrowIndex) > 0 {
		owed := mulDiv(acc.Principal, new(big.Int).Sub(l.BorrowIndex, acc.BorrowIndex), acc.BorrowIndex)
		if owed.Sign() > 0 {
			acc.Principal.Add(acc.Principal, owed)
			l.TotalBorrows.Add(l.TotalBorrows, owed)
		}
	}
	acc.BorrowIndex = clone(l.BorrowIndex)
	acc.UpdatedAt = now
}

// BorrowBalance returns the principal plus interest owed by the account at
// now, without mutating any state.
func (l *Ledger) BorrowBalance(addr string, params Params, now int64) *big.Int {
	acc, ok := l.Accounts[addr]
	if !ok || acc.Principal.Sign() == 0 {
		return big.NewInt(0)
	}
	// Project the index forward without committing the accrual.
	projected := clone(l.BorrowIndex)
	if now > l.LastAccrual {
		rate := l.BorrowRate(params)
		if rate.Sign() > 0 {
			growth := rate.
				Mul(decimal.NewFromInt(now - l.LastAccrual)).
				Div(decimal.NewFromBigInt(msPerYear, 0)).
				Mul(decimal.NewFromBigInt(ray, 0))
			projected = rayMul(projected, new(big.Int).Add(ray, growth.BigInt()))
		}
	}
	if acc.BorrowIndex.Sign() == 0 || projected.Cmp(acc.BorrowIndex) <= 0 {
		return clone(acc.Principal)
	}
	owed := mulDiv(acc.Principal, new(big.Int).Sub(projected, acc.BorrowIndex), acc.BorrowIndex)
	return new(big.Int).Add(acc.Principal, owed)
}
