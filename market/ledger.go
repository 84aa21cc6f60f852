package market

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidQuantity rejects non-positive or malformed quantities.
	ErrInvalidQuantity = errors.New("Invalid incoming transfer quantity")
	// ErrInsufficientCash rejects borrows and redeems that would draw the
	// pool's cash below zero.
	ErrInsufficientCash = errors.New("Not enough tokens available to be lent")
	// ErrInsufficientShares rejects operations exceeding the account's
	// share balance.
	ErrInsufficientShares = errors.New("Not enough tokens to complete this operation")
	// ErrNoLoan rejects repayments and liquidations for accounts with no
	// outstanding principal.
	ErrNoLoan = errors.New("No active loan for this address")
	// ErrLoanExceeded rejects liquidations repaying more than the current
	// principal.
	ErrLoanExceeded = errors.New("Transferred quantity is higher than the loan")
	// ErrSupplyExceeded rejects position liquidations requesting more
	// shares than the whole market holds.
	ErrSupplyExceeded = errors.New("Quantity is higher than the total supply")
	// ErrNoCollateral rejects position liquidations against accounts with
	// no shares in this market.
	ErrNoCollateral = errors.New("Target does not hold any collateral here")
	// ErrShortfall rejects position liquidations the target's balance
	// cannot cover.
	ErrShortfall = errors.New("Target balance does not cover the requested quantity")
	// ErrCooldown rejects risky operations while the account's cooldown is
	// still running.
	ErrCooldown = errors.New("Account is in cooldown")
)

// Ledger owns the market's global accounting state and every per-account
// position. It is deliberately a plain struct handed to the saga coordinator,
// never a package global, so tests can run isolated instances. All mutation
// happens on the single processing goroutine; the ledger itself carries no
// locking.
type Ledger struct {
	// Cash is the underlying asset held by the pool.
	Cash *big.Int `json:"cash"`
	// TotalBorrows is the sum of all outstanding principals.
	TotalBorrows *big.Int `json:"totalBorrows"`
	// TotalReserves is the interest share withheld from the pool.
	TotalReserves *big.Int `json:"totalReserves"`
	// TotalSupply is the share token supply.
	TotalSupply *big.Int `json:"totalSupply"`
	// BorrowIndex is the ray-precision cumulative borrow index.
	BorrowIndex *big.Int `json:"borrowIndex"`
	// LastAccrual is the unix-ms timestamp of the last interest touch.
	LastAccrual int64 `json:"lastAccrual"`
	// Accounts maps wallet addresses to positions.
	Accounts map[string]*Account `json:"accounts"`
}

// NewLedger returns an empty ledger with the borrow index bootstrapped to one.
func NewLedger() *Ledger {
	return &Ledger{
		Cash:          big.NewInt(0),
		TotalBorrows:  big.NewInt(0),
		TotalReserves: big.NewInt(0),
		TotalSupply:   big.NewInt(0),
		BorrowIndex:   clone(ray),
		Accounts:      make(map[string]*Account),
	}
}

// Account returns the position for addr, creating it on first use.
func (l *Ledger) Account(addr string) *Account {
	if acc, ok := l.Accounts[addr]; ok {
		return acc
	}
	acc := &Account{
		Address:     addr,
		Shares:      big.NewInt(0),
		Principal:   big.NewInt(0),
		BorrowIndex: clone(l.BorrowIndex),
	}
	l.Accounts[addr] = acc
	return acc
}

// Balance returns the share balance for addr without creating the account.
func (l *Ledger) Balance(addr string) *big.Int {
	if acc, ok := l.Accounts[addr]; ok {
		return clone(acc.Shares)
	}
	return big.NewInt(0)
}

// Mint deposits qty underlying into the pool and credits addr with shares at
// the current exchange rate. Returns the minted share quantity.
func (l *Ledger) Mint(addr string, qty *big.Int, params Params, now int64) (*big.Int, error) {
	if qty == nil || qty.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	l.Accrue(params, now)
	shares := l.SharesForDeposit(qty)
	acc := l.Account(addr)
	acc.Shares.Add(acc.Shares, shares)
	l.Cash.Add(l.Cash, qty)
	l.TotalSupply.Add(l.TotalSupply, shares)
	l.stampCooldown(acc, params, now)
	return shares, nil
}

// Redeem burns shares from addr and releases the corresponding underlying
// quantity. Fails when the account's balance or the pool's cash cannot cover
// the redemption.
func (l *Ledger) Redeem(addr string, shares *big.Int, params Params, now int64) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	l.Accrue(params, now)
	acc, ok := l.Accounts[addr]
	if !ok || acc.Shares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	qty := l.UnderlyingForShares(shares)
	if l.Cash.Cmp(qty) < 0 {
		return nil, ErrInsufficientCash
	}
	acc.Shares.Sub(acc.Shares, shares)
	l.Cash.Sub(l.Cash, qty)
	l.TotalSupply.Sub(l.TotalSupply, shares)
	l.stampCooldown(acc, params, now)
	return qty, nil
}

// Borrow lends qty underlying to addr, increasing its principal and the
// market's total borrows.
func (l *Ledger) Borrow(addr string, qty *big.Int, params Params, now int64) error {
	if qty == nil || qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	l.Accrue(params, now)
	if l.Cash.Cmp(qty) < 0 {
		return ErrInsufficientCash
	}
	acc := l.Account(addr)
	l.syncAccount(acc, now)
	acc.Principal.Add(acc.Principal, qty)
	l.TotalBorrows.Add(l.TotalBorrows, qty)
	l.Cash.Sub(l.Cash, qty)
	l.stampCooldown(acc, params, now)
	return nil
}

// Repay pays down the target's loan with qty underlying. The repaid amount is
// capped at the outstanding balance; any remainder is returned as a refund
// owed to the payer.
func (l *Ledger) Repay(target string, qty *big.Int, params Params, now int64) (repaid, refund *big.Int, err error) {
	if qty == nil || qty.Sign() <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	l.Accrue(params, now)
	acc, ok := l.Accounts[target]
	if !ok {
		return nil, nil, ErrNoLoan
	}
	l.syncAccount(acc, now)
	if acc.Principal.Sign() == 0 {
		return nil, nil, ErrNoLoan
	}
	repaid = clone(minBig(qty, acc.Principal))
	refund = new(big.Int).Sub(qty, repaid)
	acc.Principal.Sub(acc.Principal, repaid)
	l.TotalBorrows.Sub(l.TotalBorrows, repaid)
	l.Cash.Add(l.Cash, repaid)
	l.stampCooldown(acc, params, now)
	return repaid, refund, nil
}

// TransferShares moves qty shares between two accounts.
func (l *Ledger) TransferShares(from, to string, qty *big.Int, params Params, now int64) error {
	if qty == nil || qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	l.Accrue(params, now)
	src, ok := l.Accounts[from]
	if !ok || src.Shares.Cmp(qty) < 0 {
		return ErrInsufficientShares
	}
	dst := l.Account(to)
	src.Shares.Sub(src.Shares, qty)
	dst.Shares.Add(dst.Shares, qty)
	l.stampCooldown(src, params, now)
	return nil
}

// ValidateLoanRepayment checks a loan liquidation's transferred quantity
// against the target's outstanding loan without mutating anything. The
// liquidation commit happens later, once the reward market confirms the
// seizure.
func (l *Ledger) ValidateLoanRepayment(target string, qty *big.Int, params Params, now int64) error {
	if qty == nil || qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	balance := l.BorrowBalance(target, params, now)
	if balance.Sign() == 0 {
		return ErrNoLoan
	}
	if qty.Cmp(balance) > 0 {
		return ErrLoanExceeded
	}
	return nil
}

// RepayLiquidated commits the debt side of a loan liquidation: the
// transferred quantity pays down the target's principal, partial repayments
// allowed. Never draws the principal below zero.
func (l *Ledger) RepayLiquidated(target string, qty *big.Int, params Params, now int64) (*big.Int, error) {
	if qty == nil || qty.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	l.Accrue(params, now)
	acc, ok := l.Accounts[target]
	if !ok {
		return nil, ErrNoLoan
	}
	l.syncAccount(acc, now)
	if acc.Principal.Sign() == 0 {
		return nil, ErrNoLoan
	}
	repaid := clone(minBig(qty, acc.Principal))
	acc.Principal.Sub(acc.Principal, repaid)
	l.TotalBorrows.Sub(l.TotalBorrows, repaid)
	l.Cash.Add(l.Cash, repaid)
	return repaid, nil
}

// Seize executes the collateral side of a liquidation: it moves qty shares
// from the target to the liquidator. The caller market's checks already
// happened; this validates against local balances only. A partial seizure
// leaves the remainder of the target's position untouched.
func (l *Ledger) Seize(target, liquidator string, qty *big.Int, params Params, now int64) (*big.Int, error) {
	if qty == nil || qty.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	// Cheap global bound first: no account lookup.
	if qty.Cmp(l.TotalSupply) > 0 {
		return nil, ErrSupplyExceeded
	}
	l.Accrue(params, now)
	acc, ok := l.Accounts[target]
	if !ok || acc.Shares.Sign() == 0 {
		return nil, ErrNoCollateral
	}
	seize := minBig(qty, acc.Shares)
	if seize.Cmp(qty) < 0 {
		return nil, ErrShortfall
	}
	dst := l.Account(liquidator)
	acc.Shares.Sub(acc.Shares, seize)
	dst.Shares.Add(dst.Shares, seize)
	return clone(seize), nil
}

// InCooldown reports whether the account may not start a new risky operation
// at now.
func (l *Ledger) InCooldown(addr string, now int64) bool {
	acc, ok := l.Accounts[addr]
	return ok && acc.CooldownExpiry > now
}

func (l *Ledger) stampCooldown(acc *Account, params Params, now int64) {
	if params.CooldownPeriod > 0 {
		acc.CooldownExpiry = now + params.CooldownPeriod
	}
}
