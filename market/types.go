package market

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Account tracks a single wallet's position in the market. Share balances and
// borrow principal are expressed in the token's smallest unit. Accounts are
// created implicitly on first credit and are never deleted; zero balances
// persist.
type Account struct {
	// Address is the wallet identifier.
	Address string `json:"address"`
	// Shares is the account's share token balance.
	Shares *big.Int `json:"shares"`
	// Principal is the outstanding borrow principal including interest
	// folded in on each touch.
	Principal *big.Int `json:"principal"`
	// BorrowIndex is the ray-precision borrow index snapshot taken when the
	// principal was last touched. It is non-decreasing.
	BorrowIndex *big.Int `json:"borrowIndex"`
	// UpdatedAt is the unix-ms timestamp of the last principal touch.
	UpdatedAt int64 `json:"updatedAt"`
	// CooldownExpiry is the unix-ms timestamp before which the account may
	// not start another risky operation. Zero means no cooldown is active.
	CooldownExpiry int64 `json:"cooldownExpiry"`
}

// Params groups the market's configuration: token identity, risk factors and
// the interest model. The controller mutates factors and limits at runtime.
type Params struct {
	// Name, Ticker and Logo identify the share token.
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
	Logo   string `json:"logo"`
	// Denomination is the share token's decimal denomination.
	Denomination uint64 `json:"denomination"`
	// CollateralID is the process id of the pooled collateral asset.
	CollateralID string `json:"collateralId"`
	// CollateralTicker is the oracle ticker of the collateral asset.
	CollateralTicker string `json:"collateralTicker"`
	// CollateralDenomination is the collateral asset's decimal denomination.
	CollateralDenomination uint64 `json:"collateralDenomination"`
	// CollateralFactor is the ratio dividing collateral value into borrow
	// capacity. Must be positive.
	CollateralFactor decimal.Decimal `json:"collateralFactor"`
	// LiquidationThreshold is the collateralization ratio below which a
	// position becomes liquidatable. Must be positive.
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
	// ValueLimit caps the pool's total collateral value. Zero disables the
	// limit.
	ValueLimit *big.Int `json:"valueLimit"`
	// Oracle is the price oracle process id.
	Oracle string `json:"oracle"`
	// OracleDelayTolerance is the maximum accepted price age in
	// milliseconds relative to an operation's timestamp.
	OracleDelayTolerance int64 `json:"oracleDelayTolerance"`
	// CooldownPeriod is the risky-operation cooldown in milliseconds. Zero
	// disables the cooldown.
	CooldownPeriod int64 `json:"cooldownPeriod"`
	// ReserveFactor is the percentage of accrued interest routed to
	// reserves, in [0, 100].
	ReserveFactor uint64 `json:"reserveFactor"`
	// BaseRate is the annual borrow rate at zero utilization.
	BaseRate decimal.Decimal `json:"baseRate"`
	// InitRate is the annual borrow rate increase per unit of utilization.
	InitRate decimal.Decimal `json:"initRate"`
}

// PeerMarket describes a trusted sibling market ("friend") whose reported
// positions count toward an account's collateral.
type PeerMarket struct {
	// ID is the peer process id.
	ID string `json:"id"`
	// Token is the peer's collateral asset process id.
	Token string `json:"token"`
	// Ticker is the peer asset's oracle ticker.
	Ticker string `json:"ticker"`
	// Denomination is the peer asset's decimal denomination.
	Denomination uint64 `json:"denomination"`
}

// PeerPosition is a peer market's reported exposure for one account: raw
// quantities in the peer's own asset units, valued by the requester with the
// peer's price and denomination.
type PeerPosition struct {
	// Capacity is the account's collateral quantity in the peer market.
	Capacity *big.Int `json:"capacity"`
	// BorrowBalance is the account's borrowed quantity in the peer market.
	BorrowBalance *big.Int `json:"borrowBalance"`
	// Ticker and Denomination describe the peer asset's pricing unit.
	Ticker       string `json:"ticker"`
	Denomination uint64 `json:"denomination"`
	// ObservedAt is the unix-ms timestamp the report was received.
	ObservedAt int64 `json:"observedAt"`
}

// Zero reports whether the peer has no exposure at all for the account.
func (p PeerPosition) Zero() bool {
	return (p.Capacity == nil || p.Capacity.Sign() == 0) &&
		(p.BorrowBalance == nil || p.BorrowBalance.Sign() == 0)
}
