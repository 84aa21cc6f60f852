package market

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func testParams() Params {
	return Params{
		Name:                   "Points Market",
		Ticker:                 "oPNT",
		Denomination:           12,
		CollateralID:           "col-process-0000000000000000000000000000000",
		CollateralTicker:       "PNT",
		CollateralDenomination: 12,
		CollateralFactor:       decimal.RequireFromString("2"),
		LiquidationThreshold:   decimal.RequireFromString("1.1"),
		ValueLimit:             big.NewInt(0),
		Oracle:                 "oracle-process-000000000000000000000000000",
		OracleDelayTolerance:   3_600_000,
		ReserveFactor:          10,
		BaseRate:               decimal.RequireFromString("0.02"),
		InitRate:               decimal.RequireFromString("0.1"),
	}
}

func mustQty(t *testing.T, raw string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		t.Fatalf("bad quantity literal %q", raw)
	}
	return v
}

func TestMintBootstrapsOneToOne(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	qty := mustQty(t, "1000000000000000")
	shares, err := ledger.Mint("alice", qty, params, 1_000)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if shares.Cmp(qty) != 0 {
		t.Fatalf("bootstrap mint should be 1:1: got %s want %s", shares, qty)
	}
	if ledger.Cash.Cmp(qty) != 0 {
		t.Fatalf("unexpected cash: %s", ledger.Cash)
	}
	if ledger.TotalSupply.Cmp(qty) != 0 {
		t.Fatalf("unexpected supply: %s", ledger.TotalSupply)
	}
	if ledger.Balance("alice").Cmp(qty) != 0 {
		t.Fatalf("unexpected balance: %s", ledger.Balance("alice"))
	}
}

func TestMintRejectsNonPositive(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(0), params, 1_000); err != ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := ledger.Mint("alice", big.NewInt(-5), params, 1_000); err != ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestRedeemRoundTrip(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	qty := big.NewInt(500_000)
	if _, err := ledger.Mint("alice", qty, params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	out, err := ledger.Redeem("alice", qty, params, 1_000)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if out.Cmp(qty) != 0 {
		t.Fatalf("round trip should return the deposit: got %s", out)
	}
	if ledger.Cash.Sign() != 0 || ledger.TotalSupply.Sign() != 0 {
		t.Fatalf("ledger not drained: cash=%s supply=%s", ledger.Cash, ledger.TotalSupply)
	}
}

func TestRedeemExceedingBalanceLeavesStateUntouched(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(100), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	before := ledger.Balance("alice")

	if _, err := ledger.Redeem("alice", big.NewInt(101), params, 1_000); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if ledger.Balance("alice").Cmp(before) != 0 {
		t.Fatalf("balance mutated on failed redeem: %s", ledger.Balance("alice"))
	}
	if ledger.Cash.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("cash mutated on failed redeem: %s", ledger.Cash)
	}
}

func TestBorrowMovesCashToPrincipal(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(1_000), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Borrow("bob", big.NewInt(400), params, 1_000); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if ledger.Cash.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected cash: %s", ledger.Cash)
	}
	if ledger.TotalBorrows.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected total borrows: %s", ledger.TotalBorrows)
	}
	if ledger.Account("bob").Principal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected principal: %s", ledger.Account("bob").Principal)
	}
}

func TestBorrowBeyondCashFails(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(1_000), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Borrow("bob", big.NewInt(1_001), params, 1_000); err != ErrInsufficientCash {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if ledger.TotalBorrows.Sign() != 0 {
		t.Fatalf("total borrows mutated on failed borrow: %s", ledger.TotalBorrows)
	}
}

func TestRepayCapsAtOutstandingAndRefundsRest(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(1_000), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Borrow("bob", big.NewInt(300), params, 1_000); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	repaid, refund, err := ledger.Repay("bob", big.NewInt(500), params, 1_000)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected repaid: %s", repaid)
	}
	if refund.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected refund: %s", refund)
	}
	if ledger.Account("bob").Principal.Sign() != 0 {
		t.Fatalf("principal not cleared: %s", ledger.Account("bob").Principal)
	}
	if ledger.TotalBorrows.Sign() != 0 {
		t.Fatalf("total borrows not cleared: %s", ledger.TotalBorrows)
	}
}

func TestRepayWithoutLoanFails(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, _, err := ledger.Repay("bob", big.NewInt(100), params, 1_000); err != ErrNoLoan {
		t.Fatalf("expected ErrNoLoan, got %v", err)
	}
}

func TestTransferShares(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(100), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferShares("alice", "bob", big.NewInt(40), params, 1_000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ledger.Balance("alice").Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sender balance: %s", ledger.Balance("alice"))
	}
	if ledger.Balance("bob").Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", ledger.Balance("bob"))
	}
	if err := ledger.TransferShares("alice", "bob", big.NewInt(61), params, 1_000); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestValidateLoanRepayment(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("alice", big.NewInt(1_000), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Borrow("bob", big.NewInt(200), params, 1_000); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := ledger.ValidateLoanRepayment("bob", big.NewInt(200), params, 1_000); err != nil {
		t.Fatalf("exact repayment should validate: %v", err)
	}
	if err := ledger.ValidateLoanRepayment("bob", big.NewInt(201), params, 1_000); err != ErrLoanExceeded {
		t.Fatalf("expected ErrLoanExceeded, got %v", err)
	}
	if err := ledger.ValidateLoanRepayment("carol", big.NewInt(1), params, 1_000); err != ErrNoLoan {
		t.Fatalf("expected ErrNoLoan, got %v", err)
	}
}

func TestSeizeMovesCollateralToLiquidator(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("bob", big.NewInt(500), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	seized, err := ledger.Seize("bob", "liquidator", big.NewInt(200), params, 1_000)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if seized.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected seized: %s", seized)
	}
	if ledger.Balance("bob").Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("target balance wrong after partial seizure: %s", ledger.Balance("bob"))
	}
	if ledger.Balance("liquidator").Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("liquidator balance wrong: %s", ledger.Balance("liquidator"))
	}
	if ledger.TotalSupply.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("seizure must not change supply: %s", ledger.TotalSupply)
	}
}

func TestSeizeErrors(t *testing.T) {
	ledger := NewLedger()
	params := testParams()

	if _, err := ledger.Mint("bob", big.NewInt(100), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ledger.Seize("bob", "liq", big.NewInt(101), params, 1_000); err != ErrSupplyExceeded {
		t.Fatalf("expected ErrSupplyExceeded, got %v", err)
	}
	if _, err := ledger.Seize("carol", "liq", big.NewInt(50), params, 1_000); err != ErrNoCollateral {
		t.Fatalf("expected ErrNoCollateral, got %v", err)
	}
	if _, err := ledger.Mint("alice", big.NewInt(100), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ledger.Seize("bob", "liq", big.NewInt(150), params, 1_000); err != ErrShortfall {
		t.Fatalf("expected ErrShortfall, got %v", err)
	}
}

func TestCooldownStampedByRiskyOps(t *testing.T) {
	ledger := NewLedger()
	params := testParams()
	params.CooldownPeriod = 60_000

	if _, err := ledger.Mint("alice", big.NewInt(100), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !ledger.InCooldown("alice", 30_000) {
		t.Fatalf("expected alice in cooldown")
	}
	if ledger.InCooldown("alice", 61_001) {
		t.Fatalf("cooldown should have expired")
	}
	if ledger.InCooldown("bob", 1_000) {
		t.Fatalf("unknown account cannot be in cooldown")
	}
}

func TestCooldownDisabledAtZero(t *testing.T) {
	ledger := NewLedger()
	params := testParams()
	params.CooldownPeriod = 0

	if _, err := ledger.Mint("alice", big.NewInt(100), params, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ledger.InCooldown("alice", 1_001) {
		t.Fatalf("cooldown disabled, none expected")
	}
}
