package core

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"lomarket/market"
	"lomarket/protocol"
)

// commit is the single point of ledger mutation: every saga funnels through
// here exactly once after all of its data arrived. The saga's creation
// timestamp is the operation's effective time.
func (n *Node) commit(s *Saga) []protocol.Message {
	var out []protocol.Message
	var err error

	switch s.Kind {
	case SagaMint:
		out, err = n.commitMint(s)
	case SagaRedeem:
		out, err = n.commitRedeem(s)
	case SagaBorrow:
		out, err = n.commitBorrow(s)
	case SagaRepay:
		out, err = n.commitRepay(s)
	case SagaTransfer:
		out, err = n.commitTransfer(s)
	default:
		err = fmt.Errorf("cannot commit saga kind %q", s.Kind)
	}
	if err != nil {
		return n.fail(s, err.Error())
	}

	out = append(out, n.release(s)...)
	n.drop(s, true)
	n.log.Info("saga committed",
		"kind", string(s.Kind), "account", s.Account, "reference", s.Reference)
	return out
}

// sagaPrices collects the fresh cached prices for the saga's ticker set.
func (n *Node) sagaPrices(s *Saga) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(s.Tickers))
	for _, ticker := range s.Tickers {
		price, ok := n.prices.FreshPrice(ticker, s.notBefore())
		if !ok {
			return nil, fmt.Errorf("no price available for %s", ticker)
		}
		prices[ticker] = price.Value
	}
	return prices, nil
}

// collateralCheck values the account across this market and every reporting
// peer and verifies the requested change.
func (n *Node) collateralCheck(s *Saga, borrowDelta, withdrawDelta decimal.Decimal) error {
	prices, err := n.sagaPrices(s)
	if err != nil {
		return err
	}
	ownCapacity, ownBorrowed := n.ledger.OwnPosition(s.Account, n.params, s.CreatedAt)
	valuation, err := market.Valuate(ownCapacity, ownBorrowed, n.params, s.Peers, prices)
	if err != nil {
		return err
	}
	if borrowDelta.Sign() > 0 {
		if err := valuation.CheckBorrow(n.params, borrowDelta); err != nil {
			return err
		}
	}
	if withdrawDelta.Sign() > 0 {
		if err := valuation.CheckWithdraw(n.params, withdrawDelta); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) commitMint(s *Saga) ([]protocol.Message, error) {
	if n.params.ValueLimit != nil && n.params.ValueLimit.Sign() > 0 {
		prices, err := n.sagaPrices(s)
		if err != nil {
			return nil, err
		}
		price := prices[n.params.CollateralTicker]
		pooled := new(big.Int).Add(n.ledger.Pool(), s.Quantity)
		value := market.Value(pooled, price, n.params.CollateralDenomination)
		if value.GreaterThan(decimal.NewFromBigInt(n.params.ValueLimit, 0)) {
			return nil, fmt.Errorf("Market value limit exceeded")
		}
	}
	shares, err := n.ledger.Mint(s.Account, s.Quantity, n.params, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return []protocol.Message{n.reply(s.ReplyTo,
		protocol.Tag{Name: protocol.TagAction, Value: "Mint-Confirmation"},
		protocol.Tag{Name: "Mint-Quantity", Value: shares.String()},
		protocol.Tag{Name: "Supplied-Quantity", Value: s.Quantity.String()},
	)}, nil
}

func (n *Node) commitRedeem(s *Saga) ([]protocol.Message, error) {
	n.ledger.Accrue(n.params, s.CreatedAt)
	underlying := n.ledger.UnderlyingForShares(s.Quantity)

	prices, err := n.sagaPrices(s)
	if err != nil {
		return nil, err
	}
	ownPrice := prices[n.params.CollateralTicker]
	withdrawValue := market.Value(underlying, ownPrice, n.params.CollateralDenomination)
	if n.params.ValueLimit != nil && n.params.ValueLimit.Sign() > 0 &&
		withdrawValue.GreaterThan(decimal.NewFromBigInt(n.params.ValueLimit, 0)) {
		return nil, fmt.Errorf("Market value limit exceeded")
	}
	if err := n.collateralCheck(s, decimal.Zero, withdrawValue); err != nil {
		return nil, err
	}

	qty, err := n.ledger.Redeem(s.Account, s.Quantity, n.params, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return []protocol.Message{
		n.reply(s.ReplyTo,
			protocol.Tag{Name: protocol.TagAction, Value: "Redeem-Confirmation"},
			protocol.Tag{Name: "Redeemed-Quantity", Value: qty.String()},
			protocol.Tag{Name: "Burned-Quantity", Value: s.Quantity.String()},
		),
		n.payout(s.Account, qty),
	}, nil
}

func (n *Node) commitBorrow(s *Saga) ([]protocol.Message, error) {
	prices, err := n.sagaPrices(s)
	if err != nil {
		return nil, err
	}
	borrowValue := market.Value(s.Quantity, prices[n.params.CollateralTicker], n.params.CollateralDenomination)
	if err := n.collateralCheck(s, borrowValue, decimal.Zero); err != nil {
		return nil, err
	}
	if err := n.ledger.Borrow(s.Account, s.Quantity, n.params, s.CreatedAt); err != nil {
		return nil, err
	}
	return []protocol.Message{
		n.reply(s.ReplyTo,
			protocol.Tag{Name: protocol.TagAction, Value: "Borrow-Confirmation"},
			protocol.Tag{Name: "Borrowed-Quantity", Value: s.Quantity.String()},
		),
		n.payout(s.Account, s.Quantity),
	}, nil
}

func (n *Node) commitRepay(s *Saga) ([]protocol.Message, error) {
	repaid, refund, err := n.ledger.Repay(s.OnBehalf, s.Quantity, n.params, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	out := []protocol.Message{n.reply(s.ReplyTo,
		protocol.Tag{Name: protocol.TagAction, Value: "Repay-Confirmation"},
		protocol.Tag{Name: "Repaid-Quantity", Value: repaid.String()},
		protocol.Tag{Name: "Target", Value: s.OnBehalf},
	)}
	if refund.Sign() > 0 {
		out = append(out, n.refund(s.EscrowTo, refund.String(), "Loan fully repaid"))
	}
	return out, nil
}

func (n *Node) commitTransfer(s *Saga) ([]protocol.Message, error) {
	n.ledger.Accrue(n.params, s.CreatedAt)
	underlying := n.ledger.UnderlyingForShares(s.Quantity)

	prices, err := n.sagaPrices(s)
	if err != nil {
		return nil, err
	}
	withdrawValue := market.Value(underlying, prices[n.params.CollateralTicker], n.params.CollateralDenomination)
	if err := n.collateralCheck(s, decimal.Zero, withdrawValue); err != nil {
		return nil, err
	}
	if err := n.ledger.TransferShares(s.Account, s.Recipient, s.Quantity, n.params, s.CreatedAt); err != nil {
		return nil, err
	}

	debit := n.reply(s.Account,
		protocol.Tag{Name: protocol.TagAction, Value: "Debit-Notice"},
		protocol.Tag{Name: protocol.TagRecipient, Value: s.Recipient},
		protocol.Tag{Name: protocol.TagQuantity, Value: s.Quantity.String()},
	).WithTags(s.Forward)
	credit := n.reply(s.Recipient,
		protocol.Tag{Name: protocol.TagAction, Value: "Credit-Notice"},
		protocol.Tag{Name: protocol.TagSender, Value: s.Account},
		protocol.Tag{Name: protocol.TagQuantity, Value: s.Quantity.String()},
	).WithTags(s.Forward)
	return []protocol.Message{debit, credit}, nil
}

// payout transfers pool assets out through the collateral token process.
func (n *Node) payout(recipient string, qty *big.Int) protocol.Message {
	return protocol.New(n.params.CollateralID,
		protocol.Tag{Name: protocol.TagAction, Value: "Transfer"},
		protocol.Tag{Name: protocol.TagRecipient, Value: recipient},
		protocol.Tag{Name: protocol.TagQuantity, Value: qty.String()},
	)
}
