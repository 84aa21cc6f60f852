package core

import (
	"encoding/json"
	"strconv"

	"lomarket/protocol"
)

// handleInfo reports the market's configuration and aggregates.
func (n *Node) handleInfo(msg protocol.Message) []protocol.Message {
	p := n.params
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: "Name", Value: p.Name},
		protocol.Tag{Name: "Ticker", Value: p.Ticker},
		protocol.Tag{Name: "Logo", Value: p.Logo},
		protocol.Tag{Name: "Denomination", Value: strconv.FormatUint(p.Denomination, 10)},
		protocol.Tag{Name: "Collateral-Id", Value: p.CollateralID},
		protocol.Tag{Name: "Collateral-Ticker", Value: p.CollateralTicker},
		protocol.Tag{Name: "Collateral-Denomination", Value: strconv.FormatUint(p.CollateralDenomination, 10)},
		protocol.Tag{Name: "Collateral-Factor", Value: p.CollateralFactor.String()},
		protocol.Tag{Name: "Liquidation-Threshold", Value: p.LiquidationThreshold.String()},
		protocol.Tag{Name: "Value-Limit", Value: p.ValueLimit.String()},
		protocol.Tag{Name: "Oracle", Value: p.Oracle},
		protocol.Tag{Name: "Oracle-Delay-Tolerance", Value: strconv.FormatInt(p.OracleDelayTolerance, 10)},
		protocol.Tag{Name: "Cooldown", Value: strconv.FormatInt(p.CooldownPeriod, 10)},
		protocol.Tag{Name: "Cash", Value: n.ledger.Cash.String()},
		protocol.Tag{Name: "Total-Borrows", Value: n.ledger.TotalBorrows.String()},
		protocol.Tag{Name: "Total-Reserves", Value: n.ledger.TotalReserves.String()},
		protocol.Tag{Name: "Total-Supply", Value: n.ledger.TotalSupply.String()},
	)}
}

// handleTotalSupply reports the share token supply.
func (n *Node) handleTotalSupply(msg protocol.Message) []protocol.Message {
	supply := n.ledger.TotalSupply.String()
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: "Total-Supply", Value: supply},
		protocol.Tag{Name: "Ticker", Value: n.params.Ticker},
	).WithData(supply)}
}

// handleBalance reports one wallet's share balance. The Recipient tag selects
// another wallet; by default the caller queries itself.
func (n *Node) handleBalance(msg protocol.Message) []protocol.Message {
	target := msg.From
	if recipient := msg.Tag(protocol.TagRecipient); recipient != "" {
		target = recipient
	}
	balance := n.ledger.Balance(target).String()
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: "Balance", Value: balance},
		protocol.Tag{Name: "Ticker", Value: n.params.Ticker},
		protocol.Tag{Name: "Account", Value: target},
	).WithData(balance)}
}

// handleBalances reports every wallet's share balance as a JSON map.
func (n *Node) handleBalances(msg protocol.Message) []protocol.Message {
	balances := make(map[string]string, len(n.ledger.Accounts))
	for addr, acc := range n.ledger.Accounts {
		balances[addr] = acc.Shares.String()
	}
	payload, err := json.Marshal(balances)
	if err != nil {
		return n.errorReply(msg, "could not encode balances")
	}
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: "Ticker", Value: n.params.Ticker},
	).WithData(string(payload))}
}

// handlePosition serves an account's raw exposure in this market: collateral
// capacity (shares converted to underlying) and borrow balance, in this
// market's asset units. Peer markets price the reply with this market's
// ticker and denomination; the X-Reference echo lets their saga resume.
func (n *Node) handlePosition(msg protocol.Message) []protocol.Message {
	account := msg.Tag(protocol.TagRecipient)
	if account == "" {
		account = msg.From
	}
	capacity, borrowed := n.ledger.OwnPosition(account, n.params, msg.Timestamp)
	reply := n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Collateralization-Response"},
		protocol.Tag{Name: "Capacity", Value: capacity.String()},
		protocol.Tag{Name: "Borrow-Balance", Value: borrowed.String()},
		protocol.Tag{Name: "Ticker", Value: n.params.CollateralTicker},
		protocol.Tag{Name: "Denomination", Value: strconv.FormatUint(n.params.CollateralDenomination, 10)},
		protocol.Tag{Name: "Account", Value: account},
	)
	if ref := msg.Reference(); ref != "" {
		reply = reply.WithTag(protocol.TagXRef, ref)
	}
	return []protocol.Message{reply}
}

// handleBorrowBalance reports an account's outstanding loan including accrued
// interest.
func (n *Node) handleBorrowBalance(msg protocol.Message) []protocol.Message {
	account := msg.Tag(protocol.TagRecipient)
	if account == "" {
		account = msg.From
	}
	balance := n.ledger.BorrowBalance(account, n.params, msg.Timestamp).String()
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: "Borrow-Balance", Value: balance},
		protocol.Tag{Name: "Ticker", Value: n.params.Ticker},
		protocol.Tag{Name: "Account", Value: account},
	).WithData(balance)}
}
