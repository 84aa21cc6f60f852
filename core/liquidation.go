package core

import (
	"lomarket/protocol"
)

// handleLiquidateBorrow starts the debt side of a loan liquidation. The
// escrowed asset arrives as a Credit-Notice relayed by the controller,
// carrying the liquidator, the target loan, the reward market to seize
// collateral from and the controller's own liquidation reference.
func (n *Node) handleLiquidateBorrow(msg protocol.Message, sender, rawQty string) []protocol.Message {
	liquidationRef := msg.Tag("X-Liquidation-Reference")
	liquidator := msg.Tag("X-Liquidator")

	liquidationError := func(reason string, refundTo string) []protocol.Message {
		out := []protocol.Message{n.reply(n.controller,
			protocol.Tag{Name: protocol.TagAction, Value: "Liquidate-Borrow-Error"},
			protocol.Tag{Name: "Liquidation-Reference", Value: liquidationRef},
			protocol.Tag{Name: protocol.TagError, Value: reason},
		)}
		if refundTo != "" {
			out = append(out, n.refund(refundTo, rawQty, reason))
		}
		return out
	}

	if sender != n.controller {
		return liquidationError(errNotRelay, sender)
	}
	qty, err := protocol.ParseQuantity(rawQty)
	if err != nil {
		return liquidationError(errInvalidQuantity, sender)
	}
	target := msg.Tag("X-Liquidation-Target")
	rewardMarket := msg.Tag("X-Reward-Market")
	if !protocol.ValidAddress(liquidator) || !protocol.ValidAddress(target) || !protocol.ValidAddress(rewardMarket) {
		// The liquidator address itself may be the malformed one, so the
		// escrow goes back to the notice's sender.
		return liquidationError(errInvalidAddress, sender)
	}
	rewardQty, err := protocol.ParseQuantity(msg.Tag("X-Reward-Quantity"))
	if err != nil {
		return liquidationError("Invalid reward quantity", liquidator)
	}

	return n.begin(&Saga{
		Reference:      n.newRef(),
		Kind:           SagaLiquidateBorrow,
		Account:        target,
		ReplyTo:        n.controller,
		CreatedAt:      msg.Timestamp,
		Quantity:       qty,
		Escrow:         qty,
		EscrowRaw:      rawQty,
		EscrowTo:       liquidator,
		Liquidator:     liquidator,
		Target:         target,
		RewardMarket:   rewardMarket,
		RewardQuantity: rewardQty,
		LiquidationRef: liquidationRef,
	})
}

// requestSeizure runs once the liquidation saga holds the target's admission
// slot: it re-validates the loan against the live ledger, then asks the
// reward market to seize the reward quantity on the liquidator's behalf.
func (n *Node) requestSeizure(s *Saga) []protocol.Message {
	if err := n.ledger.ValidateLoanRepayment(s.Target, s.Quantity, n.params, s.CreatedAt); err != nil {
		return n.fail(s, err.Error())
	}
	s.Stage = StageAwaitingSeizure
	return []protocol.Message{n.reply(s.RewardMarket,
		protocol.Tag{Name: protocol.TagAction, Value: "Liquidate-Position"},
		protocol.Tag{Name: protocol.TagQuantity, Value: s.RewardQuantity.String()},
		protocol.Tag{Name: "Liquidator", Value: s.Liquidator},
		protocol.Tag{Name: "Liquidation-Target", Value: s.Target},
		protocol.Tag{Name: protocol.TagReference, Value: s.Reference},
	)}
}

// handleSeizureReply resumes a liquidation saga once the reward market
// confirms or rejects the collateral seizure. Confirmation commits the debt
// repayment; an error refunds the escrowed asset to the liquidator.
func (n *Node) handleSeizureReply(msg protocol.Message) []protocol.Message {
	s, ok := n.sagas[msg.Reference()]
	if !ok || s.Stage != StageAwaitingSeizure || msg.From != s.RewardMarket {
		return nil
	}
	if msg.Action() == "Liquidate-Position-Error" {
		reason := msg.Tag(protocol.TagError)
		if reason == "" {
			reason = "Position liquidation failed"
		}
		return n.fail(s, reason)
	}

	repaid, err := n.ledger.RepayLiquidated(s.Target, s.Quantity, n.params, s.CreatedAt)
	if err != nil {
		return n.fail(s, err.Error())
	}
	out := []protocol.Message{n.reply(n.controller,
		protocol.Tag{Name: protocol.TagAction, Value: "Liquidate-Borrow-Confirmation"},
		protocol.Tag{Name: "Liquidation-Reference", Value: s.LiquidationRef},
		protocol.Tag{Name: "Repaid-Quantity", Value: repaid.String()},
		protocol.Tag{Name: "Liquidator", Value: s.Liquidator},
		protocol.Tag{Name: "Liquidation-Target", Value: s.Target},
	)}
	out = append(out, n.release(s)...)
	n.drop(s, true)
	n.log.Info("loan liquidated",
		"target", s.Target, "liquidator", s.Liquidator, "repaid", repaid.String())
	return out
}

// handleLiquidatePosition serves the collateral side: a registered peer asks
// this market to seize shares from a target on a liquidator's behalf. The
// reply is synchronous; admission is the calling market's concern.
func (n *Node) handleLiquidatePosition(msg protocol.Message) []protocol.Message {
	ref := msg.Reference()
	positionError := func(reason string) []protocol.Message {
		reply := n.reply(msg.From,
			protocol.Tag{Name: protocol.TagAction, Value: "Liquidate-Position-Error"},
			protocol.Tag{Name: protocol.TagError, Value: reason},
		)
		if ref != "" {
			reply = reply.WithTag(protocol.TagXRef, ref)
		}
		return []protocol.Message{reply}
	}

	if _, ok := n.friends[msg.From]; !ok {
		return positionError("Caller is not a trusted market")
	}
	qty, err := protocol.ParseQuantity(msg.Tag(protocol.TagQuantity))
	if err != nil {
		return positionError(errInvalidQuantity)
	}
	liquidator := msg.Tag("Liquidator")
	if !protocol.ValidAddress(liquidator) {
		return positionError(errInvalidAddress)
	}
	target := msg.Tag("Liquidation-Target")

	seized, err := n.ledger.Seize(target, liquidator, qty, n.params, msg.Timestamp)
	if err != nil {
		return positionError(err.Error())
	}
	reply := n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Liquidate-Position-Confirmation"},
		protocol.Tag{Name: "Liquidated-Quantity", Value: seized.String()},
		protocol.Tag{Name: "Liquidator", Value: liquidator},
		protocol.Tag{Name: "Liquidation-Target", Value: target},
	)
	if ref != "" {
		reply = reply.WithTag(protocol.TagXRef, ref)
	}
	n.log.Info("position liquidated",
		"target", target, "liquidator", liquidator, "seized", seized.String())
	return []protocol.Message{reply}
}
