package core

import (
	"lomarket/protocol"
)

// Validation error texts surfaced on the wire.
const (
	errInvalidQuantity  = "Invalid incoming transfer quantity"
	errInvalidRecipient = "Invalid transfer recipient"
	errSelfTransfer     = "Cannot transfer to the same address"
	errInvalidAddress   = "Invalid address"
	errInCooldown       = "Account is in cooldown"
	errUnknownToken     = "This token is not supported by this market"
	errNotRelay         = "Liquidations must be relayed by the controller"
)

// handleCreditNotice routes an incoming asset transfer. Deposits from any
// token other than the pooled collateral are bounced straight back; the
// X-Action tag selects the operation the escrowed asset funds.
func (n *Node) handleCreditNotice(msg protocol.Message) []protocol.Message {
	rawQty := msg.Tag(protocol.TagQuantity)
	sender := msg.Tag(protocol.TagSender)

	if msg.From != n.params.CollateralID {
		return []protocol.Message{n.refundVia(msg.From, sender, rawQty, errUnknownToken)}
	}

	switch msg.Tag(protocol.TagXAction) {
	case "Mint":
		return n.handleMint(msg, sender, rawQty)
	case "Repay":
		return n.handleRepay(msg, sender, rawQty)
	case "Liquidate-Borrow":
		return n.handleLiquidateBorrow(msg, sender, rawQty)
	}
	return []protocol.Message{n.refund(sender, rawQty, "Unknown transfer purpose")}
}

// handleMint starts a deposit/mint saga for the escrowed collateral.
func (n *Node) handleMint(msg protocol.Message, sender, rawQty string) []protocol.Message {
	qty, err := protocol.ParseQuantity(rawQty)
	if err != nil {
		return []protocol.Message{
			n.refund(sender, rawQty, errInvalidQuantity),
			n.reply(sender,
				protocol.Tag{Name: protocol.TagAction, Value: "Mint-Error"},
				protocol.Tag{Name: protocol.TagError, Value: errInvalidQuantity},
				protocol.Tag{Name: "Refund-Quantity", Value: rawQty},
			),
		}
	}
	if n.ledger.InCooldown(sender, msg.Timestamp) {
		return []protocol.Message{
			n.refund(sender, rawQty, errInCooldown),
			n.reply(sender,
				protocol.Tag{Name: protocol.TagAction, Value: "Mint-Error"},
				protocol.Tag{Name: protocol.TagError, Value: errInCooldown},
				protocol.Tag{Name: "Refund-Quantity", Value: rawQty},
			),
		}
	}
	return n.begin(&Saga{
		Reference: n.newRef(),
		Kind:      SagaMint,
		Account:   sender,
		ReplyTo:   sender,
		CreatedAt: msg.Timestamp,
		Quantity:  qty,
		Escrow:    qty,
		EscrowRaw: rawQty,
		EscrowTo:  sender,
	})
}

// handleRepay starts a repayment saga. X-On-Behalf repays someone else's
// loan with the sender's asset.
func (n *Node) handleRepay(msg protocol.Message, sender, rawQty string) []protocol.Message {
	qty, err := protocol.ParseQuantity(rawQty)
	if err != nil {
		return []protocol.Message{
			n.refund(sender, rawQty, errInvalidQuantity),
			n.reply(sender,
				protocol.Tag{Name: protocol.TagAction, Value: "Repay-Error"},
				protocol.Tag{Name: protocol.TagError, Value: errInvalidQuantity},
				protocol.Tag{Name: "Refund-Quantity", Value: rawQty},
			),
		}
	}
	target := sender
	if onBehalf := msg.Tag("X-On-Behalf"); onBehalf != "" {
		if !protocol.ValidAddress(onBehalf) {
			return []protocol.Message{
				n.refund(sender, rawQty, errInvalidAddress),
				n.reply(sender,
					protocol.Tag{Name: protocol.TagAction, Value: "Repay-Error"},
					protocol.Tag{Name: protocol.TagError, Value: errInvalidAddress},
					protocol.Tag{Name: "Refund-Quantity", Value: rawQty},
				),
			}
		}
		target = onBehalf
	}
	return n.begin(&Saga{
		Reference: n.newRef(),
		Kind:      SagaRepay,
		Account:   target,
		ReplyTo:   sender,
		CreatedAt: msg.Timestamp,
		Quantity:  qty,
		OnBehalf:  target,
		Escrow:    qty,
		EscrowRaw: rawQty,
		EscrowTo:  sender,
	})
}

// handleBorrow starts a borrow saga for the caller.
func (n *Node) handleBorrow(msg protocol.Message) []protocol.Message {
	qty, err := protocol.ParseQuantity(msg.Tag(protocol.TagQuantity))
	if err != nil {
		return n.errorReply(msg, errInvalidQuantity)
	}
	if n.ledger.InCooldown(msg.From, msg.Timestamp) {
		return n.errorReply(msg, errInCooldown)
	}
	return n.begin(&Saga{
		Reference: n.newRef(),
		Kind:      SagaBorrow,
		Account:   msg.From,
		ReplyTo:   msg.From,
		CreatedAt: msg.Timestamp,
		Quantity:  qty,
	})
}

// handleRedeem starts a share-redemption saga for the caller.
func (n *Node) handleRedeem(msg protocol.Message) []protocol.Message {
	qty, err := protocol.ParseQuantity(msg.Tag(protocol.TagQuantity))
	if err != nil {
		return n.errorReply(msg, errInvalidQuantity)
	}
	if n.ledger.InCooldown(msg.From, msg.Timestamp) {
		return n.errorReply(msg, errInCooldown)
	}
	return n.begin(&Saga{
		Reference: n.newRef(),
		Kind:      SagaRedeem,
		Account:   msg.From,
		ReplyTo:   msg.From,
		CreatedAt: msg.Timestamp,
		Quantity:  qty,
	})
}

// handleTransfer starts a share-transfer saga. Shares are collateral, so a
// transfer runs the same collateralization check as a redemption before the
// debit and credit notices go out.
func (n *Node) handleTransfer(msg protocol.Message) []protocol.Message {
	qty, err := protocol.ParseQuantity(msg.Tag(protocol.TagQuantity))
	if err != nil {
		return n.errorReply(msg, errInvalidQuantity)
	}
	recipient := msg.Tag(protocol.TagRecipient)
	if !protocol.ValidAddress(recipient) {
		return n.errorReply(msg, errInvalidRecipient)
	}
	if recipient == msg.From {
		return n.errorReply(msg, errSelfTransfer)
	}
	if n.ledger.InCooldown(msg.From, msg.Timestamp) {
		return n.errorReply(msg, errInCooldown)
	}
	return n.begin(&Saga{
		Reference: n.newRef(),
		Kind:      SagaTransfer,
		Account:   msg.From,
		ReplyTo:   msg.From,
		CreatedAt: msg.Timestamp,
		Quantity:  qty,
		Recipient: recipient,
		Forward:   msg.ForwardedTags(),
	})
}
