package core

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"lomarket/market"
	"lomarket/protocol"
)

const (
	errNotController = "This action is only available to the controller"
	errInvalidConfig = "Invalid value for this configuration"
)

// handleAdmin serves the controller-only maintenance actions: the trusted
// peer registry and the market's runtime parameters.
func (n *Node) handleAdmin(msg protocol.Message) []protocol.Message {
	if msg.From != n.controller {
		return n.errorReply(msg, errNotController)
	}
	switch msg.Action() {
	case "Add-Friend":
		return n.handleAddFriend(msg)
	case "Remove-Friend":
		return n.handleRemoveFriend(msg)
	case "List-Friends":
		return n.handleListFriends(msg)
	case "Set-Oracle":
		return n.handleSetOracle(msg)
	case "Set-Collateral-Factor":
		return n.handleSetFactor(msg, "Collateral-Factor", "Collateral-Factor-Set")
	case "Set-Liquidation-Threshold":
		return n.handleSetFactor(msg, "Liquidation-Threshold", "Liquidation-Threshold-Set")
	case "Set-Value-Limit":
		return n.handleSetValueLimit(msg)
	case "Set-Cooldown":
		return n.handleSetMillis(msg, "Cooldown", "Cooldown-Set")
	case "Set-Oracle-Delay-Tolerance":
		return n.handleSetMillis(msg, "Oracle-Delay-Tolerance", "Oracle-Delay-Tolerance-Set")
	}
	return nil
}

func (n *Node) handleAddFriend(msg protocol.Message) []protocol.Message {
	id := msg.Tag("Friend")
	if !protocol.ValidAddress(id) {
		return n.errorReply(msg, "Invalid friend address")
	}
	friend := market.PeerMarket{
		ID:           id,
		Token:        id,
		Ticker:       msg.Tag("Friend-Ticker"),
		Denomination: n.params.CollateralDenomination,
	}
	if token := msg.Tag("Friend-Token"); token != "" {
		if !protocol.ValidAddress(token) {
			return n.errorReply(msg, "Invalid friend token address")
		}
		friend.Token = token
	}
	if raw := msg.Tag("Friend-Denomination"); raw != "" {
		denom, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return n.errorReply(msg, errInvalidConfig)
		}
		friend.Denomination = denom
	}
	n.friends[id] = friend
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Friend-Added"},
		protocol.Tag{Name: "Friend", Value: id},
	)}
}

func (n *Node) handleRemoveFriend(msg protocol.Message) []protocol.Message {
	id := msg.Tag("Friend")
	if _, ok := n.friends[id]; !ok {
		return n.errorReply(msg, "Address is not a friend of this market")
	}
	delete(n.friends, id)
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Friend-Removed"},
		protocol.Tag{Name: "Friend", Value: id},
	)}
}

func (n *Node) handleListFriends(msg protocol.Message) []protocol.Message {
	ids := make([]string, 0, len(n.friends))
	for id := range n.friends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	payload, err := json.Marshal(ids)
	if err != nil {
		return n.errorReply(msg, "could not encode friend list")
	}
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Friend-List"},
	).WithData(string(payload))}
}

func (n *Node) handleSetOracle(msg protocol.Message) []protocol.Message {
	addr := msg.Tag("Oracle")
	if !protocol.ValidAddress(addr) {
		return n.errorReply(msg, "Invalid oracle address")
	}
	n.params.Oracle = addr
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Oracle-Set"},
		protocol.Tag{Name: "Oracle", Value: addr},
	)}
}

// handleSetFactor updates one of the decimal ratio parameters. Both factors
// must stay strictly positive.
func (n *Node) handleSetFactor(msg protocol.Message, tag, confirmation string) []protocol.Message {
	value, err := decimal.NewFromString(msg.Tag(tag))
	if err != nil || value.Sign() <= 0 {
		return n.errorReply(msg, errInvalidConfig)
	}
	switch tag {
	case "Collateral-Factor":
		n.params.CollateralFactor = value
	case "Liquidation-Threshold":
		n.params.LiquidationThreshold = value
	}
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: confirmation},
		protocol.Tag{Name: tag, Value: msg.Tag(tag)},
	)}
}

func (n *Node) handleSetValueLimit(msg protocol.Message) []protocol.Message {
	limit, err := protocol.ParseQuantity(msg.Tag("Value-Limit"))
	if err != nil {
		return n.errorReply(msg, errInvalidConfig)
	}
	n.params.ValueLimit = limit
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: "Value-Limit-Set"},
		protocol.Tag{Name: "Value-Limit", Value: msg.Tag("Value-Limit")},
	)}
}

// handleSetMillis updates one of the millisecond duration parameters; zero
// disables the feature.
func (n *Node) handleSetMillis(msg protocol.Message, tag, confirmation string) []protocol.Message {
	value, err := strconv.ParseInt(msg.Tag(tag), 10, 64)
	if err != nil || value < 0 {
		return n.errorReply(msg, errInvalidConfig)
	}
	switch tag {
	case "Cooldown":
		n.params.CooldownPeriod = value
	case "Oracle-Delay-Tolerance":
		n.params.OracleDelayTolerance = value
	}
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagAction, Value: confirmation},
		protocol.Tag{Name: tag, Value: msg.Tag(tag)},
	)}
}
