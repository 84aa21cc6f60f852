// Package core implements the lending-market process: a strictly
// single-threaded node that consumes tagged inbound messages, advances
// persisted sagas across asynchronous round trips to the admission
// coordinator, the price oracle and peer markets, and mutates the position
// ledger exactly once per operation.
package core

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"lomarket/gateway"
	"lomarket/market"
	"lomarket/observability"
	"lomarket/oracle"
	"lomarket/protocol"
	"lomarket/state"
)

// Sink receives the node's outbound messages. Delivery and ordering across
// processes are the runtime's responsibility, not the core's.
type Sink interface {
	Deliver(msg protocol.Message)
}

// Node is the market process. All state is owned by the struct, never
// package-global, so tests run isolated instances. Handle must only ever be
// called from one goroutine; Run enforces that.
type Node struct {
	id         string
	controller string
	params     market.Params
	ledger     *market.Ledger
	friends    map[string]market.PeerMarket
	prices     *oracle.Cache
	sagas      map[string]*Saga
	// peerReports caches each peer's last report per account, feeding the
	// zero-exposure skip when gathering collateral data.
	peerReports map[string]map[string]market.PeerPosition

	store   *state.Store
	log     *slog.Logger
	metrics *observability.MarketMetrics
	newRef  func() string

	inbox chan protocol.Message
	sink  Sink

	// view is the last published state snapshot, readable from any
	// goroutine while the loop owns everything else.
	view atomic.Pointer[View]
}

// View is a read-only snapshot of the market's headline state, safe to
// read concurrently with the processing loop.
type View struct {
	Name          string `json:"name"`
	Ticker        string `json:"ticker"`
	Denomination  uint64 `json:"denomination"`
	Cash          string `json:"cash"`
	TotalBorrows  string `json:"totalBorrows"`
	TotalReserves string `json:"totalReserves"`
	TotalSupply   string `json:"totalSupply"`
	Accounts      int    `json:"accounts"`
	Friends       int    `json:"friends"`
	ActiveSagas   int    `json:"activeSagas"`
}

// Options configures a Node.
type Options struct {
	// ID is this process's own address.
	ID string
	// Controller is the owner process: admission coordinator, liquidation
	// relay and the only sender allowed to administrate the market.
	Controller string
	// Params is the market configuration.
	Params market.Params
	// Friends seeds the trusted peer-market registry.
	Friends []market.PeerMarket
	// Store, when set, checkpoints state after every processed message.
	Store *state.Store
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// InboxSize bounds the inbound queue handed to Run.
	InboxSize int
}

// NewNode builds a market node.
func NewNode(opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.InboxSize
	if size <= 0 {
		size = 1024
	}
	n := &Node{
		id:          opts.ID,
		controller:  opts.Controller,
		params:      opts.Params,
		ledger:      market.NewLedger(),
		friends:     make(map[string]market.PeerMarket),
		prices:      oracle.NewCache(),
		sagas:       make(map[string]*Saga),
		peerReports: make(map[string]map[string]market.PeerPosition),
		store:       opts.Store,
		log:         logger,
		metrics:     observability.Metrics(),
		newRef:      uuid.NewString,
		inbox:       make(chan protocol.Message, size),
	}
	for _, friend := range opts.Friends {
		n.friends[friend.ID] = friend
	}
	n.publishView()
	return n
}

func (n *Node) publishView() {
	n.view.Store(&View{
		Name:          n.params.Name,
		Ticker:        n.params.Ticker,
		Denomination:  n.params.Denomination,
		Cash:          n.ledger.Cash.String(),
		TotalBorrows:  n.ledger.TotalBorrows.String(),
		TotalReserves: n.ledger.TotalReserves.String(),
		TotalSupply:   n.ledger.TotalSupply.String(),
		Accounts:      len(n.ledger.Accounts),
		Friends:       len(n.friends),
		ActiveSagas:   len(n.sagas),
	})
}

// InfoView returns the last published snapshot.
func (n *Node) InfoView() View { return *n.view.Load() }

// Inbox is where transports push inbound messages.
func (n *Node) Inbox() chan<- protocol.Message { return n.inbox }

// Run processes inbound messages one at a time until the context is
// cancelled. One message is fully handled, its outputs delivered and the
// state checkpointed, before the next is considered.
func (n *Node) Run(ctx context.Context, sink Sink) {
	n.sink = sink
	n.log.Info("market node started", "process", n.id, "ticker", n.params.Ticker)
	for {
		select {
		case <-ctx.Done():
			n.log.Info("market node stopping")
			return
		case msg := <-n.inbox:
			for _, out := range n.Handle(msg) {
				sink.Deliver(out)
			}
			n.publishView()
			if err := n.checkpoint(); err != nil {
				n.log.Error("state checkpoint failed", "error", err)
			}
		}
	}
}

// Handle processes one inbound message and returns the messages to send. It
// is exported for tests and for transports that manage their own loop; it is
// not safe for concurrent use.
func (n *Node) Handle(msg protocol.Message) []protocol.Message {
	action := msg.Action()
	n.metrics.Message(action)

	// Correlated replies from known collaborators resolve before the action
	// switch: the oracle reply's action tag is the oracle's business, not
	// ours.
	if msg.From == n.params.Oracle && msg.Reference() != "" {
		return n.handlePrices(msg)
	}

	switch action {
	case "Credit-Notice":
		return n.handleCreditNotice(msg)
	case "Borrow":
		return n.handleBorrow(msg)
	case "Redeem":
		return n.handleRedeem(msg)
	case "Transfer":
		return n.handleTransfer(msg)
	case "Liquidate-Position":
		return n.handleLiquidatePosition(msg)
	case "Liquidate-Position-Confirmation", "Liquidate-Position-Error":
		return n.handleSeizureReply(msg)
	case "Collateralization-Response":
		return n.handlePeerReport(msg)
	case gateway.ActionQueued:
		if reply, ok := gateway.ParseReply(msg); ok && msg.From == n.controller {
			return n.handleAdmission(reply)
		}
		return nil
	case "Info":
		return n.handleInfo(msg)
	case "Total-Supply":
		return n.handleTotalSupply(msg)
	case "Balance":
		return n.handleBalance(msg)
	case "Balances":
		return n.handleBalances(msg)
	case "Position":
		return n.handlePosition(msg)
	case "Borrow-Balance":
		return n.handleBorrowBalance(msg)
	case "Add-Friend", "Remove-Friend", "List-Friends",
		"Set-Oracle", "Set-Collateral-Factor", "Set-Liquidation-Threshold",
		"Set-Value-Limit", "Set-Cooldown", "Set-Oracle-Delay-Tolerance":
		return n.handleAdmin(msg)
	}

	// Admission denials arrive without the Queued-User action, only an
	// Error tag and the echoed reference.
	if msg.From == n.controller && msg.Reference() != "" {
		if reply, ok := gateway.ParseReply(msg); ok {
			return n.handleAdmission(reply)
		}
	}

	if msg.Reference() != "" {
		// Unmatched correlated reply: ignored without effect.
		return nil
	}
	n.log.Warn("unhandled action", "action", action, "from", msg.From)
	return nil
}

func (n *Node) cachedPeerPosition(account, peer string, notBefore int64) (market.PeerPosition, bool) {
	reports, ok := n.peerReports[account]
	if !ok {
		return market.PeerPosition{}, false
	}
	pos, ok := reports[peer]
	if !ok || pos.ObservedAt < notBefore {
		return market.PeerPosition{}, false
	}
	return pos, true
}

func (n *Node) rememberPeerPosition(account, peer string, pos market.PeerPosition) {
	reports, ok := n.peerReports[account]
	if !ok {
		reports = make(map[string]market.PeerPosition)
		n.peerReports[account] = reports
	}
	reports[peer] = pos
}

// reply builds a message back to the given address stamped with this
// process's identity.
func (n *Node) reply(to string, tags ...protocol.Tag) protocol.Message {
	msg := protocol.New(to, tags...)
	msg.From = n.id
	return msg
}

// errorReply answers a message with a bare Error tag.
func (n *Node) errorReply(msg protocol.Message, reason string) []protocol.Message {
	return []protocol.Message{n.reply(msg.From,
		protocol.Tag{Name: protocol.TagError, Value: reason},
	)}
}
