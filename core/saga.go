package core

import (
	"fmt"
	"math/big"

	"lomarket/gateway"
	"lomarket/market"
	"lomarket/oracle"
	"lomarket/protocol"
)

// SagaKind identifies the operation a pending saga is carrying out.
type SagaKind string

const (
	SagaMint            SagaKind = "mint"
	SagaRedeem          SagaKind = "redeem"
	SagaBorrow          SagaKind = "borrow"
	SagaRepay           SagaKind = "repay"
	SagaTransfer        SagaKind = "transfer"
	SagaLiquidateBorrow SagaKind = "liquidate-borrow"
)

// SagaStage is the persisted continuation point of a pending saga. The
// process never blocks: between sending a request and receiving its
// correlated reply the stage record is the only state that survives.
type SagaStage string

const (
	StageAwaitingAdmission SagaStage = "awaiting-admission"
	StageAwaitingPrices    SagaStage = "awaiting-prices"
	StageAwaitingSeizure   SagaStage = "awaiting-seizure"
)

// Saga is one in-flight multi-step operation, keyed by the opaque correlation
// reference this process generated. At most one saga per account is active at
// a time, enforced by the admission coordinator.
type Saga struct {
	Reference string    `json:"reference"`
	Kind      SagaKind  `json:"kind"`
	Stage     SagaStage `json:"stage"`
	// Account owns the admission slot and the position under mutation.
	Account string `json:"account"`
	// ReplyTo receives the final confirmation or error.
	ReplyTo string `json:"replyTo"`
	// CreatedAt anchors price staleness checks; Tolerance is the oracle
	// delay tolerance captured when the saga was created.
	CreatedAt int64 `json:"createdAt"`
	Tolerance int64 `json:"tolerance"`

	Quantity  *big.Int       `json:"quantity,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Forward   []protocol.Tag `json:"forward,omitempty"`
	OnBehalf  string         `json:"onBehalf,omitempty"`

	// Escrow is the asset quantity already received for this operation and
	// refunded on every failure path. EscrowRaw keeps the wire encoding so
	// refunds echo the original quantity string exactly.
	Escrow    *big.Int `json:"escrow,omitempty"`
	EscrowRaw string   `json:"escrowRaw,omitempty"`
	EscrowTo  string   `json:"escrowTo,omitempty"`

	// Tickers and WaitingPeers track the data still outstanding before the
	// saga may commit.
	Tickers      []string                       `json:"tickers,omitempty"`
	WaitingPeers map[string]bool                `json:"waitingPeers,omitempty"`
	Peers        map[string]market.PeerPosition `json:"peers,omitempty"`

	// Loan liquidation context.
	Liquidator     string   `json:"liquidator,omitempty"`
	Target         string   `json:"target,omitempty"`
	RewardMarket   string   `json:"rewardMarket,omitempty"`
	RewardQuantity *big.Int `json:"rewardQuantity,omitempty"`
	LiquidationRef string   `json:"liquidationRef,omitempty"`

	// Admitted records whether the admission slot was granted and must be
	// released on termination.
	Admitted bool `json:"admitted"`
}

// errorAction maps a saga kind to the Action tag of its error reply.
func (s *Saga) errorAction() string {
	switch s.Kind {
	case SagaMint:
		return "Mint-Error"
	case SagaRedeem:
		return "Redeem-Error"
	case SagaBorrow:
		return "Borrow-Error"
	case SagaRepay:
		return "Repay-Error"
	case SagaTransfer:
		return "Transfer-Error"
	case SagaLiquidateBorrow:
		return "Liquidate-Borrow-Error"
	}
	return "Error"
}

// begin registers a saga and asks the admission coordinator for the account's
// slot. The saga stays in AwaitingAdmission until the coordinator replies.
func (n *Node) begin(s *Saga) []protocol.Message {
	s.Stage = StageAwaitingAdmission
	s.Tolerance = n.params.OracleDelayTolerance
	n.sagas[s.Reference] = s
	n.metrics.SagaStarted()
	n.log.Info("saga started",
		"kind", string(s.Kind), "account", s.Account, "reference", s.Reference)
	return []protocol.Message{gateway.AddToQueue(n.controller, s.Account, s.Reference)}
}

// handleAdmission resumes a saga once its admission reply arrives. Grants
// move the saga toward its data-gathering stage; denials answer the caller
// and drop the saga without releasing anything, since nothing was held.
func (n *Node) handleAdmission(reply gateway.Reply) []protocol.Message {
	s, ok := n.sagas[reply.Reference]
	if !ok || s.Stage != StageAwaitingAdmission {
		return nil
	}
	if !reply.Granted {
		n.log.Info("admission denied", "account", s.Account, "reference", s.Reference)
		return n.fail(s, reply.Err)
	}
	s.Admitted = true
	return n.advance(s)
}

// advance moves an admitted saga to its next stage: it determines the data
// the commit needs, issues the outstanding requests, and commits immediately
// when everything is already at hand.
func (n *Node) advance(s *Saga) []protocol.Message {
	switch s.Kind {
	case SagaRepay:
		return n.commit(s)
	case SagaLiquidateBorrow:
		return n.requestSeizure(s)
	case SagaMint:
		// The own-ticker price only feeds the value-limit check, so an
		// unlimited market deposits without an oracle round trip.
		if n.params.ValueLimit == nil || n.params.ValueLimit.Sign() == 0 {
			return n.commit(s)
		}
	}

	s.Stage = StageAwaitingPrices
	s.Tickers = []string{n.params.CollateralTicker}
	s.WaitingPeers = make(map[string]bool)
	s.Peers = make(map[string]market.PeerPosition)

	if s.Kind != SagaMint {
		for id, friend := range n.friends {
			// Peers whose last fresh report shows no exposure at all are
			// skipped entirely.
			if cached, ok := n.cachedPeerPosition(s.Account, id, s.notBefore()); ok && cached.Zero() {
				continue
			}
			s.Tickers = append(s.Tickers, friend.Ticker)
			s.WaitingPeers[id] = true
		}
	}

	var out []protocol.Message
	if missing := n.prices.Missing(s.Tickers, s.notBefore()); len(missing) > 0 {
		req, err := oracle.Request(n.params.Oracle, s.Reference, missing)
		if err != nil {
			return n.fail(s, err.Error())
		}
		n.metrics.OracleRequest()
		out = append(out, req)
	}
	for id := range s.WaitingPeers {
		out = append(out, protocol.New(id,
			protocol.Tag{Name: protocol.TagAction, Value: "Position"},
			protocol.Tag{Name: protocol.TagRecipient, Value: s.Account},
			protocol.Tag{Name: protocol.TagReference, Value: s.Reference},
		))
	}
	if len(out) == 0 {
		return n.commit(s)
	}
	return out
}

// notBefore is the oldest acceptable observation timestamp for data feeding
// this saga.
func (s *Saga) notBefore() int64 {
	return s.CreatedAt - s.Tolerance
}

// handlePrices merges an oracle reply into the cache and commits once every
// required ticker is fresh and no peer report is outstanding. A price older
// than the saga's tolerance window fails the whole operation.
func (n *Node) handlePrices(msg protocol.Message) []protocol.Message {
	s, ok := n.sagas[msg.Reference()]
	if !ok || s.Stage != StageAwaitingPrices {
		// Unsolicited or late reply: still merge usable prices, then drop.
		if prices, err := oracle.ParseReply(msg.Data); err == nil {
			for ticker, price := range prices {
				n.prices.Put(ticker, price)
			}
		}
		return nil
	}
	prices, err := oracle.ParseReply(msg.Data)
	if err != nil {
		return n.fail(s, fmt.Sprintf("Invalid oracle response: %s", err))
	}
	required := make(map[string]bool, len(s.Tickers))
	for _, ticker := range s.Tickers {
		required[ticker] = true
	}
	for ticker, price := range prices {
		if required[ticker] && !price.Fresh(s.notBefore()) {
			return n.fail(s, fmt.Sprintf("Stale price received for %s", ticker))
		}
		n.prices.Put(ticker, price)
	}
	return n.tryCommit(s)
}

// handlePeerReport records a peer market's Collateralization-Response and
// commits once nothing else is outstanding.
func (n *Node) handlePeerReport(msg protocol.Message) []protocol.Message {
	if _, ok := n.friends[msg.From]; !ok {
		return nil
	}
	s, ok := n.sagas[msg.Reference()]
	if !ok || s.Stage != StageAwaitingPrices || !s.WaitingPeers[msg.From] {
		return nil
	}
	pos, err := parsePeerPosition(msg)
	if err != nil {
		return n.fail(s, fmt.Sprintf("Invalid position report from %s: %s", msg.From, err))
	}
	delete(s.WaitingPeers, msg.From)
	s.Peers[msg.From] = pos
	n.rememberPeerPosition(s.Account, msg.From, pos)
	return n.tryCommit(s)
}

// tryCommit commits the saga when all required prices are fresh in cache and
// every awaited peer has reported.
func (n *Node) tryCommit(s *Saga) []protocol.Message {
	if len(s.WaitingPeers) > 0 {
		return nil
	}
	if len(n.prices.Missing(s.Tickers, s.notBefore())) > 0 {
		return nil
	}
	return n.commit(s)
}

// fail terminates a saga on any error path: it answers the caller with a
// human-readable Error tag, refunds any escrowed asset, releases the
// admission slot when one was granted, and drops the saga. The caller is
// responsible for resubmission; the core never retries.
func (n *Node) fail(s *Saga, reason string) []protocol.Message {
	var out []protocol.Message

	reply := protocol.New(s.ReplyTo,
		protocol.Tag{Name: protocol.TagAction, Value: s.errorAction()},
		protocol.Tag{Name: protocol.TagError, Value: reason},
	)
	if s.EscrowRaw != "" {
		reply = reply.WithTag("Refund-Quantity", s.EscrowRaw)
	}
	if s.Kind == SagaLiquidateBorrow {
		reply = reply.WithTag("Liquidation-Reference", s.LiquidationRef)
	}
	out = append(out, reply)

	if s.EscrowRaw != "" {
		out = append(out, n.refund(s.EscrowTo, s.EscrowRaw, reason))
	}
	out = append(out, n.release(s)...)
	n.drop(s, false)
	n.log.Info("saga failed",
		"kind", string(s.Kind), "account", s.Account, "reference", s.Reference, "error", reason)
	return out
}

// release emits the Remove-From-Queue message for a saga whose admission slot
// was granted.
func (n *Node) release(s *Saga) []protocol.Message {
	if !s.Admitted {
		return nil
	}
	return []protocol.Message{gateway.RemoveFromQueue(n.controller, s.Account, s.Reference)}
}

func (n *Node) drop(s *Saga, completed bool) {
	delete(n.sagas, s.Reference)
	n.metrics.SagaFinished(completed)
}

// refund sends escrowed collateral back through the collateral token process.
func (n *Node) refund(recipient, rawQty, reason string) protocol.Message {
	return n.refundVia(n.params.CollateralID, recipient, rawQty, reason)
}

// refundVia bounces a received quantity back through the token process it
// arrived on.
func (n *Node) refundVia(token, recipient, rawQty, reason string) protocol.Message {
	n.metrics.Refund()
	return protocol.New(token,
		protocol.Tag{Name: protocol.TagAction, Value: "Transfer"},
		protocol.Tag{Name: protocol.TagRecipient, Value: recipient},
		protocol.Tag{Name: protocol.TagQuantity, Value: rawQty},
		protocol.Tag{Name: protocol.TagXAction, Value: "Refund"},
		protocol.Tag{Name: "X-Refund-Reason", Value: reason},
	)
}

func parsePeerPosition(msg protocol.Message) (market.PeerPosition, error) {
	pos := market.PeerPosition{
		Capacity:      big.NewInt(0),
		BorrowBalance: big.NewInt(0),
		Ticker:        msg.Tag("Ticker"),
		ObservedAt:    msg.Timestamp,
	}
	if raw := msg.Tag("Capacity"); raw != "" && raw != "0" {
		qty, err := protocol.ParseQuantity(raw)
		if err != nil {
			return pos, fmt.Errorf("capacity: %w", err)
		}
		pos.Capacity = qty
	}
	if raw := msg.Tag("Borrow-Balance"); raw != "" && raw != "0" {
		qty, err := protocol.ParseQuantity(raw)
		if err != nil {
			return pos, fmt.Errorf("borrow balance: %w", err)
		}
		pos.BorrowBalance = qty
	}
	if raw := msg.Tag("Denomination"); raw != "" {
		var denom uint64
		if _, err := fmt.Sscanf(raw, "%d", &denom); err != nil {
			return pos, fmt.Errorf("denomination: %w", err)
		}
		pos.Denomination = denom
	}
	return pos, nil
}
