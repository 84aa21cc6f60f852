package core

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"lomarket/market"
	"lomarket/protocol"
)

func peerReport(ref, capacity, borrowed string, ts int64) protocol.Message {
	msg := protocol.New(selfAddr,
		protocol.Tag{Name: protocol.TagAction, Value: "Collateralization-Response"},
		protocol.Tag{Name: "Capacity", Value: capacity},
		protocol.Tag{Name: "Borrow-Balance", Value: borrowed},
		protocol.Tag{Name: "Ticker", Value: "AUX"},
		protocol.Tag{Name: "Denomination", Value: "12"},
		protocol.Tag{Name: protocol.TagXRef, Value: ref},
	)
	msg.From = peerAddr
	msg.Timestamp = ts
	return msg
}

func TestBorrowGathersPeerPositions(t *testing.T) {
	friends := []market.PeerMarket{{ID: peerAddr, Token: peerAddr, Ticker: "AUX", Denomination: 12}}
	n := newTestNode(t, Options{Friends: friends})
	ts := int64(10_000_000)
	mintFor(t, n, aliceAddr, "1000", ts)

	out := n.Handle(actionRequest("Borrow", aliceAddr, "600", ts))
	ref := out[0].Tag(protocol.TagReference)
	out = n.Handle(admissionGrant(ref))

	// The peer's ticker is not cached, so both get requested.
	require.Len(t, out, 2)
	var oracleReq, posReq protocol.Message
	for _, m := range out {
		switch m.Target {
		case oracleAddr:
			oracleReq = m
		case peerAddr:
			posReq = m
		}
	}
	require.Equal(t, `["AUX"]`, oracleReq.Tag("Tickers"), "own price is fresh, only the peer's is missing")
	require.Equal(t, "Position", posReq.Action())
	require.Equal(t, aliceAddr, posReq.Tag(protocol.TagRecipient))
	require.Equal(t, ref, posReq.Tag(protocol.TagReference))

	out = n.Handle(oracleReply(ref, ts, map[string]string{"AUX": "2"}))
	require.Empty(t, out, "still waiting on the peer report")

	// Peer collateral 500 at price 2 lifts the capacity enough for 600:
	// (1000 + 2*500)/2 = 1000.
	out = n.Handle(peerReport(ref, "500", "0", ts))
	findAction(t, out, "Borrow-Confirmation")
	require.Equal(t, "600", n.ledger.TotalBorrows.String())
}

func TestPeerDebtCountsAgainstCapacity(t *testing.T) {
	friends := []market.PeerMarket{{ID: peerAddr, Token: peerAddr, Ticker: "AUX", Denomination: 12}}
	n := newTestNode(t, Options{Friends: friends})
	ts := int64(10_000_000)
	mintFor(t, n, aliceAddr, "1000", ts)

	out := n.Handle(actionRequest("Borrow", aliceAddr, "400", ts))
	ref := out[0].Tag(protocol.TagReference)
	n.Handle(admissionGrant(ref))
	n.Handle(oracleReply(ref, ts, map[string]string{"AUX": "1"}))

	// Peer debt 200 drops the capacity to 1000/2 - 200 = 300 < 400.
	out = n.Handle(peerReport(ref, "0", "200", ts))
	errReply := findAction(t, out, "Borrow-Error")
	require.Equal(t, "Not enough collateral for this operation", errReply.Tag(protocol.TagError))
	require.Equal(t, 0, n.ledger.TotalBorrows.Sign())
}

func TestZeroExposurePeerSkippedOnNextSaga(t *testing.T) {
	friends := []market.PeerMarket{{ID: peerAddr, Token: peerAddr, Ticker: "AUX", Denomination: 12}}
	n := newTestNode(t, Options{Friends: friends})
	ts := int64(10_000_000)
	mintFor(t, n, aliceAddr, "1000", ts)

	out := n.Handle(actionRequest("Borrow", aliceAddr, "100", ts))
	ref := out[0].Tag(protocol.TagReference)
	out = n.Handle(admissionGrant(ref))
	require.Len(t, out, 2, "first saga asks oracle and peer")
	n.Handle(oracleReply(ref, ts, map[string]string{"AUX": "1"}))
	out = n.Handle(peerReport(ref, "0", "0", ts))
	findAction(t, out, "Borrow-Confirmation")

	// The fresh zero report lets the next saga commit without the peer.
	out = n.Handle(actionRequest("Borrow", aliceAddr, "100", ts))
	ref = out[0].Tag(protocol.TagReference)
	out = n.Handle(admissionGrant(ref))
	findAction(t, out, "Borrow-Confirmation")
}

func TestPeerReportFromStrangerIgnored(t *testing.T) {
	friends := []market.PeerMarket{{ID: peerAddr, Token: peerAddr, Ticker: "AUX", Denomination: 12}}
	n := newTestNode(t, Options{Friends: friends})
	ts := int64(10_000_000)
	mintFor(t, n, aliceAddr, "1000", ts)

	out := n.Handle(actionRequest("Borrow", aliceAddr, "100", ts))
	ref := out[0].Tag(protocol.TagReference)
	n.Handle(admissionGrant(ref))

	forged := peerReport(ref, "9999", "0", ts)
	forged.From = testAddr("stranger-")
	require.Empty(t, n.Handle(forged))
	require.Contains(t, n.sagas, ref)
}

func TestPositionQueryEchoesReference(t *testing.T) {
	n := newTestNode(t, Options{})
	ts := int64(10_000_000)
	mintFor(t, n, bobAddr, "1000", ts)

	req := actionRequest("Position", peerAddr, "", ts,
		protocol.Tag{Name: protocol.TagRecipient, Value: bobAddr},
		protocol.Tag{Name: protocol.TagXRef, Value: "their-ref"},
	)
	out := n.Handle(req)
	require.Len(t, out, 1)
	reply := out[0]
	require.Equal(t, "Collateralization-Response", reply.Action())
	require.Equal(t, "1000", reply.Tag("Capacity"))
	require.Equal(t, "0", reply.Tag("Borrow-Balance"))
	require.Equal(t, "PNT", reply.Tag("Ticker"))
	require.Equal(t, strconv.FormatUint(n.params.CollateralDenomination, 10), reply.Tag("Denomination"))
	require.Equal(t, bobAddr, reply.Tag("Account"))
	require.Equal(t, "their-ref", reply.Tag(protocol.TagXRef))
}

func TestAddFriendGate(t *testing.T) {
	n := newTestNode(t, Options{})

	// Non-controller senders are rejected.
	out := n.Handle(actionRequest("Add-Friend", aliceAddr, "", 1_000,
		protocol.Tag{Name: "Friend", Value: peerAddr},
	))
	require.Equal(t, "This action is only available to the controller", out[0].Tag(protocol.TagError))

	out = n.Handle(actionRequest("Add-Friend", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Friend", Value: peerAddr},
		protocol.Tag{Name: "Friend-Ticker", Value: "AUX"},
		protocol.Tag{Name: "Friend-Denomination", Value: "9"},
	))
	require.Equal(t, "Friend-Added", out[0].Action())
	friend, ok := n.friends[peerAddr]
	require.True(t, ok)
	require.Equal(t, "AUX", friend.Ticker)
	require.Equal(t, uint64(9), friend.Denomination)

	out = n.Handle(actionRequest("List-Friends", controllerAddr, "", 1_000))
	require.Equal(t, "Friend-List", out[0].Action())
	require.JSONEq(t, `["`+peerAddr+`"]`, out[0].Data)

	out = n.Handle(actionRequest("Remove-Friend", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Friend", Value: peerAddr},
	))
	require.Equal(t, "Friend-Removed", out[0].Action())
	require.NotContains(t, n.friends, peerAddr)

	out = n.Handle(actionRequest("Remove-Friend", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Friend", Value: peerAddr},
	))
	require.Equal(t, "Address is not a friend of this market", out[0].Tag(protocol.TagError))
}

func TestAdminSetters(t *testing.T) {
	n := newTestNode(t, Options{})

	out := n.Handle(actionRequest("Set-Collateral-Factor", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Collateral-Factor", Value: "1.5"},
	))
	require.Equal(t, "Collateral-Factor-Set", out[0].Action())
	require.Equal(t, "1.5", n.params.CollateralFactor.String())

	out = n.Handle(actionRequest("Set-Collateral-Factor", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Collateral-Factor", Value: "0"},
	))
	require.Equal(t, "Invalid value for this configuration", out[0].Tag(protocol.TagError))

	out = n.Handle(actionRequest("Set-Liquidation-Threshold", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Liquidation-Threshold", Value: "1.25"},
	))
	require.Equal(t, "Liquidation-Threshold-Set", out[0].Action())

	out = n.Handle(actionRequest("Set-Value-Limit", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Value-Limit", Value: "1000000"},
	))
	require.Equal(t, "Value-Limit-Set", out[0].Action())
	require.Equal(t, "1000000", n.params.ValueLimit.String())

	out = n.Handle(actionRequest("Set-Value-Limit", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Value-Limit", Value: "0"},
	))
	require.Equal(t, "Invalid value for this configuration", out[0].Tag(protocol.TagError))

	out = n.Handle(actionRequest("Set-Cooldown", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Cooldown", Value: "90000"},
	))
	require.Equal(t, "Cooldown-Set", out[0].Action())
	require.Equal(t, int64(90_000), n.params.CooldownPeriod)

	newOracle := testAddr("oracle-next-")
	out = n.Handle(actionRequest("Set-Oracle", controllerAddr, "", 1_000,
		protocol.Tag{Name: "Oracle", Value: newOracle},
	))
	require.Equal(t, "Oracle-Set", out[0].Action())
	require.Equal(t, newOracle, n.params.Oracle)
}

func TestInfoAndBalanceQueries(t *testing.T) {
	n := newTestNode(t, Options{})
	ts := int64(10_000_000)
	mintFor(t, n, aliceAddr, "1000", ts)

	out := n.Handle(actionRequest("Info", aliceAddr, "", ts))
	info := out[0]
	require.Equal(t, "Points Market", info.Tag("Name"))
	require.Equal(t, "oPNT", info.Tag("Ticker"))
	require.Equal(t, "1000", info.Tag("Cash"))
	require.Equal(t, "1000", info.Tag("Total-Supply"))

	out = n.Handle(actionRequest("Balance", bobAddr, "", ts,
		protocol.Tag{Name: protocol.TagRecipient, Value: aliceAddr},
	))
	require.Equal(t, "1000", out[0].Tag("Balance"))
	require.Equal(t, aliceAddr, out[0].Tag("Account"))
	require.Equal(t, "1000", out[0].Data)

	out = n.Handle(actionRequest("Total-Supply", bobAddr, "", ts))
	require.Equal(t, "1000", out[0].Tag("Total-Supply"))

	out = n.Handle(actionRequest("Balances", bobAddr, "", ts))
	require.JSONEq(t, `{"`+aliceAddr+`":"1000"}`, out[0].Data)

	out = n.Handle(actionRequest("Borrow-Balance", aliceAddr, "", ts))
	require.Equal(t, "0", out[0].Tag("Borrow-Balance"))
}

func TestGrantedSagaSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	n := newTestNode(t, Options{Store: store})
	ts := int64(10_000_000)

	out := n.Handle(creditNotice("Mint", aliceAddr, "750", ts))
	ref := out[0].Tag(protocol.TagReference)
	n.Handle(admissionGrant(ref))
	require.NoError(t, n.checkpoint())

	// A fresh process over the same store resumes the pending saga.
	restored := newTestNode(t, Options{Store: store})
	require.NoError(t, restored.Restore())
	require.Contains(t, restored.sagas, ref)
	require.Equal(t, StageAwaitingPrices, restored.sagas[ref].Stage)

	out = restored.Handle(oracleReply(ref, ts, map[string]string{"PNT": "1"}))
	findAction(t, out, "Mint-Confirmation")
	require.Equal(t, "750", restored.ledger.Balance(aliceAddr).String())
}

func TestLedgerSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	n := newTestNode(t, Options{Store: store})
	ts := int64(10_000_000)
	mintFor(t, n, aliceAddr, "1000", ts)
	require.NoError(t, n.checkpoint())

	restored := newTestNode(t, Options{Store: store})
	require.NoError(t, restored.Restore())
	require.Equal(t, "1000", restored.ledger.Balance(aliceAddr).String())
	require.Equal(t, "1000", restored.ledger.Cash.String())
	require.Empty(t, restored.sagas)
}
