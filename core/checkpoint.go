package core

import (
	"lomarket/market"
)

const snapshotKey = "market/state"

// snapshot is the persisted image of the process: everything needed for a
// restarted node to keep serving, pending sagas included. The price cache is
// deliberately left out; staleness rules make stored prices worthless across
// a restart.
type snapshot struct {
	Params      market.Params                             `json:"params"`
	Ledger      *market.Ledger                            `json:"ledger"`
	Friends     map[string]market.PeerMarket              `json:"friends"`
	Sagas       map[string]*Saga                          `json:"sagas"`
	PeerReports map[string]map[string]market.PeerPosition `json:"peerReports"`
}

// checkpoint writes the current state after a fully processed message. A nil
// store disables persistence.
func (n *Node) checkpoint() error {
	if n.store == nil {
		return nil
	}
	return n.store.Save(snapshotKey, snapshot{
		Params:      n.params,
		Ledger:      n.ledger,
		Friends:     n.friends,
		Sagas:       n.sagas,
		PeerReports: n.peerReports,
	})
}

// Restore loads the last checkpoint, if any. Pending sagas resume waiting
// for their correlated replies.
func (n *Node) Restore() error {
	if n.store == nil {
		return nil
	}
	var snap snapshot
	found, err := n.store.Load(snapshotKey, &snap)
	if err != nil || !found {
		return err
	}
	n.params = snap.Params
	n.ledger = snap.Ledger
	n.friends = snap.Friends
	n.sagas = snap.Sagas
	n.peerReports = snap.PeerReports
	if n.friends == nil {
		n.friends = make(map[string]market.PeerMarket)
	}
	if n.sagas == nil {
		n.sagas = make(map[string]*Saga)
	}
	if n.peerReports == nil {
		n.peerReports = make(map[string]map[string]market.PeerPosition)
	}
	n.publishView()
	n.log.Info("state restored", "accounts", len(n.ledger.Accounts), "pending_sagas", len(n.sagas))
	return nil
}
