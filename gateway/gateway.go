// Package gateway talks to the external admission coordinator, which enforces
// at most one in-flight risky operation per account. The coordinator is
// authoritative; the market only asks for a slot and releases it on every
// terminal saga path.
package gateway

import (
	"strings"

	"lomarket/protocol"
)

// Actions and tags of the admission protocol.
const (
	ActionAddToQueue      = "Add-To-Queue"
	ActionRemoveFromQueue = "Remove-From-Queue"
	ActionQueued          = "Queued-User"

	TagAccount = "Queue-Account"
)

// AddToQueue builds the admission request for account, correlated by
// reference.
func AddToQueue(coordinator, account, reference string) protocol.Message {
	return protocol.New(coordinator,
		protocol.Tag{Name: protocol.TagAction, Value: ActionAddToQueue},
		protocol.Tag{Name: TagAccount, Value: account},
		protocol.Tag{Name: protocol.TagReference, Value: reference},
	)
}

// RemoveFromQueue releases the admission slot held for account.
func RemoveFromQueue(coordinator, account, reference string) protocol.Message {
	return protocol.New(coordinator,
		protocol.Tag{Name: protocol.TagAction, Value: ActionRemoveFromQueue},
		protocol.Tag{Name: TagAccount, Value: account},
		protocol.Tag{Name: protocol.TagReference, Value: reference},
	)
}

// Reply is a parsed admission coordinator response.
type Reply struct {
	Reference string
	Granted   bool
	Err       string
}

// ParseReply interprets a message from the coordinator as an admission reply.
// A Queued-User action grants the slot; an Error tag (typically "could not
// queue user") denies it because the account is already queued.
func ParseReply(msg protocol.Message) (Reply, bool) {
	ref := msg.Reference()
	if ref == "" {
		return Reply{}, false
	}
	if msg.Action() == ActionQueued {
		return Reply{Reference: ref, Granted: true}, true
	}
	if errText := msg.Tag(protocol.TagError); errText != "" {
		return Reply{Reference: ref, Err: strings.TrimSpace(errText)}, true
	}
	return Reply{}, false
}
