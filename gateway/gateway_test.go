package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lomarket/protocol"
)

func TestQueueRequests(t *testing.T) {
	add := AddToQueue("coordinator", "wallet", "ref-1")
	require.Equal(t, "coordinator", add.Target)
	require.Equal(t, ActionAddToQueue, add.Action())
	require.Equal(t, "wallet", add.Tag(TagAccount))
	require.Equal(t, "ref-1", add.Tag(protocol.TagReference))

	remove := RemoveFromQueue("coordinator", "wallet", "ref-1")
	require.Equal(t, ActionRemoveFromQueue, remove.Action())
	require.Equal(t, "wallet", remove.Tag(TagAccount))
}

func TestParseReplyGrant(t *testing.T) {
	msg := protocol.New("market",
		protocol.Tag{Name: protocol.TagAction, Value: ActionQueued},
		protocol.Tag{Name: protocol.TagXRef, Value: "ref-1"},
	)
	reply, ok := ParseReply(msg)
	require.True(t, ok)
	require.True(t, reply.Granted)
	require.Equal(t, "ref-1", reply.Reference)
}

func TestParseReplyDenial(t *testing.T) {
	msg := protocol.New("market",
		protocol.Tag{Name: protocol.TagError, Value: " could not queue user "},
		protocol.Tag{Name: protocol.TagXRef, Value: "ref-2"},
	)
	reply, ok := ParseReply(msg)
	require.True(t, ok)
	require.False(t, reply.Granted)
	require.Equal(t, "could not queue user", reply.Err)
}

func TestParseReplyIgnoresUnrelated(t *testing.T) {
	_, ok := ParseReply(protocol.New("market",
		protocol.Tag{Name: protocol.TagAction, Value: ActionQueued},
	))
	require.False(t, ok)

	_, ok = ParseReply(protocol.New("market",
		protocol.Tag{Name: protocol.TagAction, Value: "Info"},
		protocol.Tag{Name: protocol.TagXRef, Value: "ref-3"},
	))
	require.False(t, ok)
}
