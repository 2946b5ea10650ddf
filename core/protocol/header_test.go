package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/core/protocol"
)

func TestHeader_KnownTypes(t *testing.T) {
	known := []protocol.MessageType{
		protocol.MessageConnectionRequest,
		protocol.MessageChallengeRequest,
		protocol.MessageChallengeResponse,
		protocol.MessageHail,
		protocol.MessageHailConfirmed,
		protocol.MessageHeartbeat,
		protocol.MessageData,
		protocol.MessageDisconnect,
		protocol.MessageAck,
		protocol.MessageMerge,
		protocol.MessageUnconnectedData,
		protocol.MessageMTURequest,
		protocol.MessageMTUResponse,
		protocol.MessageBroadcast,
	}
	for _, mt := range known {
		b := protocol.PackHeader(mt)
		require.Equal(t, mt, protocol.UnpackHeader(b), mt.String())
		// high nibble is ignored
		require.Equal(t, mt, protocol.UnpackHeader(b|0xA0), mt.String())
		require.NotEqual(t, "unknown", mt.String())
	}
}

func TestHeader_UnknownSentinel(t *testing.T) {
	require.Equal(t, protocol.MessageUnknown, protocol.UnpackHeader(0x0E))
	require.Equal(t, protocol.MessageUnknown, protocol.UnpackHeader(0xFF))
	require.Equal(t, "unknown", protocol.MessageUnknown.String())
}
