// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Datagram header: the low nibble of byte 0 carries the message type.

package protocol

// MessageType tags every datagram.
type MessageType uint8

const (
	MessageConnectionRequest MessageType = iota
	MessageChallengeRequest
	MessageChallengeResponse
	MessageHail
	MessageHailConfirmed
	MessageHeartbeat
	MessageData
	MessageDisconnect
	MessageAck
	MessageMerge
	MessageUnconnectedData
	MessageMTURequest
	MessageMTUResponse
	MessageBroadcast

	// MessageUnknown is returned for header values outside the allow-list.
	MessageUnknown MessageType = 0xFF
)

const headerTypeMask = 0x0F

// PackHeader encodes t into a header byte.
func PackHeader(t MessageType) byte {
	return byte(t) & headerTypeMask
}

// UnpackHeader decodes the message type of a header byte. Values that are
// not known types map to MessageUnknown.
func UnpackHeader(b byte) MessageType {
	switch t := MessageType(b & headerTypeMask); t {
	case MessageConnectionRequest,
		MessageChallengeRequest,
		MessageChallengeResponse,
		MessageHail,
		MessageHailConfirmed,
		MessageHeartbeat,
		MessageData,
		MessageDisconnect,
		MessageAck,
		MessageMerge,
		MessageUnconnectedData,
		MessageMTURequest,
		MessageMTUResponse,
		MessageBroadcast:
		return t
	default:
		return MessageUnknown
	}
}

func (t MessageType) String() string {
	switch t {
	case MessageConnectionRequest:
		return "connection_request"
	case MessageChallengeRequest:
		return "challenge_request"
	case MessageChallengeResponse:
		return "challenge_response"
	case MessageHail:
		return "hail"
	case MessageHailConfirmed:
		return "hail_confirmed"
	case MessageHeartbeat:
		return "heartbeat"
	case MessageData:
		return "data"
	case MessageDisconnect:
		return "disconnect"
	case MessageAck:
		return "ack"
	case MessageMerge:
		return "merge"
	case MessageUnconnectedData:
		return "unconnected_data"
	case MessageMTURequest:
		return "mtu_request"
	case MessageMTUResponse:
		return "mtu_response"
	case MessageBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}
