// Package protocol defines the JSON message surface shared by the signaling
// channel and the peer data channel.
package protocol

// MsgType tags every envelope and data-channel frame.
type MsgType string

const (
	// Server to client.
	MsgAssignID MsgType = "assignId"
	MsgRoomData MsgType = "roomData"
	MsgAck      MsgType = "ack"
	MsgError    MsgType = "error"

	// Peer to peer, relayed or direct.
	MsgOffer     MsgType = "offer"
	MsgAnswer    MsgType = "answer"
	MsgCandidate MsgType = "candidate"
	MsgReject    MsgType = "reject"
	MsgHangup    MsgType = "hangup"
	MsgCancel    MsgType = "cancelCall"

	// Client to server.
	MsgClientUpdate MsgType = "clientUpdate"

	// Data channel only.
	MsgPrime          MsgType = "primeChannel"
	MsgChunkStart     MsgType = "chunkStart"
	MsgChunkData      MsgType = "chunkData"
	MsgChunkEnd       MsgType = "chunkEnd"
	MsgStreamAdded    MsgType = "streamAdded"
	MsgStreamReceived MsgType = "streamReceived"
)

// Known reports whether t is part of the protocol. Unknown types are logged
// and dropped by the receiver rather than closing the connection.
func (t MsgType) Known() bool {
	switch t {
	case MsgAssignID, MsgRoomData, MsgAck, MsgError,
		MsgOffer, MsgAnswer, MsgCandidate, MsgReject, MsgHangup, MsgCancel,
		MsgClientUpdate,
		MsgPrime, MsgChunkStart, MsgChunkData, MsgChunkEnd,
		MsgStreamAdded, MsgStreamReceived:
		return true
	}
	return false
}

type ErrorCode string

const (
	ErrCodeNoViablePath ErrorCode = "NO_VIABLE_PATH"
	ErrCodeDeveloper    ErrorCode = "DEVELOPER_ERROR"
	ErrCodeCallRejected ErrorCode = "CALL_REJECTED"
	ErrCodeSendFailed   ErrorCode = "SEND_FAILED"
)
