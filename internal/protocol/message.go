package protocol

import "encoding/json"

// Envelope is the unit of exchange on the signaling channel. Outbound
// envelopes may narrow delivery with any combination of target fields;
// multiple targets narrow via logical AND. AckID correlates an
// acknowledgment requested by the sender.
type Envelope struct {
	MsgType      MsgType         `json:"msgType"`
	MsgData      json.RawMessage `json:"msgData,omitempty"`
	SenderPeerID string          `json:"senderPeerId,omitempty"`
	TargetPeerID string          `json:"targetPeerId,omitempty"`
	TargetRoom   string          `json:"targetRoom,omitempty"`
	TargetGroup  string          `json:"targetGroup,omitempty"`
	AckID        string          `json:"ackId,omitempty"`
}

// DataFrame is the unit of exchange on the peer data channel.
type DataFrame struct {
	MsgType MsgType         `json:"msgType"`
	MsgData json.RawMessage `json:"msgData,omitempty"`
}

// Offer and Answer carry the two halves of the session-description exchange.
type Offer struct {
	SDP string `json:"sdp"`
}

type Answer struct {
	SDP string `json:"sdp"`
}

// Candidate is a connectivity-path descriptor.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

type Reject struct {
	Reason string `json:"reason,omitempty"`
}

type AssignID struct {
	PeerID string `json:"peerId"`
}

// Presence mirrors the occupant's advertised availability.
type Presence struct {
	Show   string `json:"show,omitempty"`
	Status string `json:"status,omitempty"`
}

// Occupant is one entry in a room roster.
type Occupant struct {
	Username  string         `json:"username,omitempty"`
	Presence  *Presence      `json:"presence,omitempty"`
	APIFields map[string]any `json:"apiFields,omitempty"`
	JoinTime  int64          `json:"joinTime,omitempty"`
}

// RoomUpdate is the per-room payload of a roomData envelope: either a full
// snapshot (ClientList) or an incremental delta, never both.
type RoomUpdate struct {
	ClientList map[string]Occupant `json:"clientList,omitempty"`
	Delta      *RoomDelta          `json:"clientListDelta,omitempty"`
}

type RoomDelta struct {
	UpdateClient map[string]Occupant `json:"updateClient,omitempty"`
	RemoveClient map[string]struct{} `json:"removeClient,omitempty"`
}

// RoomData maps room name to its update.
type RoomData map[string]RoomUpdate

// ChunkStart opens a fragmented transfer of Parts chunks.
type ChunkStart struct {
	ID    string `json:"transferId"`
	Parts int    `json:"parts"`
}

// ChunkData carries one fragment. Data is base64 on the wire.
type ChunkData struct {
	ID   string `json:"transferId"`
	Data []byte `json:"data"`
}

type ChunkEnd struct {
	ID string `json:"transferId"`
}

// StreamNotice announces or confirms a named media stream mid-call.
type StreamNotice struct {
	Name string `json:"name"`
}
