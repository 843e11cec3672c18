// Package transport abstracts the native connection-establishment session.
// The control plane only orchestrates calls into it and interprets its
// callbacks; everything below the offer/answer surface (ICE, DTLS, SCTP,
// congestion control) belongs to the implementation.
package transport

import "github.com/peerwave/peerwave/internal/protocol"

// ConnState mirrors the native connectivity states the core reacts to.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnChecking
	ConnConnected
	ConnCompleted
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnChecking:
		return "checking"
	case ConnConnected:
		return "connected"
	case ConnCompleted:
		return "completed"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionDescription is an offer or answer blob.
type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

// Events carries the callbacks a Conn fires. They may be invoked from
// transport-owned goroutines; the session manager posts them onto its run
// loop before touching shared state.
type Events struct {
	OnCandidate          func(protocol.Candidate)
	OnConnState          func(ConnState)
	OnDataChannelOpen    func()
	OnDataChannelClose   func()
	OnDataChannelMessage func([]byte)
	OnRemoteStreamAdded  func(streamID, kind string)
	OnRemoteStreamGone   func(streamID string)
}

// Conn is one native peer-to-peer session.
type Conn interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddCandidate(protocol.Candidate) error
	// CreateDataChannel opens the ordered channel used for direct peer
	// messages. Initiator side only; the answerer waits for the remote one.
	CreateDataChannel(label string) error
	SendData([]byte) error
	// AttachLocalMedia adds the already-acquired local streams by name.
	AttachLocalMedia(streamNames []string) error
	Close() error
}

// Factory builds native sessions. The manager owns exactly one.
type Factory interface {
	NewConn(peerID string, ev Events) (Conn, error)
}
