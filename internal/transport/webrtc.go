package transport

import (
	"fmt"

	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// MediaSource hands out already-acquired local tracks. Capture itself is an
// external collaborator; the control plane never touches devices.
type MediaSource interface {
	Tracks(streamNames []string) ([]webrtc.TrackLocal, error)
}

// WebRTCFactory builds pion-backed native sessions.
type WebRTCFactory struct {
	config webrtc.Configuration
	media  MediaSource
	log    *logrus.Logger
}

func NewWebRTCFactory(stunServers []string, media MediaSource, log *logrus.Logger) *WebRTCFactory {
	return &WebRTCFactory{
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		},
		media: media,
		log:   log,
	}
}

func (f *WebRTCFactory) NewConn(peerID string, ev Events) (Conn, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := &webrtcConn{pc: pc, events: ev, media: f.media, log: f.log}

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil || ev.OnCandidate == nil {
			return
		}
		init := ice.ToJSON()
		cand := protocol.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		ev.OnCandidate(cand)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		f.log.Debugf("ICE connection state with %s: %s", peerID, s.String())
		if ev.OnConnState == nil {
			return
		}
		ev.OnConnState(mapICEState(s))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if ev.OnRemoteStreamAdded != nil {
			ev.OnRemoteStreamAdded(track.StreamID(), track.Kind().String())
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		conn.setupDataChannel(dc)
	})

	return conn, nil
}

type webrtcConn struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	events Events
	media  MediaSource
	log    *logrus.Logger
}

func (c *webrtcConn) CreateOffer() (SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return SessionDescription{Type: "offer", SDP: offer.SDP}, nil
}

func (c *webrtcConn) CreateAnswer() (SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return SessionDescription{Type: "answer", SDP: answer.SDP}, nil
}

func (c *webrtcConn) SetLocalDescription(desc SessionDescription) error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: sdpType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (c *webrtcConn) SetRemoteDescription(desc SessionDescription) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (c *webrtcConn) AddCandidate(cand protocol.Candidate) error {
	mid := cand.SDPMid
	index := cand.SDPMLineIndex
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
}

func (c *webrtcConn) CreateDataChannel(label string) error {
	ordered := true
	proto := "peerwave"
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &proto,
	})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *webrtcConn) setupDataChannel(dc *webrtc.DataChannel) {
	c.dc = dc

	dc.OnOpen(func() {
		c.log.Debugf("Data channel '%s'-'%d' open", dc.Label(), dc.ID())
		if c.events.OnDataChannelOpen != nil {
			c.events.OnDataChannelOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.events.OnDataChannelMessage != nil {
			c.events.OnDataChannelMessage(msg.Data)
		}
	})
	dc.OnError(func(err error) {
		c.log.Errorf("Data channel error: %v", err)
	})
	dc.OnClose(func() {
		c.log.Debugf("Data channel '%s'-'%d' closed", dc.Label(), dc.ID())
		if c.events.OnDataChannelClose != nil {
			c.events.OnDataChannelClose()
		}
	})
}

func (c *webrtcConn) SendData(data []byte) error {
	if c.dc == nil {
		return fmt.Errorf("data channel not open")
	}
	return c.dc.Send(data)
}

func (c *webrtcConn) AttachLocalMedia(streamNames []string) error {
	if c.media == nil {
		return nil
	}
	tracks, err := c.media.Tracks(streamNames)
	if err != nil {
		return fmt.Errorf("failed to acquire local tracks: %w", err)
	}
	for _, track := range tracks {
		if _, err := c.pc.AddTrack(track); err != nil {
			return fmt.Errorf("failed to add track: %w", err)
		}
	}
	return nil
}

func (c *webrtcConn) Close() error {
	return c.pc.Close()
}

func sdpType(t string) webrtc.SDPType {
	if t == "answer" {
		return webrtc.SDPTypeAnswer
	}
	return webrtc.SDPTypeOffer
}

func mapICEState(s webrtc.ICEConnectionState) ConnState {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return ConnNew
	case webrtc.ICEConnectionStateChecking:
		return ConnChecking
	case webrtc.ICEConnectionStateConnected:
		return ConnConnected
	case webrtc.ICEConnectionStateCompleted:
		return ConnCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}
