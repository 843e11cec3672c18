package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/peerwave/peerwave/internal/protocol"
)

// Send delivers an application message. A sole-peer target with a primed
// data channel goes direct (fragmented when large); everything else falls
// back to the signaling relay.
func (m *Manager) Send(target Target, msgType protocol.MsgType, data any) error {
	return m.call(func() error { return m.sendMessage(target, msgType, data, nil) })
}

// SendPeerMessage is the common single-peer case of Send.
func (m *Manager) SendPeerMessage(peerID string, msgType protocol.MsgType, data any) error {
	return m.Send(Target{PeerID: peerID}, msgType, data)
}

// SendPeerMessageProgress sends to one peer, reporting fragmentation
// progress as (partsSent, partsTotal). Only direct sends fragment; a relay
// fallback reports a single (1, 1).
func (m *Manager) SendPeerMessageProgress(peerID string, msgType protocol.MsgType, data any, progress func(sent, total int)) error {
	return m.call(func() error {
		return m.sendMessage(Target{PeerID: peerID}, msgType, data, progress)
	})
}

func (m *Manager) sendMessage(target Target, msgType protocol.MsgType, data any, progress func(int, int)) error {
	if target.PeerID == "" && target.Room == "" && target.Group == "" {
		return ErrInvalidPeerID
	}

	soloPeer := target.PeerID != "" && target.Room == "" && target.Group == ""
	if soloPeer {
		if sess, exists := m.sessions[target.PeerID]; exists && sess.dataChannelReady && sess.gotPrime {
			payload, err := protocol.EncodeFrame(msgType, data)
			if err != nil {
				return fmt.Errorf("encoding peer message: %w", err)
			}
			sess.splitter.OnProgress = progress
			err = sess.splitter.Send(payload, sess.conn.SendData)
			sess.splitter.OnProgress = nil
			if err != nil {
				return fmt.Errorf("sending over data channel: %w", err)
			}
			return nil
		}
	}

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding peer message: %w", err)
		}
		raw = encoded
	}
	env := protocol.Envelope{
		MsgType:      msgType,
		MsgData:      raw,
		TargetPeerID: target.PeerID,
		TargetRoom:   target.Room,
		TargetGroup:  target.Group,
	}
	if err := m.signal.Emit(env, nil); err != nil {
		return fmt.Errorf("relaying peer message: %w", err)
	}
	if progress != nil {
		progress(1, 1)
	}
	return nil
}

func (m *Manager) handleDataChannelOpen(peerID string) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}
	sess.dataChannelReady = true
	m.sendPrime(sess)
}

// sendPrime ships the one-time priming token for our direction.
func (m *Manager) sendPrime(sess *PeerSession) {
	if sess.sentPrime {
		return
	}
	frame, err := protocol.EncodeFrame(protocol.MsgPrime, nil)
	if err != nil {
		return
	}
	if err := sess.conn.SendData(frame); err != nil {
		m.log.Warnf("Failed to prime data channel with %s: %v", sess.peerID, err)
		return
	}
	sess.sentPrime = true
}

func (m *Manager) handleDataChannelClose(peerID string) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}
	sess.dataChannelReady = false
	sess.gotPrime = false
	sess.sentPrime = false
	sess.assembler.Reset()
}

func (m *Manager) handleDataChannelMessage(peerID string, raw []byte) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}

	payload, delivered := sess.assembler.Receive(raw)
	if !delivered {
		return
	}
	frame, err := protocol.DecodeFrame(payload)
	if err != nil {
		m.log.Warnf("Dropping undecodable data-channel message from %s: %v", peerID, err)
		return
	}

	switch frame.MsgType {
	case protocol.MsgPrime:
		if !sess.gotPrime {
			sess.gotPrime = true
			m.sendPrime(sess)
			sess.fireReady("datachannel")
		}

	case protocol.MsgStreamAdded:
		m.handleStreamAdded(sess, frame)

	case protocol.MsgStreamReceived:
		m.handleStreamReceived(sess, frame)

	default:
		if m.opts.OnPeerMessage != nil {
			m.opts.OnPeerMessage(peerID, frame.MsgType, frame.MsgData)
		}
	}
}

// AddStreamToCall attaches a named local stream to an established session
// and tells the peer it is coming. onAck fires once when the peer confirms
// receipt.
func (m *Manager) AddStreamToCall(peerID, streamName string, onAck func()) error {
	return m.call(func() error {
		sess, exists := m.sessions[peerID]
		if !exists {
			return ErrUnknownPeer
		}
		if err := sess.conn.AttachLocalMedia([]string{streamName}); err != nil {
			return err
		}
		if onAck != nil {
			sess.streamAcks[streamName] = onAck
		}
		return m.sendMessage(Target{PeerID: peerID}, protocol.MsgStreamAdded,
			protocol.StreamNotice{Name: streamName}, nil)
	})
}

func (m *Manager) handleStreamAdded(sess *PeerSession, frame protocol.DataFrame) {
	var notice protocol.StreamNotice
	if err := json.Unmarshal(frame.MsgData, &notice); err != nil || notice.Name == "" {
		m.log.Warnf("Dropping malformed stream notice from %s", sess.peerID)
		return
	}
	// Confirm receipt so the sender's per-stream callback can fire.
	err := m.sendMessage(Target{PeerID: sess.peerID}, protocol.MsgStreamReceived,
		protocol.StreamNotice{Name: notice.Name}, nil)
	if err != nil {
		m.log.Warnf("Failed to confirm stream %q to %s: %v", notice.Name, sess.peerID, err)
	}
}

func (m *Manager) handleStreamReceived(sess *PeerSession, frame protocol.DataFrame) {
	var notice protocol.StreamNotice
	if err := json.Unmarshal(frame.MsgData, &notice); err != nil {
		return
	}
	ack, pending := sess.streamAcks[notice.Name]
	if !pending {
		return
	}
	delete(sess.streamAcks, notice.Name)
	ack()
}

func (m *Manager) handleRemoteStreamAdded(peerID, streamID, kind string) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}
	sess.remoteStreams[streamID] = kind
	sess.fireReady(kind)
}

func (m *Manager) handleRemoteStreamGone(peerID, streamID string) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}
	delete(sess.remoteStreams, streamID)
	m.log.Debugf("Remote stream %s from %s removed", streamID, peerID)
}
