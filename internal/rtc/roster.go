package rtc

import (
	"encoding/json"

	"github.com/peerwave/peerwave/internal/protocol"
)

// roomNotify coalesces occupant-change notifications for one room.
type roomNotify struct {
	timer   *Timer
	pending int
}

func (m *Manager) handleRoomData(env protocol.Envelope) {
	var rooms protocol.RoomData
	if err := json.Unmarshal(env.MsgData, &rooms); err != nil {
		m.log.Warnf("Dropping malformed room data: %v", err)
		return
	}

	for room, update := range rooms {
		switch {
		case update.ClientList != nil:
			m.applySnapshot(room, update.ClientList)
		case update.Delta != nil:
			m.applyDelta(room, update.Delta)
		default:
			continue
		}
		m.notifyRoomChanged(room)
	}

	m.lostPeerCheck()
}

// applySnapshot replaces the room's roster wholesale. The roster always
// reflects the server's last-known view; sessions reconcile against it,
// never the reverse.
func (m *Manager) applySnapshot(room string, list map[string]protocol.Occupant) {
	roster := make(map[string]protocol.Occupant, len(list))
	for peerID, occ := range list {
		roster[peerID] = occ
	}
	m.rosters[room] = roster
	m.log.Debugf("Room %s snapshot: %d occupants", room, len(roster))
}

// applyDelta merges recognized per-peer sub-fields and deletes removed
// peers. Unknown sub-fields in the update are ignored, not merged.
func (m *Manager) applyDelta(room string, delta *protocol.RoomDelta) {
	roster, exists := m.rosters[room]
	if !exists {
		roster = make(map[string]protocol.Occupant)
		m.rosters[room] = roster
	}

	for peerID, update := range delta.UpdateClient {
		occ := roster[peerID]
		if update.Username != "" {
			occ.Username = update.Username
		}
		if update.Presence != nil {
			occ.Presence = update.Presence
		}
		if update.APIFields != nil {
			occ.APIFields = update.APIFields
		}
		if update.JoinTime != 0 {
			occ.JoinTime = update.JoinTime
		}
		roster[peerID] = occ
	}
	for peerID := range delta.RemoveClient {
		delete(roster, peerID)
	}
}

// lostPeerCheck finds peers with open or pending negotiation state that no
// roster still contains, and ends each one exactly once: a hangup when a
// session exists, a call-cancellation when only an offer or acceptance was
// pending. Per-peer failures are isolated from the rest of the sweep.
func (m *Manager) lostPeerCheck() {
	tracked := make(map[string]bool)
	for peerID := range m.sessions {
		tracked[peerID] = true
	}
	for peerID := range m.pendingOffers {
		tracked[peerID] = true
	}
	for peerID := range m.pendingAcceptance {
		tracked[peerID] = true
	}

	for peerID := range tracked {
		if m.peerInAnyRoom(peerID) {
			continue
		}
		if _, hasSession := m.sessions[peerID]; hasSession {
			m.log.Infof("Peer %s left all rooms, hanging up", peerID)
			if err := m.hangup(peerID); err != nil {
				m.log.Warnf("Failed to hang up departed peer %s: %v", peerID, err)
			}
			continue
		}
		m.log.Infof("Peer %s left all rooms, cancelling pending call", peerID)
		if err := m.signal.Emit(protocol.BuildCancelEnvelope(peerID), nil); err != nil {
			m.log.Warnf("Failed to send cancellation for %s: %v", peerID, err)
		}
		delete(m.pendingOffers, peerID)
		delete(m.pendingAcceptance, peerID)
		delete(m.queuedCandidates, peerID)
	}
}

func (m *Manager) peerInAnyRoom(peerID string) bool {
	for _, roster := range m.rosters {
		if _, present := roster[peerID]; present {
			return true
		}
	}
	return false
}

// notifyRoomChanged schedules a coalesced occupant notification. Repeated
// mutations within the window collapse into one callback with the final
// state; the burst cap guarantees forward progress under constant churn.
func (m *Manager) notifyRoomChanged(room string) {
	n, exists := m.roomNotifies[room]
	if !exists {
		n = &roomNotify{}
		n.timer = m.newTimer(func() { m.flushRoomNotify(room) })
		m.roomNotifies[room] = n
	}
	n.pending++
	if n.pending >= rosterNotifyBurst {
		n.timer.Cancel()
		m.flushRoomNotify(room)
		return
	}
	n.timer.Schedule(rosterNotifyWindow)
}

func (m *Manager) flushRoomNotify(room string) {
	n, exists := m.roomNotifies[room]
	if !exists || n.pending == 0 {
		return
	}
	n.pending = 0

	if m.opts.OnRoomOccupants == nil {
		return
	}
	roster := m.rosters[room]
	snapshot := make(map[string]protocol.Occupant, len(roster))
	for peerID, occ := range roster {
		snapshot[peerID] = occ
	}
	m.opts.OnRoomOccupants(room, snapshot)
}

// RoomOccupants returns a copy of the current roster for one room.
func (m *Manager) RoomOccupants(room string) map[string]protocol.Occupant {
	var snapshot map[string]protocol.Occupant
	_ = m.call(func() error {
		roster := m.rosters[room]
		snapshot = make(map[string]protocol.Occupant, len(roster))
		for peerID, occ := range roster {
			snapshot[peerID] = occ
		}
		return nil
	})
	return snapshot
}
