package rtc

import (
	"encoding/json"
	"testing"

	"github.com/peerwave/peerwave/internal/protocol"
)

func roomDataEnv(t *testing.T, rooms protocol.RoomData) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(rooms)
	if err != nil {
		t.Fatalf("marshaling room data: %v", err)
	}
	return protocol.Envelope{MsgType: protocol.MsgRoomData, MsgData: data}
}

func snapshotUpdate(peers ...string) protocol.RoomUpdate {
	list := make(map[string]protocol.Occupant, len(peers))
	for _, p := range peers {
		list[p] = protocol.Occupant{Username: "user-" + p}
	}
	return protocol.RoomUpdate{ClientList: list}
}

func TestRoomData_SnapshotReplacesRoster(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("a", "b")}))
	if len(m.rosters["lobby"]) != 2 {
		t.Fatalf("expected 2 occupants, got %d", len(m.rosters["lobby"]))
	}

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("c")}))
	roster := m.rosters["lobby"]
	if len(roster) != 1 {
		t.Fatalf("snapshot must replace wholesale, got %d occupants", len(roster))
	}
	if _, present := roster["c"]; !present {
		t.Error("expected occupant c after snapshot")
	}
}

func TestRoomData_DeltaMergesKnownFields(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": {
		ClientList: map[string]protocol.Occupant{
			"a": {Username: "alice", JoinTime: 111},
			"b": {Username: "bob"},
		},
	}}))

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": {
		Delta: &protocol.RoomDelta{
			UpdateClient: map[string]protocol.Occupant{
				"a": {Presence: &protocol.Presence{Show: "away"}},
			},
			RemoveClient: map[string]struct{}{"b": {}},
		},
	}}))

	roster := m.rosters["lobby"]
	if _, present := roster["b"]; present {
		t.Error("expected occupant b removed")
	}
	a := roster["a"]
	if a.Username != "alice" || a.JoinTime != 111 {
		t.Errorf("delta must preserve untouched fields, got %+v", a)
	}
	if a.Presence == nil || a.Presence.Show != "away" {
		t.Errorf("delta must merge presence, got %+v", a.Presence)
	}
}

func TestRoomData_DeltaForUnknownRoomCreatesRoster(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"fresh": {
		Delta: &protocol.RoomDelta{
			UpdateClient: map[string]protocol.Occupant{"x": {Username: "xavi"}},
		},
	}}))

	if m.rosters["fresh"]["x"].Username != "xavi" {
		t.Errorf("expected occupant x in fresh room, got %+v", m.rosters["fresh"])
	}
}

func TestLostPeer_SessionHungUpExactlyOnce(t *testing.T) {
	m, sig, _ := newTestManager(t, nil)

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("self", "peer-b")}))
	startCall(t, m, "peer-b", Callbacks{})
	m.handleAnswer(answerEnv("peer-b"))

	// peer-b disappears from its only room.
	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("self")}))

	if len(sig.byType(protocol.MsgHangup)) != 1 {
		t.Fatalf("expected 1 hangup, got %d", len(sig.byType(protocol.MsgHangup)))
	}
	if len(sig.byType(protocol.MsgCancel)) != 0 {
		t.Error("a live session must end with hangup, not cancellation")
	}
	if _, exists := m.sessions["peer-b"]; exists {
		t.Error("expected session removed")
	}
}

func TestLostPeer_PendingOfferCancelled(t *testing.T) {
	m, sig, _ := newTestManager(t, func(o *Options) {
		o.OnIncomingCall = func(string, func(bool)) {} // keep the offer queued
	})

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("self", "peer-x")}))
	m.handleOffer(offerEnv("peer-x"))
	m.handleRemoteCandidate(candidateEnv("peer-x", "early"))

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("self")}))

	if len(sig.byType(protocol.MsgCancel)) != 1 {
		t.Fatalf("expected 1 cancellation, got %d", len(sig.byType(protocol.MsgCancel)))
	}
	if len(sig.byType(protocol.MsgHangup)) != 0 {
		t.Error("a pending offer must end with cancellation, not hangup")
	}
	if _, queued := m.pendingOffers["peer-x"]; queued {
		t.Error("expected queued offer purged")
	}
	if len(m.queuedCandidates["peer-x"]) != 0 {
		t.Error("expected buffered candidates purged")
	}
}

func TestLostPeer_StillPresentElsewhereSurvives(t *testing.T) {
	m, sig, _ := newTestManager(t, nil)

	m.handleRoomData(roomDataEnv(t, protocol.RoomData{
		"lobby": snapshotUpdate("self", "peer-b"),
		"dev":   snapshotUpdate("peer-b"),
	}))
	startCall(t, m, "peer-b", Callbacks{})
	m.handleAnswer(answerEnv("peer-b"))

	// Gone from lobby, still in dev.
	m.handleRoomData(roomDataEnv(t, protocol.RoomData{"lobby": snapshotUpdate("self")}))

	if len(sig.byType(protocol.MsgHangup)) != 0 {
		t.Error("peer present in another room must not be hung up")
	}
	if _, exists := m.sessions["peer-b"]; !exists {
		t.Error("expected session to survive")
	}
}

func TestRosterNotify_CoalescesUntilFlush(t *testing.T) {
	var notified int
	m, _, _ := newTestManager(t, func(o *Options) {
		o.OnRoomOccupants = func(string, map[string]protocol.Occupant) { notified++ }
	})
	m.rosters["lobby"] = map[string]protocol.Occupant{"a": {Username: "alice"}}

	m.notifyRoomChanged("lobby")
	m.notifyRoomChanged("lobby")
	if notified != 0 {
		t.Fatalf("expected no notification before flush, got %d", notified)
	}

	m.flushRoomNotify("lobby")
	if notified != 1 {
		t.Fatalf("expected 1 coalesced notification, got %d", notified)
	}

	// Nothing pending, nothing delivered.
	m.flushRoomNotify("lobby")
	if notified != 1 {
		t.Errorf("flush without pending changes must not notify, got %d", notified)
	}
}

func TestRosterNotify_BurstCapForcesFlush(t *testing.T) {
	var notified int
	m, _, _ := newTestManager(t, func(o *Options) {
		o.OnRoomOccupants = func(string, map[string]protocol.Occupant) { notified++ }
	})
	m.rosters["lobby"] = map[string]protocol.Occupant{"a": {}}

	for i := 0; i < rosterNotifyBurst-1; i++ {
		m.notifyRoomChanged("lobby")
	}
	if notified != 0 {
		t.Fatalf("expected no notification below the burst cap, got %d", notified)
	}

	m.notifyRoomChanged("lobby")
	if notified != 1 {
		t.Fatalf("expected burst cap to force a flush, got %d", notified)
	}
}

func TestRosterNotify_DeliversSnapshotCopy(t *testing.T) {
	var got map[string]protocol.Occupant
	m, _, _ := newTestManager(t, func(o *Options) {
		o.OnRoomOccupants = func(_ string, occ map[string]protocol.Occupant) { got = occ }
	})
	m.rosters["lobby"] = map[string]protocol.Occupant{"a": {Username: "alice"}}

	m.notifyRoomChanged("lobby")
	m.flushRoomNotify("lobby")

	if got == nil || got["a"].Username != "alice" {
		t.Fatalf("expected roster snapshot, got %+v", got)
	}
	delete(got, "a")
	if _, present := m.rosters["lobby"]["a"]; !present {
		t.Error("observer mutation leaked into the live roster")
	}
}
