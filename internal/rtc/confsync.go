package rtc

import (
	"github.com/peerwave/peerwave/internal/delta"
	"github.com/peerwave/peerwave/internal/protocol"
)

// Config Sync ships the local client's own capability/state changes to the
// server as minimal deltas. Mutations within one tick coalesce into a
// single deferred flush; the reference snapshot only advances on an
// acknowledged send, so a lost update is re-diffed next flush.

// SetAPIField publishes an application-defined field on the local client.
func (m *Manager) SetAPIField(key string, value any) error {
	return m.call(func() error {
		m.mutateSelfState("apiFields", key, value)
		return nil
	})
}

// ClearAPIField removes a previously published field.
func (m *Manager) ClearAPIField(key string) error {
	return m.call(func() error {
		fields, ok := m.selfState["apiFields"].(map[string]any)
		if !ok {
			return nil
		}
		delete(fields, key)
		m.configTimer.Schedule(configFlushDelay)
		return nil
	})
}

// UpdatePresence publishes the local client's availability.
func (m *Manager) UpdatePresence(show, status string) error {
	return m.call(func() error {
		m.mutateSelfState("presence", "show", show)
		m.mutateSelfState("presence", "status", status)
		return nil
	})
}

func (m *Manager) mutateSelfState(scope, key string, value any) {
	sub, ok := m.selfState[scope].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		m.selfState[scope] = sub
	}
	sub[key] = value
	m.configTimer.Schedule(configFlushDelay)
}

func (m *Manager) flushConfig() {
	rec := delta.Diff(m.lastShipped, m.selfState)
	if rec == nil {
		return
	}

	snapshot := delta.Copy(m.selfState)
	err := m.signal.Emit(protocol.BuildClientUpdateEnvelope(rec), func(protocol.Envelope) {
		m.post(func() { m.lastShipped = snapshot })
	})
	if err != nil {
		// lastShipped stays put; the next flush re-diffs everything unsent.
		m.log.Warnf("Failed to ship config delta: %v", err)
	}
}
