package rtc

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/peerwave/peerwave/internal/transport"
)

// fakeSignaler records emitted envelopes and, when acks is set, delivers
// acknowledgments synchronously.
type fakeSignaler struct {
	mu      sync.Mutex
	emitted []protocol.Envelope
	acks    bool
	failing bool
}

func (f *fakeSignaler) Emit(env protocol.Envelope, ack func(protocol.Envelope)) error {
	f.mu.Lock()
	failing := f.failing
	if !failing {
		f.emitted = append(f.emitted, env)
	}
	f.mu.Unlock()
	if failing {
		return errors.New("signaler down")
	}
	if f.acks && ack != nil {
		ack(protocol.Envelope{MsgType: protocol.MsgAck})
	}
	return nil
}

func (f *fakeSignaler) Close() error { return nil }

func (f *fakeSignaler) setFailing(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

func (f *fakeSignaler) byType(mt protocol.MsgType) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.emitted {
		if env.MsgType == mt {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeSignaler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}

// fakeConn is a scriptable native session.
type fakeConn struct {
	mu         sync.Mutex
	peerID     string
	closed     bool
	dataLabel  string
	localDesc  transport.SessionDescription
	remoteDesc transport.SessionDescription
	candidates []protocol.Candidate
	sent       [][]byte
	media      [][]string

	failOffer  bool
	failAnswer bool
	failSend   bool
}

func (c *fakeConn) CreateOffer() (transport.SessionDescription, error) {
	if c.failOffer {
		return transport.SessionDescription{}, errors.New("offer refused")
	}
	return transport.SessionDescription{Type: "offer", SDP: "offer-sdp"}, nil
}

func (c *fakeConn) CreateAnswer() (transport.SessionDescription, error) {
	if c.failAnswer {
		return transport.SessionDescription{}, errors.New("answer refused")
	}
	return transport.SessionDescription{Type: "answer", SDP: "answer-sdp"}, nil
}

func (c *fakeConn) SetLocalDescription(d transport.SessionDescription) error {
	c.mu.Lock()
	c.localDesc = d
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetRemoteDescription(d transport.SessionDescription) error {
	c.mu.Lock()
	c.remoteDesc = d
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) AddCandidate(cand protocol.Candidate) error {
	c.mu.Lock()
	c.candidates = append(c.candidates, cand)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) CreateDataChannel(label string) error {
	c.mu.Lock()
	c.dataLabel = label
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SendData(data []byte) error {
	if c.failSend {
		return errors.New("channel down")
	}
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) AttachLocalMedia(streamNames []string) error {
	c.mu.Lock()
	c.media = append(c.media, streamNames)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) gotRemote() transport.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDesc
}

func (c *fakeConn) appliedCandidates() []protocol.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Candidate(nil), c.candidates...)
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// fakeFactory hands out fakeConns and remembers the event hooks so tests
// can fire transport callbacks.
type fakeFactory struct {
	mu     sync.Mutex
	conns  map[string]*fakeConn
	events map[string]transport.Events
	order  []*fakeConn
	fail   bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		conns:  make(map[string]*fakeConn),
		events: make(map[string]transport.Events),
	}
}

func (f *fakeFactory) NewConn(peerID string, ev transport.Events) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("native layer unavailable")
	}
	c := &fakeConn{peerID: peerID}
	f.conns[peerID] = c
	f.events[peerID] = ev
	f.order = append(f.order, c)
	return c, nil
}

func (f *fakeFactory) conn(peerID string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[peerID]
}

type journalEntry struct {
	peerID  string
	role    string
	outcome string
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (j *fakeJournal) RecordCall(peerID, role, outcome string, startedAt, endedAt time.Time, degraded time.Duration) error {
	j.mu.Lock()
	j.entries = append(j.entries, journalEntry{peerID: peerID, role: role, outcome: outcome})
	j.mu.Unlock()
	return nil
}

func (j *fakeJournal) all() []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journalEntry(nil), j.entries...)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newTestManager builds a manager for direct-mode tests: the run loop is
// not started and handlers are invoked from the test goroutine. Deferred
// work lands on the task queue and is executed with drainTasks.
func newTestManager(t *testing.T, mutate func(*Options)) (*Manager, *fakeSignaler, *fakeFactory) {
	t.Helper()
	sig := &fakeSignaler{acks: true}
	fac := newFakeFactory()
	opts := Options{
		Signal:     sig,
		Factory:    fac,
		Logger:     quietLogger(),
		ChunkLimit: 64,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := NewManager(opts)
	m.selfID = "self"
	return m, sig, fac
}

// drainTasks runs everything queued on the loop, like one scheduler pass.
func drainTasks(m *Manager) {
	for {
		select {
		case f := <-m.tasks:
			f()
		default:
			return
		}
	}
}

// startCall initiates a call and fires the offer-settle timer immediately.
func startCall(t *testing.T, m *Manager, peerID string, cb Callbacks) *Attempt {
	t.Helper()
	attempt, err := m.initiate(peerID, nil, cb)
	if err != nil {
		t.Fatalf("initiate(%s) failed: %v", peerID, err)
	}
	sess := m.sessions[peerID]
	sess.offerTimer.Cancel()
	m.sendOffer(peerID)
	drainTasks(m)
	return attempt
}

func offerEnv(sender string) protocol.Envelope {
	env := protocol.BuildOfferEnvelope("self", "remote-offer-sdp")
	env.SenderPeerID = sender
	return env
}

func answerEnv(sender string) protocol.Envelope {
	env := protocol.BuildAnswerEnvelope("self", "remote-answer-sdp")
	env.SenderPeerID = sender
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
