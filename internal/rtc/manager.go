// Package rtc is the control plane of the client: it owns the peer session
// table and room rosters, drives offer/answer/candidate negotiation over
// the signaling channel and the native transport, and keeps the local
// mirror of room membership synchronized with the server.
package rtc

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/peerwave/peerwave/internal/signaling"
	"github.com/peerwave/peerwave/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	// Offer creation is deferred briefly so session setup (tracks, data
	// channel) settles before the description is generated.
	offerSettleDelay = 100 * time.Millisecond

	// Occupant-change notifications for a room are coalesced within this
	// window, capped so a chatty server cannot starve the observer.
	rosterNotifyWindow = 100 * time.Millisecond
	rosterNotifyBurst  = 20

	// Config deltas are deferred so same-tick mutations ship as one update.
	configFlushDelay = 10 * time.Millisecond

	inboundBuffer = 100
)

// Signaler is the reliable message bus to the relay server.
type Signaler interface {
	Emit(env protocol.Envelope, ack func(protocol.Envelope)) error
	Close() error
}

// CallJournal persists finished call attempts. Optional.
type CallJournal interface {
	RecordCall(peerID, role, outcome string, startedAt, endedAt time.Time, degraded time.Duration) error
}

// Target narrows delivery of an outbound peer message. Set fields combine
// via logical AND on the server.
type Target struct {
	PeerID string
	Room   string
	Group  string
}

// Options configures a Manager.
type Options struct {
	Signal  Signaler
	Factory transport.Factory
	Journal CallJournal
	Logger  *logrus.Logger

	// ChunkLimit is the largest data-channel message sent unfragmented.
	ChunkLimit int

	// AutoProvisionMedia attaches local media to outgoing calls that did
	// not name explicit streams.
	AutoProvisionMedia bool

	// CandidateFilter vetoes connectivity-path descriptors, both local and
	// remote. A vetoed candidate is logged and dropped; the session survives.
	CandidateFilter func(protocol.Candidate) bool

	// OnIncomingCall decides whether to accept an inbound offer. The
	// decision may be deferred: the offer stays queued until accept is
	// invoked. A nil OnIncomingCall accepts immediately.
	OnIncomingCall func(peerID string, accept func(bool))

	// OnRoomOccupants observes coalesced roster changes.
	OnRoomOccupants func(room string, occupants map[string]protocol.Occupant)

	// OnPeerMessage observes application messages from peers, whether they
	// arrived over the data channel or the signaling relay.
	OnPeerMessage func(peerID string, msgType protocol.MsgType, data json.RawMessage)

	// OnDegraded and OnRecovered report transient connectivity loss.
	OnDegraded  func(peerID string)
	OnRecovered func(peerID string, degradedFor time.Duration)

	OnRemoteHangup func(peerID string)

	// OnError is the generic reporter for errors with no caller-supplied
	// failure callback.
	OnError func(code protocol.ErrorCode, text string)
}

type inbound struct {
	assignID  chan protocol.Envelope
	offer     chan protocol.Envelope
	answer    chan protocol.Envelope
	candidate chan protocol.Envelope
	reject    chan protocol.Envelope
	hangup    chan protocol.Envelope
	cancel    chan protocol.Envelope
	roomData  chan protocol.Envelope
	appMsg    chan protocol.Envelope
}

func newInbound() inbound {
	mk := func() chan protocol.Envelope { return make(chan protocol.Envelope, inboundBuffer) }
	return inbound{
		assignID:  mk(),
		offer:     mk(),
		answer:    mk(),
		candidate: mk(),
		reject:    mk(),
		hangup:    mk(),
		cancel:    mk(),
		roomData:  mk(),
		appMsg:    mk(),
	}
}

// Manager owns all mutable control-plane state for one client connection.
// Construct on connect, Stop on disconnect; there are no package globals.
// Every mutation happens on the single run loop goroutine.
type Manager struct {
	log     *logrus.Logger
	signal  Signaler
	factory transport.Factory
	journal CallJournal
	opts    Options

	selfID string

	sessions          map[string]*PeerSession
	pendingOffers     map[string]protocol.Offer
	pendingAcceptance map[string]bool
	// Inbound candidates that arrived before their session existed.
	queuedCandidates map[string][]protocol.Candidate

	rosters      map[string]map[string]protocol.Occupant
	roomNotifies map[string]*roomNotify

	selfState   map[string]any
	lastShipped map[string]any
	configTimer *Timer

	in       inbound
	tasks    chan func()
	done     chan struct{}
	started  atomic.Bool
	loopGID  atomic.Uint64
	stopOnce sync.Once
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ChunkLimit <= 0 {
		opts.ChunkLimit = 16384
	}
	m := &Manager{
		log:               opts.Logger,
		signal:            opts.Signal,
		factory:           opts.Factory,
		journal:           opts.Journal,
		opts:              opts,
		sessions:          make(map[string]*PeerSession),
		pendingOffers:     make(map[string]protocol.Offer),
		pendingAcceptance: make(map[string]bool),
		queuedCandidates:  make(map[string][]protocol.Candidate),
		rosters:           make(map[string]map[string]protocol.Occupant),
		roomNotifies:      make(map[string]*roomNotify),
		selfState:         make(map[string]any),
		in:                newInbound(),
		tasks:             make(chan func(), inboundBuffer),
		done:              make(chan struct{}),
	}
	m.configTimer = m.newTimer(m.flushConfig)
	return m
}

// BindRouter registers the manager's inbound channels on the signaling
// router. Call before Channel.Start.
func (m *Manager) BindRouter(r *signaling.Router) {
	r.AddRoute(m.in.assignID, signaling.MatchType(protocol.MsgAssignID))
	r.AddRoute(m.in.offer, signaling.MatchType(protocol.MsgOffer))
	r.AddRoute(m.in.answer, signaling.MatchType(protocol.MsgAnswer))
	r.AddRoute(m.in.candidate, signaling.MatchType(protocol.MsgCandidate))
	r.AddRoute(m.in.reject, signaling.MatchType(protocol.MsgReject))
	r.AddRoute(m.in.hangup, signaling.MatchType(protocol.MsgHangup))
	r.AddRoute(m.in.cancel, signaling.MatchType(protocol.MsgCancel))
	r.AddRoute(m.in.roomData, signaling.MatchType(protocol.MsgRoomData))
	r.SetFallback(m.in.appMsg)
}

// Start launches the run loop.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run()
}

// Stop tears down every session, drops all state, and halts the loop. Safe
// to call more than once, and on a manager that was never started.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if !m.started.Load() {
			close(m.done)
			return
		}
		_ = m.call(func() error {
			for peerID := range m.sessions {
				m.teardownPeer(peerID, "shutdown")
			}
			m.rosters = make(map[string]map[string]protocol.Occupant)
			m.pendingOffers = make(map[string]protocol.Offer)
			m.pendingAcceptance = make(map[string]bool)
			m.queuedCandidates = make(map[string][]protocol.Candidate)
			for _, n := range m.roomNotifies {
				n.timer.Cancel()
			}
			m.configTimer.Cancel()
			return nil
		})
		close(m.done)
	})
}

func (m *Manager) run() {
	m.loopGID.Store(goroutineID())
	for {
		select {
		case <-m.done:
			return
		case f := <-m.tasks:
			f()
		case env := <-m.in.assignID:
			m.handleAssignID(env)
		case env := <-m.in.offer:
			m.handleOffer(env)
		case env := <-m.in.answer:
			m.handleAnswer(env)
		case env := <-m.in.candidate:
			m.handleRemoteCandidate(env)
		case env := <-m.in.reject:
			m.handleReject(env)
		case env := <-m.in.hangup:
			m.handleRemoteHangup(env)
		case env := <-m.in.cancel:
			m.handleRemoteCancel(env)
		case env := <-m.in.roomData:
			m.handleRoomData(env)
		case env := <-m.in.appMsg:
			m.handleAppMessage(env)
		}
	}
}

func (m *Manager) handleAssignID(env protocol.Envelope) {
	var assign protocol.AssignID
	if err := json.Unmarshal(env.MsgData, &assign); err != nil || assign.PeerID == "" {
		m.log.Warnf("Malformed id assignment from server")
		return
	}
	m.selfID = assign.PeerID
	m.log.Infof("Got peer id from server: %s", m.selfID)
}

func (m *Manager) handleAppMessage(env protocol.Envelope) {
	if env.SenderPeerID == "" {
		m.log.Warnf("Dropping relayed message of type %q with no sender", env.MsgType)
		return
	}
	if m.opts.OnPeerMessage != nil {
		m.opts.OnPeerMessage(env.SenderPeerID, env.MsgType, env.MsgData)
	}
}

// SelfID returns the server-assigned peer id, empty until assignment.
func (m *Manager) SelfID() string {
	var id string
	_ = m.call(func() error {
		id = m.selfID
		return nil
	})
	return id
}

// reportError routes an error to the generic reporter.
func (m *Manager) reportError(code protocol.ErrorCode, text string) {
	m.log.Errorf("%s: %s", code, text)
	if m.opts.OnError != nil {
		m.opts.OnError(code, text)
	}
}

// connEvents adapts native-transport callbacks onto the run loop. The
// callbacks fire on transport goroutines; nothing touches manager state
// until the posted closure runs.
func (m *Manager) connEvents(peerID string) transport.Events {
	return transport.Events{
		OnCandidate: func(c protocol.Candidate) {
			m.post(func() { m.handleLocalCandidate(peerID, c) })
		},
		OnConnState: func(s transport.ConnState) {
			m.post(func() { m.handleConnState(peerID, s) })
		},
		OnDataChannelOpen: func() {
			m.post(func() { m.handleDataChannelOpen(peerID) })
		},
		OnDataChannelClose: func() {
			m.post(func() { m.handleDataChannelClose(peerID) })
		},
		OnDataChannelMessage: func(data []byte) {
			m.post(func() { m.handleDataChannelMessage(peerID, data) })
		},
		OnRemoteStreamAdded: func(streamID, kind string) {
			m.post(func() { m.handleRemoteStreamAdded(peerID, streamID, kind) })
		},
		OnRemoteStreamGone: func(streamID string) {
			m.post(func() { m.handleRemoteStreamGone(peerID, streamID) })
		},
	}
}
