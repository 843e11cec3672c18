package rtc

import (
	"time"

	"github.com/peerwave/peerwave/internal/chunker"
	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/peerwave/peerwave/internal/transport"
)

// Role distinguishes which side of the offer/answer exchange we are on.
type Role int

const (
	RoleInitiator Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleAnswerer {
		return "answerer"
	}
	return "initiator"
}

// SessionState tracks negotiation progress for one peer session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateOutgoingOfferCreated
	StateAwaitingAcceptance
	StateIncomingOfferQueued
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingOfferCreated:
		return "outgoing-offer-created"
	case StateAwaitingAcceptance:
		return "awaiting-acceptance"
	case StateIncomingOfferQueued:
		return "incoming-offer-queued"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ResultKind tags the outcome of a call attempt.
type ResultKind int

const (
	ResultPending ResultKind = iota
	ResultAccepted
	ResultRejected
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultAccepted:
		return "accepted"
	case ResultRejected:
		return "rejected"
	case ResultFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Result is the resolved outcome of an attempt.
type Result struct {
	Kind   ResultKind
	Code   protocol.ErrorCode
	Reason string
}

// Attempt is the completion signal handed to the caller: Done closes exactly
// once, when the attempt resolves to Accepted, Rejected, or Failed.
type Attempt struct {
	PeerID string

	done   chan struct{}
	result Result
}

func newAttempt(peerID string) *Attempt {
	return &Attempt{PeerID: peerID, done: make(chan struct{})}
}

func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the outcome, or a Pending result while Done is open.
func (a *Attempt) Result() Result {
	select {
	case <-a.done:
		return a.result
	default:
		return Result{Kind: ResultPending}
	}
}

// Callbacks is the caller-supplied notification set for one attempt.
// OnAccepted fires exactly once per attempt, before any OnReady.
type Callbacks struct {
	OnReady    func(kind string)
	OnFailure  func(code protocol.ErrorCode, text string)
	OnAccepted func(accepted bool)
}

// PeerSession is the per-peer negotiation record. One exists per remote
// peer while a call attempt is pending or connected. All fields are owned
// by the manager's run loop.
type PeerSession struct {
	peerID string
	role   Role
	state  SessionState
	conn   transport.Conn

	// Locally generated candidates held back until the attempt is
	// accepted; flushed exactly once, never replayed.
	candidateQueue []protocol.Candidate
	flushedQueue   bool
	accepted       bool
	acceptedFired  bool

	dataChannelReady bool
	sentPrime        bool
	gotPrime         bool

	remoteStreams map[string]string // stream id -> kind/name
	streamAcks    map[string]func() // per-stream acknowledgment callbacks

	failingSince  time.Time
	degradedTotal time.Duration
	startedAt     time.Time

	callbacks  Callbacks
	attempt    *Attempt
	offerTimer *Timer

	splitter  *chunker.Splitter
	assembler *chunker.Assembler
}

func (s *PeerSession) fireAccepted(accepted bool) {
	if s.acceptedFired {
		return
	}
	s.acceptedFired = true
	if accepted {
		s.accepted = true
	}
	if s.callbacks.OnAccepted != nil {
		s.callbacks.OnAccepted(accepted)
	}
}

// fireReady reports a usable media kind or data channel. Acceptance always
// precedes readiness, even if transport events race ahead.
func (s *PeerSession) fireReady(kind string) {
	if !s.acceptedFired {
		s.fireAccepted(true)
	}
	if s.callbacks.OnReady != nil {
		s.callbacks.OnReady(kind)
	}
}

func (s *PeerSession) resolve(result Result) {
	select {
	case <-s.attempt.done:
		return
	default:
	}
	s.attempt.result = result
	close(s.attempt.done)
}

// degradedFor totals time spent in a degraded connectivity state,
// including a still-open degradation window.
func (s *PeerSession) degradedFor(now time.Time) time.Duration {
	total := s.degradedTotal
	if !s.failingSince.IsZero() {
		total += now.Sub(s.failingSince)
	}
	return total
}
