package rtc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/peerwave/peerwave/internal/chunker"
	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/peerwave/peerwave/internal/transport"
)

// Call starts a call attempt to peerID. streams names explicit local media;
// nil falls back to auto-provisioning when configured. The returned Attempt
// resolves exactly once. If an inbound offer from peerID is already queued,
// the call is treated as acceptance of that offer instead of creating a
// competing one.
func (m *Manager) Call(peerID string, streams []string, cb Callbacks) (*Attempt, error) {
	var attempt *Attempt
	err := m.call(func() error {
		var err error
		attempt, err = m.initiate(peerID, streams, cb)
		return err
	})
	return attempt, err
}

func (m *Manager) initiate(peerID string, streams []string, cb Callbacks) (*Attempt, error) {
	if peerID == "" {
		return nil, ErrInvalidPeerID
	}
	if m.selfID == "" {
		return nil, ErrNotConnected
	}
	if peerID == m.selfID {
		return nil, ErrSelfCall
	}
	if m.pendingAcceptance[peerID] {
		return nil, ErrAlreadyCalling
	}
	if _, exists := m.sessions[peerID]; exists {
		return nil, ErrAlreadyCalling
	}

	// Mutual simultaneous call: the peer's offer is already queued here, so
	// initiating is an implicit acceptance of it. No second offer goes out.
	if offer, queued := m.pendingOffers[peerID]; queued {
		m.log.Infof("Call to %s collides with their queued offer, answering it instead", peerID)
		sess, err := m.answerOffer(peerID, offer, streams, cb, nil)
		if err != nil {
			return nil, err
		}
		return sess.attempt, nil
	}

	sess, err := m.newSession(peerID, RoleInitiator, streams, cb)
	if err != nil {
		return nil, err
	}
	if err := sess.conn.CreateDataChannel("data"); err != nil {
		m.teardownPeer(peerID, "failed")
		return nil, fmt.Errorf("creating data channel: %w", err)
	}

	sess.state = StateIdle
	sess.offerTimer = m.newTimer(func() { m.sendOffer(peerID) })
	sess.offerTimer.Schedule(offerSettleDelay)
	return sess.attempt, nil
}

// newSession builds the native session and table entry shared by both roles.
func (m *Manager) newSession(peerID string, role Role, streams []string, cb Callbacks) (*PeerSession, error) {
	conn, err := m.factory.NewConn(peerID, m.connEvents(peerID))
	if err != nil {
		return nil, fmt.Errorf("creating native session: %w", err)
	}

	if len(streams) > 0 {
		err = conn.AttachLocalMedia(streams)
	} else if m.opts.AutoProvisionMedia {
		err = conn.AttachLocalMedia(nil)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("attaching local media: %w", err)
	}

	sess := &PeerSession{
		peerID:        peerID,
		role:          role,
		state:         StateIdle,
		conn:          conn,
		remoteStreams: make(map[string]string),
		streamAcks:    make(map[string]func()),
		startedAt:     time.Now(),
		callbacks:     cb,
		attempt:       newAttempt(peerID),
		splitter:      chunker.NewSplitter(m.selfID, m.opts.ChunkLimit),
		assembler:     chunker.NewAssembler(peerID, m.opts.ChunkLimit, m.log),
	}
	m.sessions[peerID] = sess
	return sess, nil
}

func (m *Manager) sendOffer(peerID string) {
	sess, exists := m.sessions[peerID]
	if !exists || sess.role != RoleInitiator || sess.state != StateIdle {
		// Torn down or glare-resolved while the settle timer was pending.
		return
	}

	desc, err := sess.conn.CreateOffer()
	if err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("creating offer: %v", err))
		return
	}
	if err := sess.conn.SetLocalDescription(desc); err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("setting local description: %v", err))
		return
	}

	sess.state = StateOutgoingOfferCreated
	m.pendingAcceptance[peerID] = true

	err = m.signal.Emit(protocol.BuildOfferEnvelope(peerID, desc.SDP), func(protocol.Envelope) {
		m.post(func() { m.offerDelivered(peerID) })
	})
	if err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("transmitting offer: %v", err))
	}
}

func (m *Manager) offerDelivered(peerID string) {
	sess, exists := m.sessions[peerID]
	if !exists || sess.role != RoleInitiator || sess.state != StateOutgoingOfferCreated {
		return
	}
	sess.state = StateAwaitingAcceptance
}

func (m *Manager) handleOffer(env protocol.Envelope) {
	sender := env.SenderPeerID
	if sender == "" {
		m.log.Warnf("Dropping offer with no sender")
		return
	}
	var offer protocol.Offer
	if err := json.Unmarshal(env.MsgData, &offer); err != nil {
		m.log.Warnf("Dropping malformed offer from %s: %v", sender, err)
		return
	}

	if sess, exists := m.sessions[sender]; exists {
		if sess.role == RoleInitiator && !sess.accepted {
			m.resolveGlare(sess, offer)
			return
		}
		m.log.Warnf("Dropping offer from %s: session already %s", sender, sess.state)
		return
	}

	m.pendingOffers[sender] = offer
	m.log.Infof("Queued inbound offer from %s", sender)

	if m.opts.OnIncomingCall == nil {
		if _, err := m.answerOffer(sender, offer, nil, Callbacks{}, nil); err != nil {
			m.log.Warnf("Failed to answer offer from %s: %v", sender, err)
		}
		return
	}

	decided := false
	m.opts.OnIncomingCall(sender, func(accept bool) {
		m.post(func() { m.decideOffer(sender, accept, &decided) })
	})
}

func (m *Manager) decideOffer(peerID string, accept bool, decided *bool) {
	if *decided {
		return
	}
	*decided = true

	offer, queued := m.pendingOffers[peerID]
	if !queued {
		// Consumed by a mutual call, cancelled, or the peer departed.
		return
	}
	if !accept {
		delete(m.pendingOffers, peerID)
		delete(m.queuedCandidates, peerID)
		err := m.signal.Emit(protocol.BuildRejectEnvelope(peerID, "declined"), nil)
		if err != nil {
			m.log.Warnf("Failed to send rejection to %s: %v", peerID, err)
		}
		return
	}
	if _, err := m.answerOffer(peerID, offer, nil, Callbacks{}, nil); err != nil {
		m.log.Warnf("Failed to answer offer from %s: %v", peerID, err)
	}
}

// resolveGlare handles both sides having sent offers before seeing each
// other's. The peer whose id compares greater abandons its outbound attempt
// and answers; the lesser peer ignores the incoming offer because its own
// will be answered remotely. Ids are unique, so the order is total.
func (m *Manager) resolveGlare(sess *PeerSession, offer protocol.Offer) {
	peerID := sess.peerID
	if m.selfID < peerID {
		m.log.Infof("Offer glare with %s: our offer wins, ignoring theirs", peerID)
		return
	}

	m.log.Infof("Offer glare with %s: yielding, answering their offer", peerID)
	cb := sess.callbacks
	attempt := sess.attempt
	m.abandonAttempt(sess)

	// The caller keeps observing its original completion signal.
	if _, err := m.answerOffer(peerID, offer, nil, cb, attempt); err != nil {
		m.log.Warnf("Failed to answer glare offer from %s: %v", peerID, err)
	}
}

// abandonAttempt silently drops an outbound attempt during glare
// resolution. No signaling goes out; the remote side never saw a session.
func (m *Manager) abandonAttempt(sess *PeerSession) {
	if sess.offerTimer != nil {
		sess.offerTimer.Cancel()
	}
	_ = sess.conn.Close()
	delete(m.sessions, sess.peerID)
	delete(m.pendingAcceptance, sess.peerID)
}

func (m *Manager) answerOffer(peerID string, offer protocol.Offer, streams []string, cb Callbacks, attempt *Attempt) (*PeerSession, error) {
	delete(m.pendingOffers, peerID)

	sess, err := m.newSession(peerID, RoleAnswerer, streams, cb)
	if err != nil {
		return nil, err
	}
	if attempt != nil {
		sess.attempt = attempt
	}

	if err := sess.conn.SetRemoteDescription(transport.SessionDescription{Type: "offer", SDP: offer.SDP}); err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("setting remote offer: %v", err))
		return nil, fmt.Errorf("setting remote offer: %w", err)
	}

	m.drainQueuedCandidates(sess)

	desc, err := sess.conn.CreateAnswer()
	if err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("creating answer: %v", err))
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	if err := sess.conn.SetLocalDescription(desc); err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("setting local description: %v", err))
		return nil, fmt.Errorf("setting local description: %w", err)
	}

	sess.state = StateConnecting
	sess.fireAccepted(true)
	sess.resolve(Result{Kind: ResultAccepted})

	err = m.signal.Emit(protocol.BuildAnswerEnvelope(peerID, desc.SDP), nil)
	if err != nil {
		m.failSession(sess, protocol.ErrCodeSendFailed, fmt.Sprintf("transmitting answer: %v", err))
		return nil, fmt.Errorf("transmitting answer: %w", err)
	}

	m.flushCandidateQueue(sess)
	return sess, nil
}

func (m *Manager) handleAnswer(env protocol.Envelope) {
	sender := env.SenderPeerID
	sess, exists := m.sessions[sender]
	if !exists || sess.role != RoleInitiator {
		m.log.Warnf("Dropping answer from %s with no outbound attempt", sender)
		return
	}
	var answer protocol.Answer
	if err := json.Unmarshal(env.MsgData, &answer); err != nil {
		m.log.Warnf("Dropping malformed answer from %s: %v", sender, err)
		return
	}

	delete(m.pendingAcceptance, sender)
	sess.fireAccepted(true)
	sess.resolve(Result{Kind: ResultAccepted})

	if err := sess.conn.SetRemoteDescription(transport.SessionDescription{Type: "answer", SDP: answer.SDP}); err != nil {
		m.failSession(sess, protocol.ErrCodeNoViablePath, fmt.Sprintf("setting remote answer: %v", err))
		return
	}

	sess.state = StateConnecting
	m.flushCandidateQueue(sess)
	m.drainQueuedCandidates(sess)
}

func (m *Manager) handleReject(env protocol.Envelope) {
	sender := env.SenderPeerID
	delete(m.pendingAcceptance, sender)

	sess, exists := m.sessions[sender]
	if !exists || sess.role != RoleInitiator {
		return
	}
	m.log.Infof("Call to %s was rejected", sender)
	sess.fireAccepted(false)
	sess.resolve(Result{Kind: ResultRejected, Code: protocol.ErrCodeCallRejected})
	m.teardownPeer(sender, "rejected")
}

// handleLocalCandidate buffers locally generated candidates until the
// attempt is accepted, then sends directly.
func (m *Manager) handleLocalCandidate(peerID string, cand protocol.Candidate) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}
	if m.opts.CandidateFilter != nil && !m.opts.CandidateFilter(cand) {
		m.log.Infof("Local candidate for %s vetoed by policy", peerID)
		return
	}
	if !sess.accepted {
		sess.candidateQueue = append(sess.candidateQueue, cand)
		return
	}
	m.emitCandidate(peerID, cand)
}

// flushCandidateQueue transmits the held-back candidates in submission
// order, exactly once per session.
func (m *Manager) flushCandidateQueue(sess *PeerSession) {
	if sess.flushedQueue {
		return
	}
	sess.flushedQueue = true
	for _, cand := range sess.candidateQueue {
		m.emitCandidate(sess.peerID, cand)
	}
	sess.candidateQueue = nil
}

func (m *Manager) emitCandidate(peerID string, cand protocol.Candidate) {
	if err := m.signal.Emit(protocol.BuildCandidateEnvelope(peerID, cand), nil); err != nil {
		m.log.Warnf("Failed to send candidate to %s: %v", peerID, err)
	}
}

func (m *Manager) handleRemoteCandidate(env protocol.Envelope) {
	sender := env.SenderPeerID
	var cand protocol.Candidate
	if err := json.Unmarshal(env.MsgData, &cand); err != nil {
		m.log.Warnf("Dropping malformed candidate from %s: %v", sender, err)
		return
	}
	if m.opts.CandidateFilter != nil && !m.opts.CandidateFilter(cand) {
		m.log.Infof("Remote candidate from %s vetoed by policy", sender)
		return
	}

	sess, exists := m.sessions[sender]
	if !exists {
		// May precede the session when the offer is still queued.
		m.queuedCandidates[sender] = append(m.queuedCandidates[sender], cand)
		return
	}
	if err := sess.conn.AddCandidate(cand); err != nil {
		m.log.Warnf("Failed to apply candidate from %s: %v", sender, err)
	}
}

func (m *Manager) drainQueuedCandidates(sess *PeerSession) {
	queued := m.queuedCandidates[sess.peerID]
	delete(m.queuedCandidates, sess.peerID)
	for _, cand := range queued {
		if err := sess.conn.AddCandidate(cand); err != nil {
			m.log.Warnf("Failed to apply buffered candidate from %s: %v", sess.peerID, err)
		}
	}
}

// Hangup ends a call or pending attempt with peerID. The peer is always
// notified over signaling; local teardown is unconditional even when the
// notification fails.
func (m *Manager) Hangup(peerID string) error {
	return m.call(func() error { return m.hangup(peerID) })
}

func (m *Manager) hangup(peerID string) error {
	_, hadSession := m.sessions[peerID]
	_, hadOffer := m.pendingOffers[peerID]
	hadAcceptance := m.pendingAcceptance[peerID]
	if !hadSession && !hadOffer && !hadAcceptance {
		return ErrUnknownPeer
	}

	if err := m.signal.Emit(protocol.BuildHangupEnvelope(peerID), nil); err != nil {
		m.log.Warnf("Failed to notify %s of hangup: %v", peerID, err)
	}
	m.teardownPeer(peerID, "hangup")
	return nil
}

func (m *Manager) handleRemoteHangup(env protocol.Envelope) {
	sender := env.SenderPeerID
	sess, exists := m.sessions[sender]
	_, offerQueued := m.pendingOffers[sender]
	if !exists && !offerQueued && !m.pendingAcceptance[sender] {
		return
	}
	m.log.Infof("Peer %s hung up", sender)
	if exists {
		sess.fireAccepted(false)
	}
	m.teardownPeer(sender, "remote-hangup")
	if m.opts.OnRemoteHangup != nil {
		m.opts.OnRemoteHangup(sender)
	}
}

func (m *Manager) handleRemoteCancel(env protocol.Envelope) {
	sender := env.SenderPeerID
	if _, queued := m.pendingOffers[sender]; !queued {
		return
	}
	m.log.Infof("Peer %s cancelled its pending offer", sender)
	delete(m.pendingOffers, sender)
	delete(m.queuedCandidates, sender)
}

func (m *Manager) handleConnState(peerID string, state transport.ConnState) {
	sess, exists := m.sessions[peerID]
	if !exists {
		return
	}
	m.log.Debugf("Connectivity with %s: %s", peerID, state)

	switch state {
	case transport.ConnFailed:
		// No viable path is terminal.
		m.failSession(sess, protocol.ErrCodeNoViablePath, "no viable connectivity path")

	case transport.ConnDisconnected:
		if sess.failingSince.IsZero() {
			sess.failingSince = time.Now()
			if m.opts.OnDegraded != nil {
				m.opts.OnDegraded(peerID)
			}
		}

	case transport.ConnConnected, transport.ConnCompleted:
		if !sess.failingSince.IsZero() {
			elapsed := time.Since(sess.failingSince)
			sess.degradedTotal += elapsed
			sess.failingSince = time.Time{}
			if m.opts.OnRecovered != nil {
				m.opts.OnRecovered(peerID, elapsed)
			}
		}
		sess.state = StateConnected

	case transport.ConnClosed:
		m.teardownPeer(peerID, "closed")
	}
}

// failSession reports a terminal transport failure and removes the session.
// The caller-supplied failure callback wins; the generic reporter is the
// fallback.
func (m *Manager) failSession(sess *PeerSession, code protocol.ErrorCode, text string) {
	m.log.Warnf("Session with %s failed: %s", sess.peerID, text)
	sess.resolve(Result{Kind: ResultFailed, Code: code, Reason: text})
	if sess.callbacks.OnFailure != nil {
		sess.callbacks.OnFailure(code, text)
	} else {
		m.reportError(code, fmt.Sprintf("peer %s: %s", sess.peerID, text))
	}
	sess.state = StateFailed
	m.teardownPeer(sess.peerID, "failed")
}

// teardownPeer removes every trace of peerID: session, pending offer and
// acceptance bookkeeping, and buffered candidates. Safe under re-entrancy;
// a second call for the same peer is a no-op.
func (m *Manager) teardownPeer(peerID, outcome string) {
	sess, hadSession := m.sessions[peerID]
	delete(m.sessions, peerID)
	delete(m.pendingOffers, peerID)
	delete(m.pendingAcceptance, peerID)
	delete(m.queuedCandidates, peerID)

	if !hadSession {
		return
	}
	if sess.offerTimer != nil {
		sess.offerTimer.Cancel()
	}
	sess.assembler.Reset()
	sess.resolve(Result{Kind: ResultFailed, Reason: outcome})
	if sess.state != StateFailed {
		sess.state = StateClosed
	}
	if err := sess.conn.Close(); err != nil {
		m.log.Debugf("Closing native session with %s: %v", peerID, err)
	}

	if m.journal != nil {
		now := time.Now()
		err := m.journal.RecordCall(peerID, sess.role.String(), outcome, sess.startedAt, now, sess.degradedFor(now))
		if err != nil {
			m.log.Warnf("Failed to journal call with %s: %v", peerID, err)
		}
	}
}
