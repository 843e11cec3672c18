// Package signaling maintains the client's connection to the relay server:
// an acknowledged websocket channel outbound and a router that fans inbound
// envelopes out to typed channels.
package signaling

import (
	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Router routes inbound envelopes to channels based on a match function.
// Matching sends do not drop: a full channel applies backpressure to the
// reader, preserving per-peer delivery order.
type Router struct {
	log      *logrus.Logger
	routes   []route
	fallback chan protocol.Envelope
}

type route struct {
	match func(protocol.Envelope) bool
	ch    chan protocol.Envelope
}

func NewRouter(log *logrus.Logger) *Router {
	return &Router{log: log}
}

func (r *Router) AddRoute(ch chan protocol.Envelope, match func(protocol.Envelope) bool) {
	r.routes = append(r.routes, route{match: match, ch: ch})
}

// MatchType builds a match function selecting any of the given types.
func MatchType(types ...protocol.MsgType) func(protocol.Envelope) bool {
	return func(env protocol.Envelope) bool {
		for _, t := range types {
			if env.MsgType == t {
				return true
			}
		}
		return false
	}
}

// SetFallback receives every envelope no route matched. Application-level
// peer messages relayed through the server arrive with their own msgType
// and land here.
func (r *Router) SetFallback(ch chan protocol.Envelope) {
	r.fallback = ch
}

func (r *Router) Route(env protocol.Envelope) {
	matched := false
	for _, rt := range r.routes {
		if !rt.match(env) {
			continue
		}
		matched = true
		rt.ch <- env
	}
	if matched {
		return
	}
	if r.fallback != nil {
		r.fallback <- env
		return
	}
	r.log.Debugf("No route for msgType %q", env.MsgType)
}
