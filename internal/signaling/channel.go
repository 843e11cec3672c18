package signaling

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Channel is the reliable message bus to the relay server. Outbound emits
// may request an acknowledgment; inbound envelopes are routed to subscriber
// channels. Delivery order is preserved per sender.
type Channel struct {
	conn   *websocket.Conn
	log    *logrus.Logger
	router *Router

	writeMu sync.Mutex

	ackMu sync.Mutex
	acks  map[string]func(protocol.Envelope)

	done chan struct{}
}

// Dial connects to the relay server. The caller wires routes on Router()
// before calling Start.
func Dial(serverURL string, log *logrus.Logger) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing signaling server: %w", err)
	}
	return &Channel{
		conn:   conn,
		log:    log,
		router: NewRouter(log),
		acks:   make(map[string]func(protocol.Envelope)),
		done:   make(chan struct{}),
	}, nil
}

func (c *Channel) Router() *Router {
	return c.router
}

// Start launches the reader. Routes must be registered before this point.
func (c *Channel) Start() {
	go c.listen()
}

func (c *Channel) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// Emit sends an envelope to the server. When ack is non-nil the envelope
// carries a correlation id and ack fires with the server's acknowledgment.
// A failed write is retried once before the error is surfaced.
func (c *Channel) Emit(env protocol.Envelope, ack func(protocol.Envelope)) error {
	if ack != nil {
		env.AckID = uuid.NewString()
		c.ackMu.Lock()
		c.acks[env.AckID] = ack
		c.ackMu.Unlock()
	}

	err := c.write(env)
	if err != nil {
		c.log.Warnf("Signaling write failed, retrying once: %v", err)
		err = c.write(env)
	}
	if err != nil && env.AckID != "" {
		c.ackMu.Lock()
		delete(c.acks, env.AckID)
		c.ackMu.Unlock()
	}
	return err
}

func (c *Channel) write(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Channel) listen() {
	defer func() { _ = c.Close() }()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warnf("Signaling read failed: %v", err)
			}
			return
		}

		if env.MsgType == protocol.MsgAck {
			c.resolveAck(env)
			continue
		}

		// The server may require an acknowledgment before it forwards
		// further traffic for this sender.
		if env.AckID != "" {
			if err := c.write(protocol.BuildAckEnvelope(env.AckID)); err != nil {
				c.log.Warnf("Failed to acknowledge %s: %v", env.MsgType, err)
			}
		}

		c.router.Route(env)
	}
}

func (c *Channel) resolveAck(env protocol.Envelope) {
	c.ackMu.Lock()
	ack, ok := c.acks[env.AckID]
	delete(c.acks, env.AckID)
	c.ackMu.Unlock()

	if !ok {
		c.log.Debugf("Acknowledgment for unknown id %q", env.AckID)
		return
	}
	ack(env)
}
