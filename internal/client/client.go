// Package client assembles a running peerwave client: configuration,
// signaling channel, native transport factory, session manager, and the
// call journal.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerwave/peerwave/internal/config"
	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/peerwave/peerwave/internal/rtc"
	"github.com/peerwave/peerwave/internal/signaling"
	"github.com/peerwave/peerwave/internal/store"
	"github.com/peerwave/peerwave/internal/transport"
)

type Options struct {
	Config *config.Config
	Logger *logrus.Logger

	// Media supplies already-acquired local tracks. Nil means data-only.
	Media transport.MediaSource

	OnIncomingCall  func(peerID string, accept func(bool))
	OnRoomOccupants func(room string, occupants map[string]protocol.Occupant)
	OnPeerMessage   func(peerID string, msgType protocol.MsgType, data json.RawMessage)
	OnRemoteHangup  func(peerID string)
}

type Client struct {
	Cfg     *config.Config
	Log     *logrus.Logger
	Channel *signaling.Channel
	Manager *rtc.Manager
	Journal *store.CallStore
}

// New connects to the signaling server and starts the session manager.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	log := opts.Logger

	var journal *store.CallStore
	if cfg.Journal != "" {
		var err error
		journal, err = store.Open(cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("opening call journal: %w", err)
		}
	}

	channel, err := signaling.Dial(sessionURL(cfg), log)
	if err != nil {
		return nil, err
	}

	factory := transport.NewWebRTCFactory(cfg.WebRTC.STUNServers, opts.Media, log)

	mgrOpts := rtc.Options{
		Signal:          channel,
		Factory:         factory,
		Logger:          log,
		ChunkLimit:      cfg.WebRTC.ChunkLimit,
		OnIncomingCall:  opts.OnIncomingCall,
		OnRoomOccupants: opts.OnRoomOccupants,
		OnPeerMessage:   opts.OnPeerMessage,
		OnRemoteHangup:  opts.OnRemoteHangup,
		OnError: func(code protocol.ErrorCode, text string) {
			log.Errorf("Signaling error %s: %s", code, text)
		},
	}
	if journal != nil {
		mgrOpts.Journal = journal
	}

	manager := rtc.NewManager(mgrOpts)
	manager.BindRouter(channel.Router())
	manager.Start()
	channel.Start()

	return &Client{
		Cfg:     cfg,
		Log:     log,
		Channel: channel,
		Manager: manager,
		Journal: journal,
	}, nil
}

// sessionURL carries identity and room membership as query parameters; the
// server joins the client to the named rooms on connect.
func sessionURL(cfg *config.Config) string {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return cfg.ServerURL
	}
	q := u.Query()
	q.Set("app", cfg.AppName)
	if cfg.Username != "" {
		q.Set("username", cfg.Username)
	}
	for _, room := range cfg.Rooms {
		q.Add("room", room)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// WaitForID blocks until the server assigns a peer id.
func (c *Client) WaitForID(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if id := c.Manager.SelfID(); id != "" {
			return id, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return "", fmt.Errorf("no peer id assigned within %s", timeout)
}

func (c *Client) Close() {
	c.Manager.Stop()
	_ = c.Channel.Close()
}
