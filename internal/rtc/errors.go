package rtc

import "errors"

// Developer-usage errors. These are returned synchronously so broken call
// sites fail fast instead of surfacing later as protocol noise.
var (
	ErrNotConnected   = errors.New("rtc: not connected to signaling server")
	ErrNotRunning     = errors.New("rtc: session manager is not running")
	ErrSelfCall       = errors.New("rtc: cannot call own peer id")
	ErrAlreadyCalling = errors.New("rtc: call attempt to this peer already pending")
	ErrUnknownPeer    = errors.New("rtc: no session or pending call for peer")
	ErrInvalidPeerID  = errors.New("rtc: empty peer id")
)
