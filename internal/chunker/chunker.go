// Package chunker fragments data-channel payloads that exceed the
// transport's per-message limit and reassembles inbound fragment streams.
// The protocol carries no sequence numbers; it relies on the data channel
// preserving order.
package chunker

import (
	"encoding/json"
	"fmt"

	"github.com/peerwave/peerwave/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Splitter fragments outbound payloads for one peer. Transfer identifiers
// are "<peerID>-<counter>"; the counter is local and monotonic, so ids are
// unique per sender and cannot collide across senders.
type Splitter struct {
	peerID  string
	limit   int
	counter uint64

	// OnProgress, when set, observes (partsSent, partsTotal) after every
	// emitted fragment.
	OnProgress func(sent, total int)
}

func NewSplitter(peerID string, limit int) *Splitter {
	return &Splitter{peerID: peerID, limit: limit}
}

// Send delivers payload through emit. Payloads within the limit go out as a
// single message untouched; larger ones are framed as start, ordered data
// chunks, and end on the same channel.
func (s *Splitter) Send(payload []byte, emit func([]byte) error) error {
	if len(payload) <= s.limit {
		return emit(payload)
	}

	s.counter++
	id := fmt.Sprintf("%s-%d", s.peerID, s.counter)
	parts := (len(payload) + s.limit - 1) / s.limit

	start, err := protocol.EncodeFrame(protocol.MsgChunkStart, protocol.ChunkStart{ID: id, Parts: parts})
	if err != nil {
		return err
	}
	if err := emit(start); err != nil {
		return err
	}

	for i := 0; i < parts; i++ {
		lo := i * s.limit
		hi := lo + s.limit
		if hi > len(payload) {
			hi = len(payload)
		}
		frame, err := protocol.EncodeFrame(protocol.MsgChunkData, protocol.ChunkData{ID: id, Data: payload[lo:hi]})
		if err != nil {
			return err
		}
		if err := emit(frame); err != nil {
			return err
		}
		if s.OnProgress != nil {
			s.OnProgress(i+1, parts)
		}
	}

	end, err := protocol.EncodeFrame(protocol.MsgChunkEnd, protocol.ChunkEnd{ID: id})
	if err != nil {
		return err
	}
	return emit(end)
}

type transfer struct {
	id     string
	parts  int
	chunks [][]byte
}

// Assembler reassembles inbound fragment streams for one peer. At most one
// transfer is open at a time; a new start discards any incomplete one.
// Partial data is never surfaced: every validation failure discards the
// transfer (or the single offending chunk) and the session survives.
type Assembler struct {
	peerID string
	limit  int
	log    *logrus.Logger
	open   *transfer
}

func NewAssembler(peerID string, limit int, log *logrus.Logger) *Assembler {
	return &Assembler{peerID: peerID, limit: limit, log: log}
}

// Receive processes one inbound data-channel message. Non-transfer messages
// are returned unchanged with delivered=true. Transfer control messages are
// consumed internally; a completed transfer returns the reassembled payload.
func (a *Assembler) Receive(raw []byte) (payload []byte, delivered bool) {
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		a.log.Warnf("Dropping undecodable message from %s: %v", a.peerID, err)
		return nil, false
	}

	switch frame.MsgType {
	case protocol.MsgChunkStart:
		a.handleStart(frame)
		return nil, false
	case protocol.MsgChunkData:
		a.handleChunk(frame)
		return nil, false
	case protocol.MsgChunkEnd:
		return a.handleEnd(frame)
	default:
		return raw, true
	}
}

func (a *Assembler) handleStart(frame protocol.DataFrame) {
	var start protocol.ChunkStart
	if err := unmarshalData(frame, &start); err != nil || start.ID == "" || start.Parts <= 0 {
		a.log.Warnf("Dropping malformed chunk start from %s", a.peerID)
		return
	}
	if a.open != nil {
		a.log.Warnf("Peer %s started transfer %s over incomplete %s, discarding old", a.peerID, start.ID, a.open.id)
	}
	a.open = &transfer{id: start.ID, parts: start.Parts}
}

func (a *Assembler) handleChunk(frame protocol.DataFrame) {
	var chunk protocol.ChunkData
	if err := unmarshalData(frame, &chunk); err != nil {
		a.log.Warnf("Dropping malformed chunk from %s", a.peerID)
		return
	}
	// A bad chunk is dropped alone; the transfer stays open so a stray
	// chunk cannot abort an otherwise healthy stream.
	if a.open == nil {
		a.log.Warnf("Dropping chunk from %s with no open transfer", a.peerID)
		return
	}
	if chunk.ID != a.open.id {
		a.log.Warnf("Dropping chunk from %s for unknown transfer %s", a.peerID, chunk.ID)
		return
	}
	if len(chunk.Data) > a.limit {
		a.log.Warnf("Dropping oversize chunk (%d bytes) from %s", len(chunk.Data), a.peerID)
		return
	}
	if len(a.open.chunks) >= a.open.parts {
		a.log.Warnf("Dropping overflow chunk from %s for transfer %s", a.peerID, chunk.ID)
		return
	}
	a.open.chunks = append(a.open.chunks, chunk.Data)
}

func (a *Assembler) handleEnd(frame protocol.DataFrame) ([]byte, bool) {
	var end protocol.ChunkEnd
	if err := unmarshalData(frame, &end); err != nil {
		a.log.Warnf("Dropping malformed chunk end from %s", a.peerID)
		return nil, false
	}
	if a.open == nil {
		a.log.Warnf("Ignoring chunk end from %s with no open transfer", a.peerID)
		return nil, false
	}
	open := a.open
	a.open = nil
	if end.ID != open.id {
		a.log.Warnf("Discarding transfer %s from %s: end names %s", open.id, a.peerID, end.ID)
		return nil, false
	}
	if len(open.chunks) != open.parts {
		a.log.Warnf("Discarding transfer %s from %s: got %d of %d parts", open.id, a.peerID, len(open.chunks), open.parts)
		return nil, false
	}

	size := 0
	for _, c := range open.chunks {
		size += len(c)
	}
	payload := make([]byte, 0, size)
	for _, c := range open.chunks {
		payload = append(payload, c...)
	}
	return payload, true
}

// Reset drops any incomplete transfer, for session teardown.
func (a *Assembler) Reset() {
	a.open = nil
}

func unmarshalData(frame protocol.DataFrame, v any) error {
	if frame.MsgData == nil {
		return fmt.Errorf("missing msgData")
	}
	return json.Unmarshal(frame.MsgData, v)
}
