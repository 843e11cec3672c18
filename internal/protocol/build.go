package protocol

import "encoding/json"

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload types marshal cleanly; a failure here is a
		// programming error.
		panic(err)
	}
	return data
}

func BuildOfferEnvelope(targetPeerID, sdp string) Envelope {
	return Envelope{
		MsgType:      MsgOffer,
		TargetPeerID: targetPeerID,
		MsgData:      mustRaw(Offer{SDP: sdp}),
	}
}

func BuildAnswerEnvelope(targetPeerID, sdp string) Envelope {
	return Envelope{
		MsgType:      MsgAnswer,
		TargetPeerID: targetPeerID,
		MsgData:      mustRaw(Answer{SDP: sdp}),
	}
}

func BuildCandidateEnvelope(targetPeerID string, c Candidate) Envelope {
	return Envelope{
		MsgType:      MsgCandidate,
		TargetPeerID: targetPeerID,
		MsgData:      mustRaw(c),
	}
}

func BuildRejectEnvelope(targetPeerID, reason string) Envelope {
	return Envelope{
		MsgType:      MsgReject,
		TargetPeerID: targetPeerID,
		MsgData:      mustRaw(Reject{Reason: reason}),
	}
}

func BuildHangupEnvelope(targetPeerID string) Envelope {
	return Envelope{MsgType: MsgHangup, TargetPeerID: targetPeerID}
}

func BuildCancelEnvelope(targetPeerID string) Envelope {
	return Envelope{MsgType: MsgCancel, TargetPeerID: targetPeerID}
}

func BuildClientUpdateEnvelope(delta any) Envelope {
	return Envelope{MsgType: MsgClientUpdate, MsgData: mustRaw(delta)}
}

// BuildAckEnvelope is the fixed acknowledgment payload returned to the
// server when an inbound envelope requests one.
func BuildAckEnvelope(ackID string) Envelope {
	return Envelope{MsgType: MsgAck, AckID: ackID}
}

// EncodeFrame serializes a data-channel frame.
func EncodeFrame(msgType MsgType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(DataFrame{MsgType: msgType, MsgData: raw})
}

// DecodeFrame parses a data-channel frame.
func DecodeFrame(raw []byte) (DataFrame, error) {
	var frame DataFrame
	err := json.Unmarshal(raw, &frame)
	return frame, err
}
