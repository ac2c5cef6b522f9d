package network

import (
	"bytes"
	"encoding/json"
)

// Terminator closes every frame on the wire.
const Terminator byte = 0x04

// Message is the flat key/value object carried by one frame. Only the
// fields relevant to a command are populated.
type Message struct {
	Command     string `json:"command"`
	ID          int    `json:"id,omitempty"`
	State       string `json:"state,omitempty"`
	Order       string `json:"order,omitempty"`
	PrimaryID   int    `json:"primaryId,omitempty"`
	FaultyCount int    `json:"faultyCount,omitempty"`
	SenderID    int    `json:"senderId,omitempty"`
	Vote        *bool  `json:"vote,omitempty"`
	Round       string `json:"round,omitempty"`

	// Raw holds the frame payload when it could not be decoded.
	Raw []byte `json:"-"`
}

// Encode serializes m and appends the frame terminator.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, Terminator), nil
}

// Decode parses one frame payload (without terminator). On failure the
// returned Message carries the payload in Raw alongside the error.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{Raw: bytes.Clone(frame)}, err
	}
	return m, nil
}

// SplitFrames cuts buf at every terminator. Complete frame payloads are
// returned in arrival order, and rest holds the trailing partial frame.
// Empty frames are skipped.
func SplitFrames(buf []byte) (frames [][]byte, rest []byte) {
	for {
		i := bytes.IndexByte(buf, Terminator)
		if i < 0 {
			break
		}
		if i > 0 {
			frames = append(frames, buf[:i])
		}
		buf = buf[i+1:]
	}
	return frames, buf
}

// Bool returns a pointer to v, for filling Message.Vote.
func Bool(v bool) *bool {
	return &v
}
