// Package nlmsg implements the netlink message framing.
//
// A netlink datagram carries one or more messages. Each message starts with a
// 16-byte header in native byte order, followed by its payload. Consecutive
// messages in a datagram are padded to [AlignTo] bytes.
package nlmsg

import (
	"encoding/binary"
	"errors"
	"math"
	"slices"
)

const (
	// HeaderLen is the size of a netlink message header on the wire.
	HeaderLen = 16

	// AlignTo is the alignment boundary between consecutive messages in a datagram.
	AlignTo = 4
)

// ErrPayloadTooLarge is returned when a message does not fit in the 32-bit length field.
var ErrPayloadTooLarge = errors.New("payload too large for a netlink message")

// Header is a netlink message header.
type Header struct {
	// Length is the total length of the message, including the header.
	Length   uint32
	Type     MsgType
	Flags    Flags
	Sequence uint32
	PeerID   uint32
}

// Message is a single framed netlink message.
type Message struct {
	Header  Header
	Payload []byte
}

// Align rounds n up to a multiple of [AlignTo].
func Align(n int) int {
	return (n + AlignTo - 1) &^ (AlignTo - 1)
}

// MessageLen returns the unpadded length of a message with the given payload length.
func MessageLen(payloadLen int) int {
	return HeaderLen + payloadLen
}

// PutHeader writes h into b. b must be at least [HeaderLen] bytes long.
func PutHeader(b []byte, h Header) {
	_ = b[HeaderLen-1]
	binary.NativeEndian.PutUint32(b[0:4], h.Length)
	binary.NativeEndian.PutUint16(b[4:6], uint16(h.Type))
	binary.NativeEndian.PutUint16(b[6:8], uint16(h.Flags))
	binary.NativeEndian.PutUint32(b[8:12], h.Sequence)
	binary.NativeEndian.PutUint32(b[12:16], h.PeerID)
}

// ParseHeader reads a header from b. b must be at least [HeaderLen] bytes long.
func ParseHeader(b []byte) Header {
	_ = b[HeaderLen-1]
	return Header{
		Length:   binary.NativeEndian.Uint32(b[0:4]),
		Type:     MsgType(binary.NativeEndian.Uint16(b[4:6])),
		Flags:    Flags(binary.NativeEndian.Uint16(b[6:8])),
		Sequence: binary.NativeEndian.Uint32(b[8:12]),
		PeerID:   binary.NativeEndian.Uint32(b[12:16]),
	}
}

// AppendMessage appends the wire form of a message with header h and the given payload to b.
//
// h.Length is ignored and replaced by the computed length.
// No padding is appended after the payload.
func AppendMessage(b []byte, h Header, payload []byte) ([]byte, error) {
	msgLen := MessageLen(len(payload))
	if uint64(msgLen) > math.MaxUint32 {
		return b, ErrPayloadTooLarge
	}
	h.Length = uint32(msgLen)

	b = slices.Grow(b, msgLen)
	start := len(b)
	b = b[:start+HeaderLen]
	PutHeader(b[start:], h)
	return append(b, payload...), nil
}

// AppendMessages appends msgs to b as a single multipart datagram,
// padding each message except the last to [AlignTo].
func AppendMessages(b []byte, msgs []Message) ([]byte, error) {
	for i, m := range msgs {
		start := len(b)
		var err error
		b, err = AppendMessage(b, m.Header, m.Payload)
		if err != nil {
			return b[:start], err
		}
		if i < len(msgs)-1 {
			for range Align(len(b)-start) - (len(b) - start) {
				b = append(b, 0)
			}
		}
	}
	return b, nil
}

// Encode validates req, resolving the peer id to defaultPeerID when unset,
// and appends the encoded message to b.
func Encode(b []byte, req RequestHeader, payload []byte, defaultPeerID uint32) ([]byte, error) {
	h, err := req.Resolve(defaultPeerID)
	if err != nil {
		return b, err
	}
	return AppendMessage(b, h, payload)
}
