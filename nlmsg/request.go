package nlmsg

import (
	"bytes"
	"errors"
	"math"
	"strconv"
)

var (
	// ErrInvalidHeader matches every [*InvalidHeaderError].
	ErrInvalidHeader = errors.New("invalid netlink message header")

	// ErrMissingField is returned when a mandatory header field is not set.
	ErrMissingField = errors.New("field is mandatory")

	// ErrOutOfRange is returned when a header field value does not fit its wire width.
	ErrOutOfRange = errors.New("value out of range")

	// ErrGeneratedField is returned when the caller sets a field that is generated by the encoder.
	ErrGeneratedField = errors.New("field is generated and cannot be set")
)

// InvalidHeaderError is returned when a [RequestHeader] violates a field constraint.
type InvalidHeaderError struct {
	Field string
	Err   error
}

func (e *InvalidHeaderError) Error() string {
	return "invalid netlink message header: " + e.Field + ": " + e.Err.Error()
}

func (e *InvalidHeaderError) Unwrap() error {
	return e.Err
}

func (e *InvalidHeaderError) Is(target error) bool {
	return target == ErrInvalidHeader
}

// Field is an optional header field value.
//
// The zero value is unset. In JSON, an unset field is omitted or null.
type Field struct {
	value uint64
	set   bool
}

// Value returns a set [Field] holding v.
func Value(v uint64) Field {
	return Field{value: v, set: true}
}

// Get returns the field value and whether it is set.
func (f Field) Get() (uint64, bool) {
	return f.value, f.set
}

// IsSet returns whether the field is set.
func (f Field) IsSet() bool {
	return f.set
}

// IsZero reports whether the field is unset. It allows omitzero in JSON.
func (f Field) IsZero() bool {
	return !f.set
}

// MarshalJSON implements [json.Marshaler].
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return strconv.AppendUint(nil, f.value, 10), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (f *Field) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = Field{}
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = Value(v)
	return nil
}

// RequestHeader is a caller-supplied message header with optional fields.
type RequestHeader struct {
	// Length must not be set. It is computed by the encoder.
	Length Field `json:"length,omitzero"`

	// Type is mandatory and must fit in 16 bits.
	Type Field `json:"type"`

	// Flags must fit in 16 bits. Defaults to 0.
	Flags Field `json:"flags,omitzero"`

	// Sequence is mandatory and must fit in 32 bits.
	Sequence Field `json:"sequence,omitzero"`

	// PeerID must fit in 32 bits. Defaults to the sending channel's port id.
	PeerID Field `json:"peerID,omitzero"`
}

// Resolve validates the request header and returns the wire header.
//
// If PeerID is unset, defaultPeerID is used.
func (r RequestHeader) Resolve(defaultPeerID uint32) (Header, error) {
	if r.Length.set {
		return Header{}, &InvalidHeaderError{"length", ErrGeneratedField}
	}

	msgType, err := r.Type.resolve("type", true, math.MaxUint16, 0)
	if err != nil {
		return Header{}, err
	}

	flags, err := r.Flags.resolve("flags", false, math.MaxUint16, 0)
	if err != nil {
		return Header{}, err
	}

	seq, err := r.Sequence.resolve("sequence", true, math.MaxUint32, 0)
	if err != nil {
		return Header{}, err
	}

	peerID, err := r.PeerID.resolve("peerID", false, math.MaxUint32, uint64(defaultPeerID))
	if err != nil {
		return Header{}, err
	}

	return Header{
		Type:     MsgType(msgType),
		Flags:    Flags(flags),
		Sequence: uint32(seq),
		PeerID:   uint32(peerID),
	}, nil
}

func (f Field) resolve(name string, mandatory bool, max, def uint64) (uint64, error) {
	switch {
	case !f.set && mandatory:
		return 0, &InvalidHeaderError{name, ErrMissingField}
	case !f.set:
		return def, nil
	case f.value > max:
		return 0, &InvalidHeaderError{name, ErrOutOfRange}
	default:
		return f.value, nil
	}
}

// WithSequence returns a copy of r with Sequence set to seq.
func (r RequestHeader) WithSequence(seq uint32) RequestHeader {
	r.Sequence = Value(uint64(seq))
	return r
}
