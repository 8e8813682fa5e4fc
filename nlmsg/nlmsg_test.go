package nlmsg

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, c := range []struct {
		name    string
		req     RequestHeader
		payload []byte
		want    Header
	}{
		{
			name:    "Minimal",
			req:     RequestHeader{Type: Value(1), Sequence: Value(42)},
			payload: nil,
			want:    Header{Length: HeaderLen, Type: 1, Sequence: 42, PeerID: 1000},
		},
		{
			name: "AllFields",
			req: RequestHeader{
				Type:     Value(18),
				Flags:    Value(uint64(FlagRequest | FlagDump)),
				Sequence: Value(7),
				PeerID:   Value(4242),
			},
			payload: []byte{17, 0, 0, 0},
			want:    Header{Length: HeaderLen + 4, Type: 18, Flags: FlagRequest | FlagDump, Sequence: 7, PeerID: 4242},
		},
		{
			name:    "MaxValues",
			req:     RequestHeader{Type: Value(math.MaxUint16), Flags: Value(math.MaxUint16), Sequence: Value(math.MaxUint32), PeerID: Value(math.MaxUint32)},
			payload: []byte("odd"),
			want:    Header{Length: HeaderLen + 3, Type: math.MaxUint16, Flags: math.MaxUint16, Sequence: math.MaxUint32, PeerID: math.MaxUint32},
		},
		{
			name:    "ZeroPeerIDIsExplicit",
			req:     RequestHeader{Type: Value(3), Sequence: Value(0), PeerID: Value(0)},
			payload: bytes.Repeat([]byte{0xAA}, 33),
			want:    Header{Length: HeaderLen + 33, Type: 3},
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			b, err := Encode(nil, c.req, c.payload, 1000)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(b) != HeaderLen+len(c.payload) {
				t.Errorf("len(b) = %d, want %d", len(b), HeaderLen+len(c.payload))
			}

			msgs := Decode(b)
			if len(msgs) != 1 {
				t.Fatalf("len(Decode()) = %d, want 1", len(msgs))
			}
			if diff := cmp.Diff(c.want, msgs[0].Header); diff != "" {
				t.Errorf("header mismatch (-want +got):\n%s", diff)
			}
			if !bytes.Equal(msgs[0].Payload, c.payload) {
				t.Errorf("payload = %x, want %x", msgs[0].Payload, c.payload)
			}
		})
	}
}

func TestResolveRejects(t *testing.T) {
	for _, c := range []struct {
		name  string
		req   RequestHeader
		field string
		err   error
	}{
		{"TypeMissing", RequestHeader{Sequence: Value(1)}, "type", ErrMissingField},
		{"TypeTooLarge", RequestHeader{Type: Value(0x10000), Sequence: Value(1)}, "type", ErrOutOfRange},
		{"FlagsTooLarge", RequestHeader{Type: Value(1), Flags: Value(0x10000), Sequence: Value(1)}, "flags", ErrOutOfRange},
		{"SequenceMissing", RequestHeader{Type: Value(1)}, "sequence", ErrMissingField},
		{"SequenceTooLarge", RequestHeader{Type: Value(1), Sequence: Value(0x100000000)}, "sequence", ErrOutOfRange},
		{"PeerIDTooLarge", RequestHeader{Type: Value(1), Sequence: Value(1), PeerID: Value(0x100000000)}, "peerID", ErrOutOfRange},
		{"LengthSet", RequestHeader{Length: Value(16), Type: Value(1), Sequence: Value(1)}, "length", ErrGeneratedField},
	} {
		t.Run(c.name, func(t *testing.T) {
			b, err := Encode(nil, c.req, []byte{1, 2, 3}, 1)
			if !errors.Is(err, ErrInvalidHeader) {
				t.Fatalf("Encode() error = %v, want ErrInvalidHeader", err)
			}
			if !errors.Is(err, c.err) {
				t.Errorf("Encode() error = %v, want %v", err, c.err)
			}
			var ihe *InvalidHeaderError
			if !errors.As(err, &ihe) {
				t.Fatalf("Encode() error type = %T, want *InvalidHeaderError", err)
			}
			if ihe.Field != c.field {
				t.Errorf("ihe.Field = %q, want %q", ihe.Field, c.field)
			}
			if len(b) != 0 {
				t.Errorf("len(b) = %d, want 0", len(b))
			}
		})
	}
}

// The peer id default must follow PeerID presence, regardless of Flags.
func TestResolvePeerIDDefault(t *testing.T) {
	for _, c := range []struct {
		name string
		req  RequestHeader
		want uint32
	}{
		{"NoFlagsNoPeerID", RequestHeader{Type: Value(1), Sequence: Value(1)}, 77},
		{"FlagsNoPeerID", RequestHeader{Type: Value(1), Flags: Value(1), Sequence: Value(1)}, 77},
		{"NoFlagsPeerID", RequestHeader{Type: Value(1), Sequence: Value(1), PeerID: Value(5)}, 5},
		{"FlagsPeerID", RequestHeader{Type: Value(1), Flags: Value(1), Sequence: Value(1), PeerID: Value(5)}, 5},
	} {
		t.Run(c.name, func(t *testing.T) {
			h, err := c.req.Resolve(77)
			if err != nil {
				t.Fatal(err)
			}
			if h.PeerID != c.want {
				t.Errorf("h.PeerID = %d, want %d", h.PeerID, c.want)
			}
		})
	}
}

func TestAppendMessageWireLayout(t *testing.T) {
	b, err := AppendMessage([]byte{0xFF}, Header{Length: 999, Type: 1, Flags: 0x0305, Sequence: 42, PeerID: 0x01020304}, []byte{9, 8})
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0xFF}
	want = binary.NativeEndian.AppendUint32(want, 18)
	want = binary.NativeEndian.AppendUint16(want, 1)
	want = binary.NativeEndian.AppendUint16(want, 0x0305)
	want = binary.NativeEndian.AppendUint32(want, 42)
	want = binary.NativeEndian.AppendUint32(want, 0x01020304)
	want = append(want, 9, 8)

	if !bytes.Equal(b, want) {
		t.Errorf("AppendMessage() = %x, want %x", b, want)
	}
}

func TestDecodeEmpty(t *testing.T) {
	if msgs := Decode(nil); len(msgs) != 0 {
		t.Errorf("Decode(nil) = %v, want empty", msgs)
	}
	if msgs := Decode([]byte{}); len(msgs) != 0 {
		t.Errorf("Decode([]byte{}) = %v, want empty", msgs)
	}
}

func testDatagram(t *testing.T) ([]byte, []Message) {
	t.Helper()
	msgs := []Message{
		{Header: Header{Type: 16, Flags: FlagMulti, Sequence: 1, PeerID: 9}, Payload: []byte{1, 2, 3, 4, 5}},
		{Header: Header{Type: 16, Flags: FlagMulti, Sequence: 1, PeerID: 9}, Payload: []byte{6, 7}},
		{Header: Header{Type: TypeDone, Flags: FlagMulti, Sequence: 1, PeerID: 9}, Payload: []byte{0, 0, 0, 0}},
	}
	b, err := AppendMessages(nil, msgs)
	if err != nil {
		t.Fatal(err)
	}
	for i := range msgs {
		msgs[i].Header.Length = uint32(HeaderLen + len(msgs[i].Payload))
	}
	return b, msgs
}

func TestDecodeMultipart(t *testing.T) {
	b, want := testDatagram(t)

	// 21 -> 24, 18 -> 20, 20.
	if got, wantLen := len(b), 24+20+20; got != wantLen {
		t.Fatalf("len(b) = %d, want %d", got, wantLen)
	}

	got := Decode(b)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}

	two := Decode(b[:24+20])
	if diff := cmp.Diff(want[:2], two); diff != "" {
		t.Errorf("Decode(two) mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b, want := testDatagram(t)

	for _, c := range []struct {
		name string
		n    int
		want int
	}{
		{"MidFirstHeader", 10, 0},
		{"MidFirstPayload", HeaderLen + 2, 0},
		{"FirstUnpadded", HeaderLen + 5, 1},
		{"FirstPadded", 24, 1},
		{"MidSecondHeader", 24 + 8, 1},
		{"MidSecondPayload", 24 + HeaderLen + 1, 1},
		{"MidThirdHeader", 44 + 15, 2},
		{"MidThirdPayload", 44 + 19, 2},
	} {
		t.Run(c.name, func(t *testing.T) {
			got := Decode(b[:c.n])
			if len(got) != c.want {
				t.Fatalf("len(Decode()) = %d, want %d", len(got), c.want)
			}
			if c.want == 0 {
				return
			}
			if diff := cmp.Diff(want[:c.want], got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeBadLength(t *testing.T) {
	b, _ := testDatagram(t)

	// Second message claims to be shorter than a header.
	binary.NativeEndian.PutUint32(b[24:], HeaderLen-1)
	if got := Decode(b); len(got) != 1 {
		t.Errorf("len(Decode()) = %d, want 1", len(got))
	}

	// Second message claims to run past the end.
	binary.NativeEndian.PutUint32(b[24:], uint32(len(b)))
	if got := Decode(b); len(got) != 1 {
		t.Errorf("len(Decode()) = %d, want 1", len(got))
	}
}

func TestMessagesStopsEarly(t *testing.T) {
	b, _ := testDatagram(t)
	var n int
	for range Messages(b) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestParseError(t *testing.T) {
	req := Header{Length: 20, Type: 18, Flags: FlagRequest | FlagAck, Sequence: 3, PeerID: 100}

	for _, c := range []struct {
		name  string
		errno syscall.Errno
	}{
		{"Ack", 0},
		{"EPERM", syscall.EPERM},
		{"EEXIST", syscall.EEXIST},
	} {
		t.Run(c.name, func(t *testing.T) {
			payload := AppendErrorPayload(nil, c.errno, req)
			if len(payload) != 4+HeaderLen {
				t.Fatalf("len(payload) = %d, want %d", len(payload), 4+HeaderLen)
			}
			errno, err := ParseError(payload)
			if err != nil {
				t.Fatal(err)
			}
			if errno != c.errno {
				t.Errorf("ParseError() = %v, want %v", errno, c.errno)
			}
			if got := ParseHeader(payload[4:]); got != req {
				t.Errorf("echoed header = %+v, want %+v", got, req)
			}
		})
	}

	if _, err := ParseError([]byte{1, 2}); err != ErrShortErrorPayload {
		t.Errorf("ParseError(short) = %v, want ErrShortErrorPayload", err)
	}
}

func TestNames(t *testing.T) {
	if got := TypeDone.String(); got != "NLMSG_DONE" {
		t.Errorf("TypeDone.String() = %q", got)
	}
	if got := MsgType(24).String(); got != "24" {
		t.Errorf("MsgType(24).String() = %q", got)
	}
	if got := (FlagRequest | FlagAck).String(); got != "REQUEST|ACK" {
		t.Errorf("flags = %q, want %q", got, "REQUEST|ACK")
	}
	if got := (FlagRequest | FlagDump).String(); got != "REQUEST|0x300" {
		t.Errorf("flags = %q, want %q", got, "REQUEST|0x300")
	}
	if got := Flags(0).String(); got != "" {
		t.Errorf("Flags(0).String() = %q, want empty", got)
	}
}

func TestRequestHeaderJSON(t *testing.T) {
	var req RequestHeader
	if err := json.Unmarshal([]byte(`{"type": 18, "flags": 769, "sequence": null}`), &req); err != nil {
		t.Fatal(err)
	}
	want := RequestHeader{Type: Value(18), Flags: Value(769)}
	if req != want {
		t.Errorf("req = %+v, want %+v", req, want)
	}

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `{"type":18,"flags":769}`; got != want {
		t.Errorf("json.Marshal() = %s, want %s", got, want)
	}

	if err := json.Unmarshal([]byte(`{"type": -1}`), &req); err == nil {
		t.Error("json.Unmarshal(negative) = nil, want error")
	}
}
