package nlmsg

import "iter"

// Messages returns an iterator over the messages in the datagram b.
//
// Iteration stops at the first message whose declared length is shorter than
// the header or overruns the remaining bytes. Trailing bytes that do not form a
// complete message are dropped without error, since kernel datagrams may end
// at any boundary.
//
// Payloads alias b.
func Messages(b []byte) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for len(b) >= HeaderLen {
			h := ParseHeader(b)
			if h.Length < HeaderLen || uint64(h.Length) > uint64(len(b)) {
				return
			}

			m := Message{
				Header:  h,
				Payload: b[HeaderLen:h.Length:h.Length],
			}
			if !yield(m) {
				return
			}

			next := Align(int(h.Length))
			if next >= len(b) {
				return
			}
			b = b[next:]
		}
	}
}

// Decode collects all messages in the datagram b. See [Messages].
func Decode(b []byte) []Message {
	var msgs []Message
	for m := range Messages(b) {
		msgs = append(msgs, m)
	}
	return msgs
}
