package nlconn

import (
	"encoding/binary"
	"time"

	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/database64128/nlsock-go/reactor"
	"github.com/database64128/nlsock-go/tslog"
	"golang.org/x/sys/unix"
)

// ReplyHandler is called on the loop thread with the outcome of a talk.
type ReplyHandler func(msgs []nlmsg.Message, err error)

// talk is a request waiting for its reply.
type talk struct {
	seq     uint32
	multi   bool
	msgs    []nlmsg.Message
	timer   *reactor.Timer
	onReply ReplyHandler
}

// Talk sends a request with the next sequence number and collects its reply.
//
// Any sequence number in h is replaced. A timeout of zero or less uses the
// engine's default. onReply is called exactly once:
//
//   - with the reply messages when a single-part reply, the end of a multipart
//     reply (NLMSG_DONE, not included), or a zero NLMSG_ERROR arrives;
//   - with a [unix.Errno] for a non-zero NLMSG_ERROR or a failed send;
//   - with [ErrTalkTimeout] or [ErrChannelClosed].
func (c *Channel) Talk(h nlmsg.RequestHeader, payload []byte, timeout time.Duration, onReply ReplyHandler) (seq uint32, err error) {
	if err = c.checkState(); err != nil {
		return 0, err
	}
	if timeout <= 0 {
		timeout = c.engine.talkTimeout
	}

	seq = c.nextSequence()
	hdr, err := h.WithSequence(seq).Resolve(c.portID)
	if err != nil {
		return 0, err
	}

	t := &talk{
		seq:     seq,
		onReply: onReply,
	}
	c.talks[seq] = t

	if err = c.send(hdr, payload, func(status int) {
		if status < 0 {
			c.finishTalk(t, nil, unix.Errno(-status))
		}
	}); err != nil {
		delete(c.talks, seq)
		return 0, err
	}

	t.timer = c.loop.AfterFunc(timeout, func() {
		c.finishTalk(t, nil, ErrTalkTimeout)
	})
	return seq, nil
}

// nextSequence returns the next non-zero sequence number not used by a pending talk.
func (c *Channel) nextSequence() uint32 {
	for {
		c.lastSeq++
		if c.lastSeq == 0 {
			continue
		}
		if _, ok := c.talks[c.lastSeq]; !ok {
			return c.lastSeq
		}
	}
}

func (c *Channel) finishTalk(t *talk, msgs []nlmsg.Message, err error) {
	if c.talks[t.seq] != t {
		return
	}
	delete(c.talks, t.seq)
	if t.timer != nil {
		t.timer.Stop()
	}
	if err != nil {
		c.logger.Debug("Netlink talk failed", tslog.Uint("seq", t.seq), tslog.Err(err))
	}
	t.onReply(msgs, err)
}

// correlate feeds received messages to the talks waiting for them.
// Messages carrying NLM_F_REQUEST are requests from a peer, not replies.
func (c *Channel) correlate(msgs []nlmsg.Message) {
	if len(c.talks) == 0 {
		return
	}

	for _, m := range msgs {
		if m.Header.Flags&nlmsg.FlagRequest != 0 || m.Header.Sequence == 0 {
			continue
		}

		t, ok := c.talks[m.Header.Sequence]
		if !ok {
			c.logger.Debug("Dropped reply without pending talk", tslog.Header("header", m.Header))
			continue
		}

		if m.Header.Flags&nlmsg.FlagMulti != 0 {
			t.multi = true
		}

		switch {
		case m.Header.Type == nlmsg.TypeError:
			errno, err := nlmsg.ParseError(m.Payload)
			switch {
			case err != nil:
				c.finishTalk(t, nil, err)
			case errno != 0:
				c.finishTalk(t, nil, errno)
			default:
				c.finishTalk(t, t.msgs, nil)
			}

		case m.Header.Type == nlmsg.TypeDone:
			// A dump that fails midway ends with the negated errno in NLMSG_DONE.
			// Older kernels put the positive dump length there instead.
			if code := doneCode(m.Payload); code < 0 {
				c.finishTalk(t, nil, unix.Errno(-code))
			} else {
				c.finishTalk(t, t.msgs, nil)
			}

		case t.multi:
			t.msgs = append(t.msgs, m)

		default:
			c.finishTalk(t, []nlmsg.Message{m}, nil)
		}
	}
}

func doneCode(payload []byte) int32 {
	if len(payload) < 4 {
		return 0
	}
	return int32(binary.NativeEndian.Uint32(payload))
}
