package nlconn

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/database64128/nlsock-go/reactor"
	"github.com/database64128/nlsock-go/tslog"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Channel is a netlink socket bound to a port id and driven by an engine's loop.
//
// Except for the accessors, all methods must be called on the loop thread.
type Channel struct {
	engine    *Engine
	loop      *reactor.Loop
	logger    *tslog.Logger
	fd        int
	dst       unix.Sockaddr
	protocol  int
	portID    uint32
	groups    uint32
	onMessage MessageHandler

	// queue holds sends not yet accepted by the kernel, in submission order.
	queue         []*sendOp
	writableArmed bool
	outstanding   *atomic.Int64

	talks   map[uint32]*talk
	lastSeq uint32
	closed  bool
}

// sendOp is one submitted send. It owns its buffer until complete runs.
type sendOp struct {
	alloc       Allocator
	buf         []byte
	status      int
	onComplete  func(status int)
	outstanding *atomic.Int64
}

func (op *sendOp) complete() {
	defer op.release()
	op.outstanding.Add(-1)
	if op.onComplete != nil {
		op.onComplete(op.status)
	}
}

func (op *sendOp) release() {
	op.alloc.Put(op.buf)
	op.buf = nil
}

// Protocol returns the netlink family of the channel's socket.
func (c *Channel) Protocol() int {
	return c.protocol
}

// PortID returns the port id the channel's socket is bound to.
func (c *Channel) PortID() uint32 {
	return c.portID
}

// Groups returns the multicast group mask the channel's socket was bound with.
func (c *Channel) Groups() uint32 {
	return c.groups
}

// Outstanding returns the number of sends whose completion handler has not run yet.
func (c *Channel) Outstanding() int {
	return int(c.outstanding.Load())
}

func (c *Channel) checkState() error {
	if !c.loop.InLoop() {
		return ErrWrongThread
	}
	if c.closed {
		return ErrChannelClosed
	}
	return nil
}

// Send encodes a message and sends it to the kernel.
//
// If PeerID is unset in h, the channel's port id is used.
// Header validation errors are returned before anything is allocated.
//
// On success, onComplete is called exactly once on the loop thread with 0 or a
// negated errno, and the message buffer is released right after it returns.
// onComplete may be nil.
func (c *Channel) Send(h nlmsg.RequestHeader, payload []byte, onComplete func(status int)) error {
	if err := c.checkState(); err != nil {
		return err
	}
	hdr, err := h.Resolve(c.portID)
	if err != nil {
		return err
	}
	return c.send(hdr, payload, onComplete)
}

func (c *Channel) send(h nlmsg.Header, payload []byte, onComplete func(status int)) error {
	msgLen := nlmsg.MessageLen(len(payload))
	if uint64(msgLen) > math.MaxUint32 {
		return nlmsg.ErrPayloadTooLarge
	}
	if c.outstanding.Load() >= int64(c.engine.maxOutstandingSends) {
		return &SendError{Err: ErrSendQueueFull}
	}

	alloc := c.engine.alloc
	b, err := nlmsg.AppendMessage(alloc.Get(msgLen), h, payload)
	if err != nil {
		alloc.Put(b)
		return err
	}

	op := &sendOp{
		alloc:       alloc,
		buf:         b,
		onComplete:  onComplete,
		outstanding: c.outstanding,
	}
	c.outstanding.Add(1)

	if c.logger.Enabled(slog.LevelDebug) {
		c.logger.Debug("Sending netlink message", tslog.Header("header", h), slog.Int("payloadLen", len(payload)))
	}

	if len(c.queue) > 0 {
		c.queue = append(c.queue, op)
		return nil
	}

	status, ok := c.write(op.buf)
	if !ok {
		c.queue = append(c.queue, op)
		c.armWritable(true)
		return nil
	}

	op.status = status
	if err = c.loop.Post(op.complete); err != nil {
		op.outstanding.Add(-1)
		op.release()
		return &SendError{Err: err}
	}
	return nil
}

// write sends b to the kernel. It returns false if the socket is not writable.
func (c *Channel) write(b []byte) (status int, ok bool) {
	for {
		err := unix.Sendto(c.fd, b, 0, c.dst)
		switch err {
		case nil:
			return 0, true
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, false
		}

		errno, isErrno := err.(unix.Errno)
		if !isErrno {
			errno = unix.EIO
		}
		c.logger.Debug("Failed to send netlink message", tslog.Err(err))
		return -int(errno), true
	}
}

// flush writes queued sends until the queue is empty or the socket is full again.
func (c *Channel) flush() {
	for len(c.queue) > 0 {
		op := c.queue[0]
		status, ok := c.write(op.buf)
		if !ok {
			return
		}
		c.queue[0] = nil
		c.queue = c.queue[1:]
		op.status = status
		c.postCompletion(op)
	}
	c.queue = nil
	c.armWritable(false)
}

func (c *Channel) postCompletion(op *sendOp) {
	if err := c.loop.Post(op.complete); err != nil {
		op.complete()
	}
}

func (c *Channel) armWritable(armed bool) {
	if c.writableArmed == armed {
		return
	}
	events := reactor.Readable
	if armed {
		events |= reactor.Writable
	}
	if err := c.loop.Modify(c.fd, events); err != nil {
		c.logger.Error("Failed to modify watched events", tslog.Err(err))
		return
	}
	c.writableArmed = armed
}

func (c *Channel) handleReady(ready reactor.Events) {
	if c.closed {
		return
	}
	if ready&reactor.Writable != 0 {
		c.flush()
	}
	if ready&(reactor.Readable|reactor.Failed) != 0 {
		c.receive()
	}
}

// receive reads one datagram and posts its messages for delivery.
func (c *Channel) receive() {
	if c.closed {
		return
	}

	buf := c.engine.recvBuf
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
		case unix.ENOBUFS:
			c.logger.Warn("Netlink socket receive buffer overrun, messages were dropped")
		default:
			c.logger.Warn("Failed to receive netlink datagram", tslog.Err(err))
		}
		return
	}
	if n <= 0 {
		return
	}

	msgs := nlmsg.Decode(bytes.Clone(buf[:n]))

	if c.logger.Enabled(slog.LevelDebug) {
		c.logger.Debug("Received netlink datagram", slog.Int("length", n), slog.Int("messages", len(msgs)))
	}

	if err = c.loop.Post(func() {
		c.deliver(msgs)
	}); err != nil {
		c.logger.Warn("Failed to post netlink datagram", tslog.Err(err))
	}
}

func (c *Channel) deliver(msgs []nlmsg.Message) {
	if c.closed {
		return
	}
	c.correlate(msgs)
	if c.onMessage != nil {
		c.onMessage(msgs)
	}
}

// Close unregisters and closes the socket.
//
// Sends still waiting in the queue complete with -ECANCELED.
// Sends already accepted by the kernel are not affected.
// Pending talks fail with [ErrChannelClosed].
func (c *Channel) Close() error {
	if err := c.checkState(); err != nil {
		return err
	}
	c.closed = true

	var err error
	if uerr := c.loop.Unwatch(c.fd); uerr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to unwatch netlink socket: %w", uerr))
	}
	if cerr := unix.Close(c.fd); cerr != nil {
		err = multierr.Append(err, os.NewSyscallError("close", cerr))
	}
	c.fd = -1

	for i, op := range c.queue {
		c.queue[i] = nil
		op.status = -int(unix.ECANCELED)
		c.postCompletion(op)
	}
	c.queue = nil

	for _, t := range c.talks {
		c.finishTalk(t, nil, ErrChannelClosed)
	}

	delete(c.engine.channels, c)
	c.logger.Info("Closed netlink channel", slog.Int("outstanding", c.Outstanding()))
	return err
}
