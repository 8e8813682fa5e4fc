// Package nlconn implements netlink transport channels driven by a [reactor.Loop].
//
// An [Engine] opens channels. Every channel operation runs on the engine's loop
// thread, and every completion handler and message handler is invoked there too,
// in the order the events happened.
package nlconn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/database64128/nlsock-go/jsoncfg"
	"github.com/database64128/nlsock-go/nlbind"
)

const (
	defaultRecvBufferSize      = 65536
	minRecvBufferSize          = 4096
	defaultMaxOutstandingSends = 1024
	defaultTalkTimeout         = 10 * time.Second

	// minPooledBufferSize is the smallest buffer the default allocator hands out.
	minPooledBufferSize = 256
)

// ErrIllegalState is matched by errors returned when an operation is not allowed
// in the channel's current state or calling context.
var ErrIllegalState = errors.New("illegal state")

// StateError is an error that matches [ErrIllegalState].
type StateError string

func (e StateError) Error() string {
	return string(e)
}

// Is returns true if target is [ErrIllegalState].
func (StateError) Is(target error) bool {
	return target == ErrIllegalState
}

const (
	// ErrChannelClosed is returned when operating on a closed channel.
	ErrChannelClosed StateError = "netlink channel is closed"

	// ErrWrongThread is returned when a loop-thread-only operation is called from another thread.
	ErrWrongThread StateError = "netlink channel used off its reactor thread"
)

var (
	// ErrSendQueueFull is wrapped in a [*SendError] when a channel has too many outstanding sends.
	ErrSendQueueFull = errors.New("too many outstanding sends")

	// ErrTalkTimeout is passed to a talk's reply handler when no complete reply arrived in time.
	ErrTalkTimeout = errors.New("netlink talk timed out")
)

// SendError is returned when a send could not be submitted.
// No completion handler is invoked for it, and its buffer has been released.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return "failed to submit netlink send: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ChannelConfig is the addressing of a channel's socket.
type ChannelConfig = nlbind.Config

// Allocator provides send buffers.
//
// Get returns a zero-length slice with a capacity of at least size.
// Every buffer obtained from Get is passed back to Put exactly once.
type Allocator interface {
	Get(size int) []byte
	Put(b []byte)
}

// poolAllocator is the default [Allocator], backed by a [sync.Pool].
type poolAllocator struct {
	pool sync.Pool
}

func (p *poolAllocator) Get(size int) []byte {
	if bp, ok := p.pool.Get().(*[]byte); ok && cap(*bp) >= size {
		return (*bp)[:0]
	}
	return make([]byte, 0, max(size, minPooledBufferSize))
}

func (p *poolAllocator) Put(b []byte) {
	b = b[:0]
	p.pool.Put(&b)
}

// Config is the configuration for an [Engine].
type Config struct {
	// RecvBufferSize is the size of the buffer each datagram is received into.
	// Datagrams larger than this are truncated.
	//
	// Defaults to 65536. Must be at least 4096.
	RecvBufferSize int `json:"recvBufferSize,omitzero"`

	// MaxOutstandingSends is the maximum number of sends per channel that have not completed.
	//
	// Defaults to 1024.
	MaxOutstandingSends int `json:"maxOutstandingSends,omitzero"`

	// TalkTimeout is the default time to wait for the reply to a talk.
	//
	// Defaults to 10 seconds.
	TalkTimeout jsoncfg.Duration `json:"talkTimeout,omitzero"`

	// Allocator provides send buffers.
	//
	// Defaults to a [sync.Pool]-backed allocator.
	Allocator Allocator `json:"-"`
}

// CheckAndApplyDefaults checks and applies default values to the configuration.
func (c *Config) CheckAndApplyDefaults() error {
	switch {
	case c.RecvBufferSize >= minRecvBufferSize:
	case c.RecvBufferSize == 0:
		c.RecvBufferSize = defaultRecvBufferSize
	default:
		return fmt.Errorf("receive buffer size must be at least %d: %d", minRecvBufferSize, c.RecvBufferSize)
	}

	switch {
	case c.MaxOutstandingSends > 0:
	case c.MaxOutstandingSends == 0:
		c.MaxOutstandingSends = defaultMaxOutstandingSends
	default:
		return fmt.Errorf("max outstanding sends must be positive: %d", c.MaxOutstandingSends)
	}

	switch {
	case c.TalkTimeout > 0:
	case c.TalkTimeout == 0:
		c.TalkTimeout = jsoncfg.Duration(defaultTalkTimeout)
	default:
		return fmt.Errorf("talk timeout must be positive: %s", time.Duration(c.TalkTimeout))
	}

	if c.Allocator == nil {
		c.Allocator = &poolAllocator{}
	}

	return nil
}
