package nlconn

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/database64128/nlsock-go/reactor"
	"github.com/database64128/nlsock-go/tslog"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// MessageHandler is called on the loop thread with the messages of one received datagram.
//
// Payloads are owned by the handler and stay valid after it returns.
type MessageHandler func(msgs []nlmsg.Message)

// Engine opens netlink channels on a reactor loop.
type Engine struct {
	loop                *reactor.Loop
	logger              *tslog.Logger
	alloc               Allocator
	recvBuf             []byte
	maxOutstandingSends int
	talkTimeout         time.Duration

	// channels is only accessed on the loop thread.
	channels map[*Channel]struct{}
}

// NewEngine returns a new engine that runs its channels on loop.
func (c *Config) NewEngine(loop *reactor.Loop, logger *tslog.Logger) (*Engine, error) {
	if err := c.CheckAndApplyDefaults(); err != nil {
		return nil, err
	}
	return &Engine{
		loop:                loop,
		logger:              logger,
		alloc:               c.Allocator,
		recvBuf:             make([]byte, c.RecvBufferSize),
		maxOutstandingSends: c.MaxOutstandingSends,
		talkTimeout:         time.Duration(c.TalkTimeout),
		channels:            make(map[*Channel]struct{}),
	}, nil
}

// Loop returns the loop the engine runs on.
func (e *Engine) Loop() *reactor.Loop {
	return e.loop
}

// Open opens a netlink socket and returns a channel for it.
// onMessage may be nil.
//
// Open must be called on the loop thread.
func (e *Engine) Open(cfg ChannelConfig, onMessage MessageHandler) (*Channel, error) {
	if !e.loop.InLoop() {
		return nil, ErrWrongThread
	}

	fd, portID, err := cfg.Open()
	if err != nil {
		return nil, err
	}

	c := e.newChannel(fd, cfg.Protocol, portID, cfg.Groups, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}, onMessage)
	if err = e.register(c); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return c, nil
}

func (e *Engine) newChannel(fd, protocol int, portID, groups uint32, dst unix.Sockaddr, onMessage MessageHandler) *Channel {
	return &Channel{
		engine:      e,
		loop:        e.loop,
		logger:      e.logger.WithAttrs(slog.Int("protocol", protocol), tslog.Uint("portID", portID)),
		fd:          fd,
		dst:         dst,
		protocol:    protocol,
		portID:      portID,
		groups:      groups,
		onMessage:   onMessage,
		outstanding: new(atomic.Int64),
		talks:       make(map[uint32]*talk),
	}
}

func (e *Engine) register(c *Channel) error {
	if err := e.loop.Watch(c.fd, reactor.Readable, c.handleReady); err != nil {
		return fmt.Errorf("failed to watch netlink socket: %w", err)
	}
	e.channels[c] = struct{}{}
	c.logger.Info("Opened netlink channel", tslog.Uint("groups", c.groups))
	return nil
}

// Close closes every channel the engine has open.
//
// Close must be called on the loop thread.
func (e *Engine) Close() error {
	if !e.loop.InLoop() {
		return ErrWrongThread
	}
	var err error
	for c := range e.channels {
		err = multierr.Append(err, c.Close())
	}
	return err
}
