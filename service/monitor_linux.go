package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/database64128/nlsock-go/nlconn"
	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/database64128/nlsock-go/tslog"
)

// Monitor is a netlink channel that logs what it receives.
//
// Monitor implements [Service].
type Monitor struct {
	name     string
	config   nlconn.ChannelConfig
	requests []RequestConfig
	engine   *nlconn.Engine
	logger   *tslog.Logger

	// channel is only accessed on the loop thread.
	channel *nlconn.Channel

	// onReply, if set, is called on the loop thread after each talk finishes.
	onReply func(index int, msgs []nlmsg.Message, err error)
}

// NewMonitor creates a monitor that opens its channel on engine.
// Call Check before this to validate the configuration.
func (mc *MonitorConfig) NewMonitor(engine *nlconn.Engine, logger *tslog.Logger) *Monitor {
	return &Monitor{
		name:     mc.Name,
		config:   mc.ChannelConfig,
		requests: mc.Requests,
		engine:   engine,
		logger:   logger.WithAttrs(slog.String("monitor", mc.Name)),
	}
}

// SlogAttr implements [Service.SlogAttr].
func (m *Monitor) SlogAttr() slog.Attr {
	return slog.String("monitor", m.name)
}

// Start implements [Service.Start].
func (m *Monitor) Start(ctx context.Context) error {
	var err error
	if derr := m.engine.Loop().Do(ctx, func() {
		err = m.start()
	}); derr != nil {
		return derr
	}
	return err
}

func (m *Monitor) start() error {
	c, err := m.engine.Open(m.config, m.handleMessages)
	if err != nil {
		return err
	}
	m.channel = c

	for i := range m.requests {
		if err = m.submit(i, &m.requests[i]); err != nil {
			return err
		}
	}

	m.logger.Info("Started monitor",
		slog.Int("protocol", c.Protocol()),
		tslog.Uint("portID", c.PortID()),
		tslog.Uint("groups", c.Groups()),
		slog.Int("requests", len(m.requests)),
	)
	return nil
}

func (m *Monitor) submit(index int, rc *RequestConfig) error {
	if rc.Talk {
		seq, err := m.channel.Talk(rc.Header, rc.Payload, time.Duration(rc.Timeout), func(msgs []nlmsg.Message, err error) {
			m.handleReply(index, msgs, err)
		})
		if err != nil {
			return err
		}
		m.logger.Debug("Submitted talk", slog.Int("request", index), tslog.Uint("seq", seq))
		return nil
	}

	return m.channel.Send(rc.Header, rc.Payload, func(status int) {
		if status < 0 {
			m.logger.Warn("Failed to send request", slog.Int("request", index), tslog.Status("status", status))
		}
	})
}

func (m *Monitor) handleReply(index int, msgs []nlmsg.Message, err error) {
	if err != nil {
		m.logger.Warn("Request failed", slog.Int("request", index), tslog.Err(err))
	} else {
		m.logger.Info("Received reply", slog.Int("request", index), slog.Int("messages", len(msgs)))
	}
	if m.onReply != nil {
		m.onReply(index, msgs, err)
	}
}

func (m *Monitor) handleMessages(msgs []nlmsg.Message) {
	if !m.logger.Enabled(slog.LevelDebug) {
		return
	}
	for _, msg := range msgs {
		m.logger.Debug("Received message",
			tslog.Header("header", msg.Header),
			slog.Int("payloadLen", len(msg.Payload)),
		)
	}
}

// Stop implements [Service.Stop].
func (m *Monitor) Stop() error {
	var err error
	if derr := m.engine.Loop().Do(context.Background(), func() {
		if m.channel == nil {
			return
		}
		err = m.channel.Close()
		m.channel = nil
	}); derr != nil {
		return derr
	}
	return err
}
