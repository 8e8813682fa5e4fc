package service

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/database64128/nlsock-go/nlbind"
	"github.com/database64128/nlsock-go/nlconn"
	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/database64128/nlsock-go/pprof"
	"github.com/database64128/nlsock-go/tslog"
	"golang.org/x/sys/unix"
)

func skipWithoutNetlink(t *testing.T) {
	t.Helper()
	fd, err := nlbind.Socket(unix.NETLINK_ROUTE)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EPROTONOSUPPORT) {
			t.Skipf("netlink unavailable: %v", err)
		}
		t.Fatal(err)
	}
	_ = unix.Close(fd)
}

func TestManagerNoServices(t *testing.T) {
	logCfg := tslog.Config{Level: slog.LevelDebug}
	var cfg Config
	if _, err := cfg.Manager(logCfg.NewTestLogger(t)); err != ErrNoServices {
		t.Errorf("Manager() = %v, want ErrNoServices", err)
	}
}

func TestManagerBadConfig(t *testing.T) {
	logCfg := tslog.Config{Level: slog.LevelDebug}
	logger := logCfg.NewTestLogger(t)

	cfg := Config{
		Engine:   nlconn.Config{RecvBufferSize: 1},
		Monitors: []MonitorConfig{{Name: "route"}},
	}
	if _, err := cfg.Manager(logger); err == nil {
		t.Error("Manager() with bad engine config = nil, want error")
	}

	cfg = Config{
		Monitors: []MonitorConfig{{Name: "route", Requests: []RequestConfig{{}}}},
	}
	if _, err := cfg.Manager(logger); !errors.Is(err, nlmsg.ErrInvalidHeader) {
		t.Errorf("Manager() with bad request = %v, want ErrInvalidHeader", err)
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	logCfg := tslog.Config{Level: slog.LevelDebug}
	cfg := Config{Pprof: pprof.Config{Enabled: true, ListenAddress: "127.0.0.1:0"}}
	m, err := cfg.Manager(logCfg.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestManagerRouteMonitor(t *testing.T) {
	skipWithoutNetlink(t)

	logCfg := tslog.Config{Level: slog.LevelDebug}
	cfg := Config{
		Monitors: []MonitorConfig{
			{
				Name:          "route",
				ChannelConfig: nlconn.ChannelConfig{Protocol: unix.NETLINK_ROUTE},
				Requests: []RequestConfig{
					{
						Header: nlmsg.RequestHeader{
							Type:  nlmsg.Value(unix.RTM_GETLINK),
							Flags: nlmsg.Value(uint64(nlmsg.FlagRequest | nlmsg.FlagDump)),
						},
						Payload: make([]byte, unix.SizeofIfInfomsg),
						Talk:    true,
					},
					{
						Header: nlmsg.RequestHeader{
							Type:     nlmsg.Value(uint64(nlmsg.TypeNoop)),
							Flags:    nlmsg.Value(uint64(nlmsg.FlagRequest | nlmsg.FlagAck)),
							Sequence: nlmsg.Value(1000),
						},
					},
				},
			},
		},
	}

	m, err := cfg.Manager(logCfg.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	type reply struct {
		index int
		count int
		err   error
	}
	replies := make(chan reply, 1)
	mon := m.services[0].(*Monitor)
	mon.onReply = func(index int, msgs []nlmsg.Message, err error) {
		replies <- reply{index, len(msgs), err}
	}

	if err = m.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := m.Stop(); err != nil {
			t.Errorf("Stop() = %v", err)
		}
	}()

	select {
	case r := <-replies:
		if r.err != nil {
			t.Fatalf("talk failed: %v", r.err)
		}
		if r.index != 0 {
			t.Errorf("reply for request %d, want 0", r.index)
		}
		if r.count == 0 {
			t.Error("dump returned no links")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}
