// Package service runs netlink monitors and auxiliary services from a JSON configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/database64128/nlsock-go/jsoncfg"
	"github.com/database64128/nlsock-go/nlconn"
	"github.com/database64128/nlsock-go/nlmsg"
	"github.com/database64128/nlsock-go/pprof"
	"github.com/database64128/nlsock-go/tslog"
)

// ErrNoServices is returned when the configuration has nothing to run.
var ErrNoServices = errors.New("no services to start")

// Service is implemented by long-running components managed by a [Manager].
type Service interface {
	// SlogAttr returns a [slog.Attr] that identifies the service.
	SlogAttr() slog.Attr

	// Start starts the service.
	Start(ctx context.Context) error

	// Stop stops the service.
	Stop() error
}

// Config is the configuration of an nlsock-go instance.
// It may be marshaled as or unmarshaled from JSON.
type Config struct {
	Log      tslog.Config    `json:"log"`
	Engine   nlconn.Config   `json:"engine"`
	Monitors []MonitorConfig `json:"monitors"`
	Pprof    pprof.Config    `json:"pprof"`
}

// MonitorConfig is the configuration of a netlink monitor.
//
// A monitor opens one channel, submits its requests in order,
// and logs every message it receives.
type MonitorConfig struct {
	Name string `json:"name"`
	nlconn.ChannelConfig
	Requests []RequestConfig `json:"requests,omitzero"`
}

// RequestConfig is a message a monitor sends after opening its channel.
type RequestConfig struct {
	Header nlmsg.RequestHeader `json:"header"`

	// Payload is the raw message payload, base64-encoded in JSON.
	Payload []byte `json:"payload,omitzero"`

	// Talk sends the request with the next sequence number and waits for its reply.
	// Any sequence number in Header is ignored.
	Talk bool `json:"talk,omitzero"`

	// Timeout overrides the engine's talk timeout.
	Timeout jsoncfg.Duration `json:"timeout,omitzero"`
}

// Check validates the request header.
func (rc *RequestConfig) Check() error {
	h := rc.Header
	if rc.Talk {
		h = h.WithSequence(1)
	}
	if _, err := h.Resolve(0); err != nil {
		return err
	}
	if rc.Timeout < 0 {
		return fmt.Errorf("negative timeout: %s", time.Duration(rc.Timeout))
	}
	return nil
}

// Check validates the monitor configuration.
func (mc *MonitorConfig) Check() error {
	if mc.Name == "" {
		return errors.New("monitor name is required")
	}
	if mc.Protocol < 0 {
		return fmt.Errorf("invalid netlink protocol: %d", mc.Protocol)
	}
	for i := range mc.Requests {
		if err := mc.Requests[i].Check(); err != nil {
			return fmt.Errorf("bad request %d: %w", i, err)
		}
	}
	return nil
}
