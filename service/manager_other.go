//go:build !linux

package service

import (
	"context"

	"github.com/database64128/nlsock-go/nlbind"
	"github.com/database64128/nlsock-go/tslog"
)

// Manager is not supported on this platform.
type Manager struct{}

// Manager returns [nlbind.ErrUnsupported].
func (c *Config) Manager(logger *tslog.Logger) (*Manager, error) {
	return nil, nlbind.ErrUnsupported
}

// Start returns [nlbind.ErrUnsupported].
func (*Manager) Start(ctx context.Context) error {
	return nlbind.ErrUnsupported
}

// Stop does nothing.
func (*Manager) Stop() error {
	return nil
}
