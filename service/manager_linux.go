package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/database64128/nlsock-go/nlconn"
	"github.com/database64128/nlsock-go/reactor"
	"github.com/database64128/nlsock-go/tslog"
	"go.uber.org/multierr"
)

// Manager initializes the reactor loop, the netlink engine, and the configured services.
func (c *Config) Manager(logger *tslog.Logger) (*Manager, error) {
	if len(c.Monitors) == 0 && !c.Pprof.Enabled {
		return nil, ErrNoServices
	}

	for i := range c.Monitors {
		if err := c.Monitors[i].Check(); err != nil {
			return nil, fmt.Errorf("bad monitor config %q: %w", c.Monitors[i].Name, err)
		}
	}

	if err := c.Engine.CheckAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("bad engine config: %w", err)
	}

	loop, err := reactor.New(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reactor loop: %w", err)
	}

	engine, err := c.Engine.NewEngine(loop, logger)
	if err != nil {
		loop.Stop()
		loop.Wait()
		return nil, err
	}

	services := make([]Service, 0, len(c.Monitors)+1)
	for i := range c.Monitors {
		services = append(services, c.Monitors[i].NewMonitor(engine, logger))
	}
	if c.Pprof.Enabled {
		services = append(services, c.Pprof.NewService(logger))
	}

	return &Manager{
		loop:     loop,
		engine:   engine,
		services: services,
		logger:   logger,
	}, nil
}

// Manager manages the services.
type Manager struct {
	loop     *reactor.Loop
	engine   *nlconn.Engine
	services []Service
	logger   *tslog.Logger
	running  bool
	started  int
}

// Start starts the reactor loop and all services.
//
// If a service fails to start, the services started before it keep running,
// and Stop must still be called.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.loop.Start(); err != nil {
		return err
	}
	m.running = true
	for _, s := range m.services {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", s.SlogAttr(), err)
		}
		m.started++
	}
	return nil
}

// Stop stops all running services in reverse order, closes the engine, and stops the loop.
func (m *Manager) Stop() error {
	var err error

	for i := m.started - 1; i >= 0; i-- {
		s := m.services[i]
		if serr := s.Stop(); serr != nil {
			m.logger.Warn("Failed to stop service", s.SlogAttr(), tslog.Err(serr))
			err = multierr.Append(err, serr)
			continue
		}
		m.logger.Info("Stopped service", s.SlogAttr())
	}
	m.started = 0

	if m.running {
		var closeErr error
		if derr := m.loop.Do(context.Background(), func() {
			closeErr = m.engine.Close()
		}); derr != nil {
			m.logger.Debug("Skipped closing engine", tslog.Err(derr))
		}
		err = multierr.Append(err, closeErr)
		m.running = false
	}

	m.loop.Stop()
	m.loop.Wait()
	m.logger.Info("Stopped service manager", slog.Int("services", len(m.services)))
	return err
}
