package mcp

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskpilot-ai/taskpilot/retry"
	"github.com/taskpilot-ai/taskpilot/tool"
)

// Manager owns the process-wide set of remote connections. It is created by
// the composition root and drained in full on shutdown; there is no
// package-level instance.
type Manager struct {
	logger   *slog.Logger
	retryCfg retry.Config

	mu    sync.Mutex
	conns []*Connection
}

// NewManager creates connections for every enabled endpoint. Nothing is
// dialed until ConnectAll.
func NewManager(endpoints map[string]EndpointConfig, retryCfg retry.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger, retryCfg: retryCfg}

	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := endpoints[name]
		if cfg.Disabled {
			logger.Info("skipping disabled endpoint", "endpoint", name)
			continue
		}
		m.conns = append(m.conns, NewConnection(name, cfg, logger))
	}
	return m
}

// Connections returns the managed connections.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Connection(nil), m.conns...)
}

// ConnectAll dials every endpoint concurrently. A failing endpoint is logged
// and recorded but never aborts the others; the returned map holds the
// per-endpoint failures.
func (m *Manager) ConnectAll(ctx context.Context) map[string]error {
	var (
		failedMu sync.Mutex
		failed   = make(map[string]error)
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, conn := range m.Connections() {
		conn := conn
		g.Go(func() error {
			err := m.connect(ctx, conn)
			if err != nil {
				m.logger.Warn("remote endpoint unavailable", "endpoint", conn.Name(), "error", err)
				failedMu.Lock()
				failed[conn.Name()] = err
				failedMu.Unlock()
			}
			// Failures are collected, not propagated; one bad endpoint must
			// not cancel the rest of the group.
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (m *Manager) connect(ctx context.Context, conn *Connection) error {
	if !m.retryCfg.Enabled {
		return conn.Connect(ctx)
	}
	_, err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.Connect(ctx)
	}, func(err error, attempt int) {
		m.logger.Warn("endpoint connect failed, retrying", "endpoint", conn.Name(), "attempt", attempt, "error", err)
	})
	return err
}

// Tools returns every tool discovered across all connections.
func (m *Manager) Tools() []tool.Tool {
	var tools []tool.Tool
	for _, conn := range m.Connections() {
		tools = append(tools, conn.Tools()...)
	}
	return tools
}

// RegisterAll adds every discovered remote tool to the registry.
func (m *Manager) RegisterAll(reg *tool.Registry) {
	for _, t := range m.Tools() {
		reg.Register(t)
	}
}

// Shutdown drains every connection. Idempotent.
func (m *Manager) Shutdown() {
	for _, conn := range m.Connections() {
		conn.Disconnect()
	}
}
