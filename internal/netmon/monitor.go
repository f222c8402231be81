// Package netmon watches connectivity by periodically probing the remote
// store and reports offline↔online transitions to a callback. Steady states
// are not reported; the sync engine only cares about edges.
package netmon

import (
	"context"
	"log/slog"
	"time"
)

// ProbeFunc checks reachability of the remote store. A nil error means
// online. Wired to the remote adapter's Ping in production.
type ProbeFunc func(ctx context.Context) error

// Monitor polls a ProbeFunc and invokes a callback on connectivity
// transitions. Create one with [New] and start it with [Monitor.Run].
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	onChange func(online bool)
	log      *slog.Logger

	// started tracks whether the first probe has fired; the first result is
	// always reported so the consumer learns the initial state.
	started bool
	online  bool
}

// New creates a Monitor. onChange is invoked with the initial state after the
// first probe and then only when the state flips.
func New(probe ProbeFunc, interval time.Duration, onChange func(online bool), logger *slog.Logger) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		onChange: onChange,
		log:      logger,
	}
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("network monitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check performs one probe and reports a transition if the state flipped.
func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	online := m.probe(probeCtx) == nil

	if m.started && online == m.online {
		return
	}
	m.started = true
	m.online = online

	m.log.Info("connectivity transition", "online", online)
	m.onChange(online)
}
