// Package connectivity tracks whether the remote store is reachable and
// notifies subscribers on every online/offline transition.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/invsync/internal/clock"
	"github.com/roach88/invsync/internal/notify"
)

// Event is delivered to subscribers on each transition.
type Event struct {
	IsOnline bool `json:"isOnline"`
}

// Probe checks reachability; nil means online.
type Probe func(ctx context.Context) error

// Monitor holds the current connectivity state. Platform signals (or the
// probe loop in Run) feed it through Set.
type Monitor struct {
	mu     sync.Mutex
	online bool
	events *notify.Broadcaster[Event]
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		events: notify.NewBroadcaster[Event](),
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state and notifies subscribers if it changed.
// Returns true on a transition. Events are published under the lock, so
// the last event a subscriber sees always matches IsOnline.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	m.events.Publish(Event{IsOnline: online})

	slog.Info("connectivity changed", "online", online)
	return true
}

// Subscribe returns a subscription receiving every later transition.
// Callers must Close it.
func (m *Monitor) Subscribe() *notify.Subscription[Event] {
	return m.events.Subscribe()
}

// Close tears down every subscription.
func (m *Monitor) Close() {
	m.events.Close()
}

// Run probes once immediately and then on every tick of interval, feeding
// the result into Set. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, c clock.Clock, interval time.Duration, probe Probe) error {
	if interval <= 0 {
		return fmt.Errorf("connectivity: non-positive probe interval %s", interval)
	}
	check := func() {
		err := probe(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Debug("connectivity probe failed", "error", err)
		}
		if ctx.Err() == nil {
			m.Set(err == nil)
		}
	}

	check()
	ticker := c.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			check()
		}
	}
}
