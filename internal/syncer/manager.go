// Package syncer drains the mutation queue against the remote store.
//
// A Manager watches connectivity. When the remote becomes reachable it runs
// a pass immediately and then every interval until connectivity drops. A
// pass replays a snapshot of the queue in FIFO order; each item either
// succeeds and is removed, or has its retry count incremented. An item that
// reaches the retry ceiling is moved to the dead-letter table and the user
// is notified exactly once.
//
// At most one pass runs at a time. A pass requested while another is in
// progress is skipped, not queued.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/invsync/internal/clock"
	"github.com/roach88/invsync/internal/connectivity"
	"github.com/roach88/invsync/internal/notify"
	"github.com/roach88/invsync/internal/queue"
	"github.com/roach88/invsync/internal/remote"
	"github.com/roach88/invsync/internal/stock"
	"github.com/roach88/invsync/internal/store"
)

// Defaults used when no option overrides them.
const (
	DefaultInterval   = 10 * time.Second
	DefaultMaxRetries = 3
)

// Status is a point-in-time view of the manager.
type Status struct {
	IsOnline     bool      `json:"is_online"`
	IsSyncing    bool      `json:"is_syncing"`
	PendingCount int       `json:"pending_count"`
	LastSync     time.Time `json:"last_sync,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}

// DrainReport summarises one pass.
type DrainReport struct {
	Attempted   int  `json:"attempted"`
	Succeeded   int  `json:"succeeded"`
	Failed      int  `json:"failed"`
	Quarantined int  `json:"quarantined"`
	Skipped     bool `json:"skipped,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock driving the interval ticker.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithInterval sets the time between passes while online. Non-positive
// values keep the default.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMaxRetries sets the retry ceiling.
func WithMaxRetries(n int) Option { return func(m *Manager) { m.maxRetries = n } }

// WithNotifier sets where quarantine notifications go.
func WithNotifier(n notify.Notifier) Option { return func(m *Manager) { m.notifier = n } }

// Manager owns the sync loop.
type Manager struct {
	store    *store.Store
	queue    *queue.Queue
	stock    *stock.Engine
	remote   remote.Client
	monitor  *connectivity.Monitor
	clock    clock.Clock
	notifier notify.Notifier

	interval   time.Duration
	maxRetries int

	syncing atomic.Bool

	mu        sync.Mutex
	lastSync  time.Time
	lastError string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a manager. It does nothing until Start.
func New(s *store.Store, q *queue.Queue, st *stock.Engine, r remote.Client, mon *connectivity.Monitor, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		queue:      q,
		stock:      st,
		remote:     r,
		monitor:    mon,
		clock:      clock.Real{},
		notifier:   notify.LogNotifier{},
		interval:   DefaultInterval,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxRetries returns the retry ceiling.
func (m *Manager) MaxRetries() int { return m.maxRetries }

// Start launches the background loop. It returns ErrRunning if the loop is
// already running. The loop exits when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	// Subscribe before the goroutine starts so no transition is missed.
	events := m.monitor.Subscribe()
	changes := []*notify.Subscription[remote.Change]{
		m.remote.Subscribe(remote.TableProducts),
		m.remote.Subscribe(remote.TableInvoices),
		m.remote.Subscribe(remote.TableInvoiceItems),
	}
	go m.run(ctx, m.done, events, changes)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call when the
// loop is not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, done chan struct{}, events *notify.Subscription[connectivity.Event], changes []*notify.Subscription[remote.Change]) {
	defer close(done)
	defer events.Close()
	for _, c := range changes {
		defer c.Close()
	}

	var ticker clock.Ticker
	var tick <-chan time.Time
	startTicker := func() {
		if ticker == nil {
			ticker = m.clock.NewTicker(m.interval)
			tick = ticker.C()
		}
	}
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stopTicker()

	goOnline := func(reason string) {
		m.pass(ctx, reason)
		startTicker()
	}
	if m.monitor.IsOnline() {
		goOnline("start")
	}

	eventsC := events.C()
	productsC, invoicesC, itemsC := changes[0].C(), changes[1].C(), changes[2].C()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventsC:
			if !ok {
				eventsC = nil
				continue
			}
			if ev.IsOnline {
				goOnline("online")
			} else {
				stopTicker()
			}
		case <-tick:
			if m.monitor.IsOnline() {
				m.pass(ctx, "interval")
			}
		case c, ok := <-productsC:
			if !ok {
				productsC = nil
				continue
			}
			m.onRemoteChange(ctx, c)
		case c, ok := <-invoicesC:
			if !ok {
				invoicesC = nil
				continue
			}
			m.onRemoteChange(ctx, c)
		case c, ok := <-itemsC:
			if !ok {
				itemsC = nil
				continue
			}
			m.onRemoteChange(ctx, c)
		}
	}
}

// pass runs DrainOnce on behalf of the loop, logging instead of returning.
func (m *Manager) pass(ctx context.Context, reason string) {
	report, err := m.DrainOnce(ctx)
	switch {
	case errors.Is(err, ErrOffline), errors.Is(err, context.Canceled):
	case err != nil:
		slog.Error("sync pass failed", "reason", reason, "error", err)
	case report.Attempted > 0:
		slog.Info("sync pass complete", "reason", reason,
			"succeeded", report.Succeeded, "failed", report.Failed, "quarantined", report.Quarantined)
	}
}

// DrainOnce runs one pass over a snapshot of the queue. It returns a report
// with Skipped set if another pass is in progress, and ErrOffline without
// touching the queue if the remote is unreachable.
func (m *Manager) DrainOnce(ctx context.Context) (DrainReport, error) {
	if !m.syncing.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer m.syncing.Store(false)

	if !m.monitor.IsOnline() {
		return DrainReport{}, ErrOffline
	}

	items, err := m.queue.List(ctx)
	if err != nil {
		m.setLastError(err)
		return DrainReport{}, fmt.Errorf("sync: snapshot queue: %w", err)
	}

	var report DrainReport
	var lastErr error
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if it.RetryCount >= m.maxRetries {
			// Left over from a higher ceiling; it has exhausted this one.
			if err := m.quarantine(ctx, it, it.RetryCount, errors.New("retry ceiling reached")); err != nil {
				return report, err
			}
			report.Quarantined++
			continue
		}

		report.Attempted++
		res, cause, err := m.attempt(ctx, it)
		if err != nil {
			return report, err
		}
		switch res {
		case itemSucceeded:
			report.Succeeded++
		case itemFailed:
			report.Failed++
			lastErr = cause
		case itemQuarantined:
			report.Quarantined++
			lastErr = cause
		}
	}

	m.finishPass(ctx, lastErr, report.Succeeded > 0)
	return report, nil
}

type itemResult int

const (
	itemSucceeded itemResult = iota
	itemFailed
	itemQuarantined
)

// attempt replays one item and records the outcome: removal on success, a
// retry increment on failure, quarantine once the ceiling is reached. cause
// is the replay failure. err is a storage or context error that must end
// the pass, in which case the item is left as it was.
func (m *Manager) attempt(ctx context.Context, it queue.Item) (res itemResult, cause error, err error) {
	cause = m.replaySafely(ctx, it)
	if cause == nil {
		if err := m.queue.Remove(ctx, it.ID); err != nil {
			return 0, nil, fmt.Errorf("sync: remove item %d: %w", it.ID, err)
		}
		return itemSucceeded, nil, nil
	}

	if err := ctx.Err(); err != nil {
		// Shutdown is not the item's fault.
		return 0, cause, err
	}
	attempts := it.RetryCount + 1
	if attempts >= m.maxRetries {
		if err := m.quarantine(ctx, it, attempts, cause); err != nil {
			return 0, cause, err
		}
		return itemQuarantined, cause, nil
	}
	slog.Warn("sync item failed", "id", it.ID, "kind", it.Kind, "attempt", attempts, "error", cause)
	if err := m.queue.UpdateRetryCount(ctx, it.ID, attempts); err != nil {
		return 0, cause, fmt.Errorf("sync: update retry count of %d: %w", it.ID, err)
	}
	return itemFailed, cause, nil
}

// replaySafely is replay with a panic in the remote client turned into a
// failed attempt.
func (m *Manager) replaySafely(ctx context.Context, it queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ReplayError{Kind: it.Kind, ItemID: it.ID, Step: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()
	return m.replay(ctx, it)
}

// finishPass records the pass time and last error, and refreshes the cache
// when something was synced.
func (m *Manager) finishPass(ctx context.Context, lastErr error, synced bool) {
	m.mu.Lock()
	m.lastSync = m.clock.Now()
	if lastErr != nil {
		m.lastError = lastErr.Error()
	} else {
		m.lastError = ""
	}
	m.mu.Unlock()

	if synced {
		if err := m.refreshIfDrained(ctx); err != nil {
			slog.Warn("cache refresh failed", "error", err)
		}
	}
}

func (m *Manager) quarantine(ctx context.Context, it queue.Item, attempts int, cause error) error {
	if err := m.queue.Quarantine(ctx, it.ID, attempts, cause); err != nil {
		return fmt.Errorf("sync: quarantine item %d: %w", it.ID, err)
	}
	slog.Error("sync item quarantined", "id", it.ID, "kind", it.Kind, "attempts", attempts, "error", cause)
	m.notifier.Notify(ctx, "Sync failed",
		fmt.Sprintf("%s could not be synced after %d attempts: %v", it.Kind, attempts, cause))
	return nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err.Error()
}

// ManualSync runs a pass now. Returns ErrOffline when offline.
func (m *Manager) ManualSync(ctx context.Context) (DrainReport, error) {
	return m.DrainOnce(ctx)
}

// IsSyncing reports whether a pass is in progress.
func (m *Manager) IsSyncing() bool { return m.syncing.Load() }

// PendingCount returns the number of queued items.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.queue.Count(ctx)
}

// Status returns the current state of the manager.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	n, err := m.queue.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		IsOnline:     m.monitor.IsOnline(),
		IsSyncing:    m.syncing.Load(),
		PendingCount: n,
		LastSync:     m.lastSync,
		LastError:    m.lastError,
	}, nil
}

// QueueStatus partitions queued work against the retry ceiling.
func (m *Manager) QueueStatus(ctx context.Context) (queue.Status, error) {
	return m.queue.Status(ctx, m.maxRetries)
}

// ClearFailedItems drops every failed item. Returns how many were removed.
func (m *Manager) ClearFailedItems(ctx context.Context) (int, error) {
	n, err := m.queue.ClearFailed(ctx, m.maxRetries)
	if err != nil {
		return n, fmt.Errorf("sync: clear failed: %w", err)
	}
	slog.Info("cleared failed sync items", "count", n)
	return n, nil
}

// DeadLetters lists quarantined items.
func (m *Manager) DeadLetters(ctx context.Context) ([]queue.DeadLetter, error) {
	return m.queue.DeadLetters(ctx)
}

// RetrySpecificItem resets one item's retry count, reviving it from the
// dead-letter table if it was quarantined. When online it then replays that
// item alone and reports true if it synced. A failed replay is returned as
// an error, after the usual retry bookkeeping. Offline, the item only gets
// its fresh budget and false is returned. ErrBusy means a pass is running
// and the item was not attempted.
func (m *Manager) RetrySpecificItem(ctx context.Context, id int64) (bool, error) {
	err := m.queue.UpdateRetryCount(ctx, id, 0)
	if errors.Is(err, store.ErrNotFound) {
		_, err = m.queue.Revive(ctx, id)
	}
	if err != nil {
		return false, fmt.Errorf("sync: retry item %d: %w", id, err)
	}

	if !m.monitor.IsOnline() {
		return false, nil
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return false, ErrBusy
	}
	defer m.syncing.Store(false)

	it, err := m.queue.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("sync: retry item %d: %w", id, err)
	}
	res, cause, err := m.attempt(ctx, it)
	if err != nil {
		return false, err
	}
	m.finishPass(ctx, cause, res == itemSucceeded)
	if res != itemSucceeded {
		return false, fmt.Errorf("sync: retry item %d: %w", id, cause)
	}
	return true, nil
}
