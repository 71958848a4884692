// Package connectivity tracks whether the remote indexing service is
// actually reachable, combining the host link signal with an active
// probe.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/minaksy/photonest/internal/diagnostics"
	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/models"
)

// Probe performs one reachability check against the remote service.
type Probe func(ctx context.Context) error

// Config holds monitor tuning parameters.
type Config struct {
	ActiveInterval   time.Duration // probe interval while the app is in use
	IdleInterval     time.Duration // probe interval after ActivityWindow of quiet
	ActivityWindow   time.Duration // how long after MarkActive the app counts as active
	ProbeTimeout     time.Duration
	FailureThreshold int // consecutive probe failures before declaring offline
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:   1200 * time.Millisecond,
		IdleInterval:     15 * time.Second,
		ActivityWindow:   30 * time.Second,
		ProbeTimeout:     2 * time.Second,
		FailureThreshold: 2,
	}
}

// Monitor owns the process-wide connectivity state.
type Monitor struct {
	probe Probe
	hub   *diagnostics.Hub
	cfg   Config

	mu           sync.Mutex
	state        models.ConnectivityState
	linkUp       bool
	lastActivity time.Time
	subs         map[int]func(models.ConnectivityStatus)
	nextSub      int

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a Monitor. The monitor starts optimistically online;
// the first failed probes will correct that within one debounce window.
func NewMonitor(probe Probe, hub *diagnostics.Hub, cfg Config) *Monitor {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}
	return &Monitor{
		probe:  probe,
		hub:    hub,
		cfg:    cfg,
		linkUp: true,
		state: models.ConnectivityState{
			Status:       models.ConnectivityOnline,
			LastChangeAt: time.Now().Unix(),
		},
		subs:   make(map[int]func(models.ConnectivityStatus)),
		stopCh: make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop terminates the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Status returns the confirmed connectivity status.
func (m *Monitor) Status() models.ConnectivityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

// State returns a copy of the full connectivity state.
func (m *Monitor) State() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a callback invoked synchronously on every
// confirmed transition. Returns an unsubscribe handle.
func (m *Monitor) Subscribe(fn func(models.ConnectivityStatus)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// MarkActive records user activity, keeping the probe on its short
// interval.
func (m *Monitor) MarkActive() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// SetLinkUp feeds the host's raw reachability signal into the monitor.
// A down link counts like a failed probe; a link coming back up resets
// the failure counter so the next successful probe flips us online.
func (m *Monitor) SetLinkUp(up bool) {
	m.mu.Lock()
	wasUp := m.linkUp
	m.linkUp = up
	if up && !wasUp {
		m.state.ConsecutiveFailures = 0
	}
	m.mu.Unlock()
}

// CheckNow runs one probe evaluation immediately. It returns the status
// after the check.
func (m *Monitor) CheckNow(ctx context.Context) models.ConnectivityStatus {
	m.mu.Lock()
	linkUp := m.linkUp
	m.mu.Unlock()

	var err error
	if !linkUp {
		err = errLinkDown
	} else {
		probeCtx := ctx
		if m.cfg.ProbeTimeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()
		}
		err = m.probe(probeCtx)
	}

	return m.recordProbe(err)
}

// recordProbe applies one probe result to the state machine.
func (m *Monitor) recordProbe(err error) models.ConnectivityStatus {
	m.mu.Lock()

	if err == nil {
		m.state.ConsecutiveFailures = 0
		if m.state.Status == models.ConnectivityOffline {
			m.transitionLocked(models.ConnectivityOnline)
			return m.state.Status // transitionLocked released the lock
		}
		status := m.state.Status
		m.mu.Unlock()
		return status
	}

	m.state.ConsecutiveFailures++
	if m.state.Status == models.ConnectivityOnline &&
		m.state.ConsecutiveFailures >= m.cfg.FailureThreshold {
		m.transitionLocked(models.ConnectivityOffline)
		return models.ConnectivityOffline
	}
	status := m.state.Status
	m.mu.Unlock()
	return status
}

// transitionLocked flips the status, emits a diagnostics event, and
// notifies subscribers synchronously. It is entered holding the lock
// and releases it before invoking callbacks.
func (m *Monitor) transitionLocked(status models.ConnectivityStatus) {
	m.state.Status = status
	m.state.LastChangeAt = time.Now().Unix()
	state := m.state
	subs := make([]func(models.ConnectivityStatus), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity transition",
		map[string]interface{}{
			"status":   string(status),
			"failures": state.ConsecutiveFailures,
		})

	if m.hub != nil {
		m.hub.Append(models.NewDiagnosticEvent(models.EventConnectivityStatus,
			map[string]interface{}{
				"status":         string(status),
				"last_change_at": state.LastChangeAt,
			}))
	}
	for _, fn := range subs {
		fn(status)
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(0) // probe immediately on start
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-timer.C:
			m.CheckNow(ctx)
			timer.Reset(m.nextInterval())
		}
	}
}

// nextInterval picks the probe interval based on recent activity.
func (m *Monitor) nextInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastActivity) <= m.cfg.ActivityWindow {
		return m.cfg.ActiveInterval
	}
	return m.cfg.IdleInterval
}

type linkDownError struct{}

func (linkDownError) Error() string { return "host link is down" }

var errLinkDown = linkDownError{}
