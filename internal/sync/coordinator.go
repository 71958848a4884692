// Package sync provides the coordinator that replays queued mutations
// against the remote service whenever connectivity allows.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minaksy/photonest/internal/cache"
	"github.com/minaksy/photonest/internal/connectivity"
	"github.com/minaksy/photonest/internal/diagnostics"
	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/models"
	"github.com/minaksy/photonest/internal/queue"
	"github.com/minaksy/photonest/internal/remote"
)

// State is the coordinator's drain state.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
	StateBackoff  State = "backoff"
)

// Config holds coordinator tuning parameters.
type Config struct {
	Workers      int           // bounded pool for distinct-key replays
	WakeInterval time.Duration // safety tick in case a signal is missed
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      3,
		WakeInterval: 30 * time.Second,
	}
}

// Coordinator drains the action queue. A single loop goroutine owns the
// state machine, so drains are serialized by construction; within one
// cycle, actions for distinct keys run on the bounded worker pool.
type Coordinator struct {
	cfg     Config
	queue   *queue.Queue
	remote  remote.API
	cache   *cache.Cache
	monitor *connectivity.Monitor
	hub     *diagnostics.Hub

	mu          sync.Mutex
	state       State
	launchStop  context.CancelFunc // cancels launching, never in-flight calls
	unsubscribe func()

	kick    chan struct{}
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	running bool
}

// New creates a Coordinator.
func New(q *queue.Queue, api remote.API, c *cache.Cache, m *connectivity.Monitor, hub *diagnostics.Hub, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.WakeInterval <= 0 {
		cfg.WakeInterval = 30 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		queue:   q,
		remote:  api,
		cache:   c,
		monitor: m,
		hub:     hub,
		state:   StateIdle,
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the drain loop and subscribes to connectivity changes.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	if c.monitor != nil {
		c.unsubscribe = c.monitor.Subscribe(func(status models.ConnectivityStatus) {
			if status == models.ConnectivityOffline {
				c.pause()
			} else {
				c.Kick()
			}
		})
	}

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop terminates the drain loop. In-flight remote calls finish first.
func (c *Coordinator) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.wg.Wait()
}

// State returns the current drain state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Kick asks the loop to re-evaluate the queue soon. Safe from any
// goroutine; ticks are collapsed.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// pause stops launching new actions. In-flight calls are allowed to
// finish; the cycle then parks in Idle until connectivity returns.
func (c *Coordinator) pause() {
	c.mu.Lock()
	if c.launchStop != nil {
		c.launchStop()
	}
	c.mu.Unlock()
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	// The retry timer wakes the loop when the earliest deferred action
	// becomes ready again (Backoff -> Draining).
	retry := time.NewTimer(c.cfg.WakeInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.queue.C():
		case <-c.kick:
		case <-retry.C:
		}

		wait := c.runWhileReady(ctx)

		if !retry.Stop() {
			select {
			case <-retry.C:
			default:
			}
		}
		retry.Reset(wait)
	}
}

// runWhileReady drains cycles until the queue has no ready work or
// connectivity drops, then returns how long to sleep before the next
// forced wake-up.
func (c *Coordinator) runWhileReady(ctx context.Context) time.Duration {
	for {
		if c.monitor != nil && c.monitor.Status() != models.ConnectivityOnline {
			c.setState(StateIdle)
			return c.cfg.WakeInterval
		}

		ready := c.queue.PeekReady(time.Now())
		if len(ready) == 0 {
			return c.idleWait()
		}

		if transient := c.drainCycle(ctx, ready); transient {
			// The service is flapping; let the backoff window pass
			// instead of hammering the remaining ready actions.
			c.setState(StateBackoff)
			return c.cfg.WakeInterval
		}

		select {
		case <-c.stopCh:
			return c.cfg.WakeInterval
		default:
		}
	}
}

// idleWait parks the state machine: Backoff when deferred work exists,
// Idle otherwise. Returns the time until the next forced wake-up.
func (c *Coordinator) idleWait() time.Duration {
	snapshot := c.queue.Snapshot()
	if snapshot.NextRetryInMs > 0 {
		c.setState(StateBackoff)
		wait := time.Duration(snapshot.NextRetryInMs) * time.Millisecond
		if wait > c.cfg.WakeInterval {
			wait = c.cfg.WakeInterval
		}
		return wait
	}
	c.setState(StateIdle)
	return c.cfg.WakeInterval
}

// drainCycle replays one batch of ready actions. Actions sharing a
// target key are replayed in order within one worker; distinct keys run
// concurrently up to the pool cap. The first transient failure stops
// further launches for this cycle. Reports whether a transient failure
// was seen.
func (c *Coordinator) drainCycle(ctx context.Context, ready []*models.QueuedAction) bool {
	c.setState(StateDraining)
	started := time.Now()

	launchCtx, cancelLaunch := context.WithCancel(context.Background())
	c.mu.Lock()
	c.launchStop = cancelLaunch
	c.mu.Unlock()
	defer func() {
		cancelLaunch()
		c.mu.Lock()
		c.launchStop = nil
		c.mu.Unlock()
	}()

	// Group by key, preserving FIFO order inside each group.
	groups := make(map[string][]*models.QueuedAction)
	var order []string
	for _, a := range ready {
		if _, seen := groups[a.Key]; !seen {
			order = append(order, a.Key)
		}
		groups[a.Key] = append(groups[a.Key], a)
	}

	var mu sync.Mutex
	var synced, failed int
	var transientSeen bool

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)

	for _, key := range order {
		if launchCtx.Err() != nil {
			break
		}
		actions := groups[key]
		g.Go(func() error {
			for _, a := range actions {
				if launchCtx.Err() != nil {
					return nil
				}
				ok, transient := c.replay(ctx, a)
				mu.Lock()
				if ok {
					synced++
				} else {
					failed++
				}
				mu.Unlock()
				if transient {
					// Defer the rest of the cycle; backoff handles it.
					mu.Lock()
					transientSeen = true
					mu.Unlock()
					cancelLaunch()
					return nil
				}
			}
			return nil
		})
	}
	g.Wait()

	snapshot := c.queue.Snapshot()
	logging.Info("Drain cycle finished",
		map[string]interface{}{
			"synced":      synced,
			"failed":      failed,
			"duration_ms": time.Since(started).Milliseconds(),
			"remaining":   snapshot.QueueLength,
		})
	if c.hub != nil {
		c.hub.Append(models.NewDiagnosticEvent(models.EventSyncCycle,
			map[string]interface{}{
				"synced_count":     synced,
				"failed_count":     failed,
				"next_retry_in_ms": snapshot.NextRetryInMs,
			}))
	}
	return transientSeen
}

// replay sends one action to the remote service. Returns whether it
// succeeded and whether a failure was transient. The call itself is not
// cancelled by a connectivity drop: a replay that already left is
// allowed to finish.
func (c *Coordinator) replay(ctx context.Context, a *models.QueuedAction) (ok bool, transient bool) {
	if err := c.queue.MarkInFlight(a.ID); err != nil {
		// Coalesced away or completed by a manual retry; nothing to do.
		return false, false
	}

	result, err := c.send(ctx, a)
	if err != nil {
		transient = apperrors.IsTransient(err)
		if markErr := c.queue.MarkFailed(a.ID, err); markErr != nil {
			logging.Warn("Failed to record replay failure",
				map[string]interface{}{"action_id": a.ID, "error": markErr.Error()})
		}
		logging.Warn("Replay failed",
			map[string]interface{}{
				"action_id": a.ID,
				"type":      string(a.Type),
				"key":       a.Key,
				"transient": transient,
				"error":     err.Error(),
			})
		return false, transient
	}

	if err := c.queue.MarkSucceeded(a); err != nil {
		logging.Warn("Failed to record replay success",
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
	}
	if result != nil && result.Metadata != nil && c.cache != nil {
		// The remote response carries the authoritative record.
		c.cache.StoreMetadata(a.Key, *result.Metadata)
	}
	return true, false
}

func (c *Coordinator) send(ctx context.Context, a *models.QueuedAction) (*remote.MutationResult, error) {
	switch a.Type {
	case models.ActionFavorite:
		var p models.FavoritePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidationPermanent, "undecodable favorite payload", err)
		}
		return c.remote.SetFavorite(ctx, a.Key, p.Favorite)
	case models.ActionSetTags:
		var p models.TagsPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidationPermanent, "undecodable tags payload", err)
		}
		return c.remote.SetTags(ctx, a.Key, p.Tags)
	default:
		return nil, apperrors.New(apperrors.ErrValidationPermanent, "unknown action type")
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
