// Package queue provides the durable action queue for offline mutations,
// with per-key coalescing, exponential backoff, and dead-lettering.
package queue

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/minaksy/photonest/internal/diagnostics"
	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/models"
	"github.com/minaksy/photonest/internal/uuid"
)

// Store persists queue state across restarts. *db.Repository satisfies it.
type Store interface {
	SaveAction(a *models.QueuedAction) error
	DeleteAction(id string) error
	LoadActions() ([]*models.QueuedAction, error)
}

// Config holds queue tuning parameters.
type Config struct {
	MaxSize      int           // hard cap on queued actions
	MaxAttempts  int           // attempts before dead-lettering
	BackoffFloor time.Duration // minimum retry delay
	BackoffCap   time.Duration // maximum retry delay
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:      1000,
		MaxAttempts:  8,
		BackoffFloor: 30 * time.Second,
		BackoffCap:   time.Hour,
	}
}

// Queue is the durable action queue. In-memory state is authoritative;
// the store only has to survive a restart. All mutation goes through the
// internal lock so FIFO ordering and coalescing stay deterministic under
// concurrent enqueues.
type Queue struct {
	mu     sync.Mutex
	cfg    Config
	store  Store
	hub    *diagnostics.Hub
	byID   map[string]*models.QueuedAction
	bySlot map[string]string // coalesce key -> id of the non-terminal action
	notify chan struct{}
}

// New creates a Queue, loading persisted actions from the store. Actions
// that were in flight when the process died are reset to pending.
func New(store Store, hub *diagnostics.Hub, cfg Config) (*Queue, error) {
	q := &Queue{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		byID:   make(map[string]*models.QueuedAction),
		bySlot: make(map[string]string),
		notify: make(chan struct{}, 1),
	}

	if store != nil {
		actions, err := store.LoadActions()
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if a.Status == models.ActionStatusInFlight {
				a.Status = models.ActionStatusPending
			}
			q.byID[a.ID] = a
			if !a.IsTerminal() {
				q.bySlot[a.CoalesceKey()] = a.ID
			}
		}
		if len(actions) > 0 {
			logging.Info("Restored action queue",
				map[string]interface{}{"actions": len(actions)})
			q.signal()
		}
	}

	return q, nil
}

// C returns a channel that receives a tick whenever work may have become
// available. The channel has capacity one; ticks are collapsed.
func (q *Queue) C() <-chan struct{} {
	return q.notify
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue records a mutation. A later enqueue for the same (type, key)
// coalesces into the existing non-terminal entry: the payload is
// replaced, createdAt is kept, and the attempt counter resets. Only the
// final value matters under last-writer-wins.
func (q *Queue) Enqueue(actionType models.ActionType, key string, payload json.RawMessage) (*models.QueuedAction, error) {
	if key == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "target key is required")
	}
	if err := models.ValidatePayload(actionType, payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid action payload", err)
	}

	q.mu.Lock()
	now := time.Now().Unix()
	slot := string(actionType) + "\x00" + key

	var action *models.QueuedAction
	if id, ok := q.bySlot[slot]; ok {
		action = q.byID[id]
		action.Payload = payload
		action.Attempts = 0
		action.NextRetryAt = 0
		action.LastError = ""
		action.UpdatedAt = now
		if action.Status == models.ActionStatusDeferred {
			action.Status = models.ActionStatusPending
		}
	} else {
		if q.cfg.MaxSize > 0 && len(q.byID) >= q.cfg.MaxSize {
			q.mu.Unlock()
			return nil, apperrors.New(apperrors.ErrQueueFull, "action queue is full")
		}
		action = &models.QueuedAction{
			ID:        uuid.New(),
			Type:      actionType,
			Key:       key,
			Payload:   payload,
			Status:    models.ActionStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		q.byID[action.ID] = action
		q.bySlot[slot] = action.ID
	}

	q.persistLocked(action)
	result := cloneAction(action)
	snapshot := q.snapshotLocked(now)
	q.mu.Unlock()

	q.signal()
	q.emitSnapshot(snapshot)
	return result, nil
}

// PeekReady returns copies of the pending and deferred actions whose
// retry time has arrived, ordered by createdAt ascending.
func (q *Queue) PeekReady(now time.Time) []*models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts := now.Unix()
	var ready []*models.QueuedAction
	for _, a := range q.byID {
		switch a.Status {
		case models.ActionStatusPending, models.ActionStatusDeferred:
			if a.NextRetryAt <= ts {
				ready = append(ready, cloneAction(a))
			}
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].CreatedAt != ready[j].CreatedAt {
			return ready[i].CreatedAt < ready[j].CreatedAt
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// MarkInFlight transitions an action to in-flight before replay.
func (q *Queue) MarkInFlight(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.byID[id]
	if !ok {
		return apperrors.New(apperrors.ErrActionNotFound, "action not in queue")
	}
	a.Status = models.ActionStatusInFlight
	a.UpdatedAt = time.Now().Unix()
	q.persistLocked(a)
	return nil
}

// MarkSucceeded removes a replayed action. The dispatched copy is
// compared against the live entry: if the payload was coalesced while
// the call was in flight, the entry stays pending so the newer value is
// replayed too.
func (q *Queue) MarkSucceeded(dispatched *models.QueuedAction) error {
	q.mu.Lock()

	a, ok := q.byID[dispatched.ID]
	if !ok {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrActionNotFound, "action not in queue")
	}

	if string(a.Payload) != string(dispatched.Payload) {
		a.Status = models.ActionStatusPending
		a.UpdatedAt = time.Now().Unix()
		q.persistLocked(a)
		q.mu.Unlock()
		q.signal()
		return nil
	}

	delete(q.byID, a.ID)
	if q.bySlot[a.CoalesceKey()] == a.ID {
		delete(q.bySlot, a.CoalesceKey())
	}
	if q.store != nil {
		if err := q.store.DeleteAction(a.ID); err != nil {
			logging.Warn("Failed to delete completed action",
				map[string]interface{}{"action_id": a.ID, "error": err.Error()})
		}
	}
	snapshot := q.snapshotLocked(time.Now().Unix())
	q.mu.Unlock()

	q.emitSnapshot(snapshot)
	return nil
}

// MarkFailed records a replay failure. Permanent errors dead-letter the
// action immediately; transient errors defer it with exponential backoff
// until MaxAttempts is exhausted.
func (q *Queue) MarkFailed(id string, cause error) error {
	q.mu.Lock()

	a, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrActionNotFound, "action not in queue")
	}

	now := time.Now()
	a.UpdatedAt = now.Unix()
	if cause != nil {
		a.LastError = cause.Error()
	}

	deadLettered := false
	switch {
	case apperrors.IsPermanent(cause):
		a.Status = models.ActionStatusFailed
		deadLettered = true
	default:
		a.Attempts++
		if a.Attempts >= q.cfg.MaxAttempts {
			a.Status = models.ActionStatusFailed
			deadLettered = true
		} else {
			a.Status = models.ActionStatusDeferred
			a.NextRetryAt = now.Add(q.backoff(a.Attempts)).Unix()
		}
	}
	if deadLettered {
		// The slot frees up so a fresh mutation for the same key can be
		// queued while the dead letter awaits manual retry.
		if q.bySlot[a.CoalesceKey()] == a.ID {
			delete(q.bySlot, a.CoalesceKey())
		}
		logging.Warn("Action dead-lettered",
			map[string]interface{}{
				"action_id": a.ID,
				"type":      string(a.Type),
				"key":       a.Key,
				"attempts":  a.Attempts,
				"error":     a.LastError,
			})
	}
	q.persistLocked(a)
	snapshot := q.snapshotLocked(now.Unix())
	q.mu.Unlock()

	if deadLettered {
		q.emitSnapshot(snapshot)
	}
	return nil
}

// Retry resets a dead-lettered action for another round of replays.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()

	a, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrActionNotFound, "action not in queue")
	}
	if a.Status != models.ActionStatusFailed {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalid, "only failed actions can be retried manually")
	}

	slot := a.CoalesceKey()
	if otherID, ok := q.bySlot[slot]; ok && otherID != a.ID {
		// A newer mutation for the same key superseded this dead letter.
		delete(q.byID, a.ID)
		if q.store != nil {
			if err := q.store.DeleteAction(a.ID); err != nil {
				logging.Warn("Failed to delete superseded dead letter",
					map[string]interface{}{"action_id": a.ID, "error": err.Error()})
			}
		}
		q.mu.Unlock()
		return nil
	}

	a.Status = models.ActionStatusPending
	a.Attempts = 0
	a.NextRetryAt = 0
	a.LastError = ""
	a.UpdatedAt = time.Now().Unix()
	q.bySlot[slot] = a.ID
	q.persistLocked(a)
	q.mu.Unlock()

	q.signal()
	return nil
}

// HasPending reports whether any non-terminal action targets the path.
// The cache uses this to pin records against eviction.
func (q *Queue) HasPending(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.byID {
		if a.Key == path && !a.IsTerminal() {
			return true
		}
	}
	return false
}

// Snapshot returns current queue statistics.
func (q *Queue) Snapshot() models.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked(time.Now().Unix())
}

// List returns copies of every queued action, oldest first. Dead letters
// are included so the UI can offer manual retry.
func (q *Queue) List() []*models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.QueuedAction, 0, len(q.byID))
	for _, a := range q.byID {
		out = append(out, cloneAction(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of queued actions, dead letters included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

func (q *Queue) snapshotLocked(now int64) models.QueueSnapshot {
	s := models.QueueSnapshot{NextRetryInMs: -1}
	for _, a := range q.byID {
		s.QueueLength++
		switch a.Status {
		case models.ActionStatusPending, models.ActionStatusDeferred:
			if a.NextRetryAt <= now {
				s.ReadyLength++
			} else {
				s.DeferredLength++
				waitMs := (a.NextRetryAt - now) * 1000
				if s.NextRetryInMs < 0 || waitMs < s.NextRetryInMs {
					s.NextRetryInMs = waitMs
				}
			}
		case models.ActionStatusFailed:
			s.FailedLength++
		}
	}
	if s.ReadyLength > 0 {
		s.NextRetryInMs = 0
	}
	return s
}

func (q *Queue) emitSnapshot(s models.QueueSnapshot) {
	if q.hub == nil {
		return
	}
	q.hub.Append(models.NewDiagnosticEvent(models.EventQueueSnapshot,
		map[string]interface{}{
			"queue_length":     s.QueueLength,
			"ready_length":     s.ReadyLength,
			"deferred_length":  s.DeferredLength,
			"failed_length":    s.FailedLength,
			"next_retry_in_ms": s.NextRetryInMs,
		}))
}

func (q *Queue) persistLocked(a *models.QueuedAction) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveAction(a); err != nil {
		logging.Warn("Failed to persist queued action",
			map[string]interface{}{"action_id": a.ID, "error": err.Error()})
	}
}

// backoff computes the retry delay for the given attempt count:
// floor * 2^(attempts-1) with +/-20% jitter, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffFloor
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap {
			d = q.cfg.BackoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	d += jitter
	if d < q.cfg.BackoffFloor {
		d = q.cfg.BackoffFloor
	}
	if d > q.cfg.BackoffCap {
		d = q.cfg.BackoffCap
	}
	return d
}

func cloneAction(a *models.QueuedAction) *models.QueuedAction {
	clone := *a
	clone.Payload = append(json.RawMessage(nil), a.Payload...)
	return &clone
}
