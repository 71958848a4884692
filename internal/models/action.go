package models

import (
	"encoding/json"
	"fmt"
)

// ActionType identifies the kind of queued mutation.
type ActionType string

const (
	ActionFavorite ActionType = "favorite"
	ActionSetTags  ActionType = "set_tags"
)

// ActionStatus tracks a queued action through its lifecycle.
type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "pending"
	ActionStatusInFlight ActionStatus = "in_flight"
	ActionStatusDeferred ActionStatus = "deferred"
	ActionStatusFailed   ActionStatus = "failed" // dead-letter, manual retry only
)

// QueuedAction is a user mutation captured while offline (or after an
// online write failed transiently), waiting to be replayed against the
// remote API.
type QueuedAction struct {
	ID          string          `db:"id" json:"id"`
	Type        ActionType      `db:"type" json:"type"`
	Key         string          `db:"target" json:"key"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      ActionStatus    `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueuedAction.
func (QueuedAction) TableName() string {
	return "action_queue"
}

// CoalesceKey identifies the (type, target key) slot this action
// occupies. At most one non-terminal action exists per slot.
func (a *QueuedAction) CoalesceKey() string {
	return string(a.Type) + "\x00" + a.Key
}

// IsTerminal reports whether the action has left the retry lifecycle.
// Dead-lettered actions are terminal until manually retried.
func (a *QueuedAction) IsTerminal() bool {
	return a.Status == ActionStatusFailed
}

// FavoritePayload is the payload for ActionFavorite.
type FavoritePayload struct {
	Favorite bool `json:"favorite"`
}

// TagsPayload is the payload for ActionSetTags.
type TagsPayload struct {
	Tags []string `json:"tags"`
}

// ValidatePayload checks that raw decodes as the payload struct for the
// given action type. Validation happens at enqueue time, not at replay.
func ValidatePayload(actionType ActionType, raw json.RawMessage) error {
	switch actionType {
	case ActionFavorite:
		var p FavoritePayload
		return strictUnmarshal(raw, &p)
	case ActionSetTags:
		var p TagsPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.Tags == nil {
			return fmt.Errorf("set_tags payload requires a tags array")
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", actionType)
	}
}

func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}
