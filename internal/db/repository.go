package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/models"
)

// Repository provides persistence for queued actions and cached photos.
// The queue and cache keep authoritative in-memory state; the repository
// only has to survive a restart.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// =====================================================
// Action queue operations
// =====================================================

// SaveAction inserts or updates a queued action.
func (r *Repository) SaveAction(a *models.QueuedAction) error {
	query := `
	INSERT INTO action_queue (id, type, target, payload, status, attempts, next_retry_at, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		target = excluded.target,
		payload = excluded.payload,
		status = excluded.status,
		attempts = excluded.attempts,
		next_retry_at = excluded.next_retry_at,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, a.ID, a.Type, a.Key, string(a.Payload), a.Status,
		a.Attempts, a.NextRetryAt, a.LastError, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save action %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAction removes a queued action by id.
func (r *Repository) DeleteAction(id string) error {
	_, err := r.db.Exec("DELETE FROM action_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete action %s: %w", id, err)
	}
	return nil
}

// LoadActions reads every persisted action. Malformed rows are deleted
// and logged rather than blocking startup.
func (r *Repository) LoadActions() ([]*models.QueuedAction, error) {
	rows, err := r.db.Query(`
		SELECT id, type, target, payload, status, attempts, next_retry_at, last_error, created_at, updated_at
		FROM action_queue ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load action queue: %w", err)
	}
	defer rows.Close()

	var actions []*models.QueuedAction
	var corrupt []string

	for rows.Next() {
		var a models.QueuedAction
		var payload string
		if err := rows.Scan(&a.ID, &a.Type, &a.Key, &payload, &a.Status,
			&a.Attempts, &a.NextRetryAt, &a.LastError, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		a.Payload = json.RawMessage(payload)

		if err := validateAction(&a); err != nil {
			logging.Warn("Discarding corrupt queue record",
				map[string]interface{}{"action_id": a.ID, "reason": err.Error()})
			corrupt = append(corrupt, a.ID)
			continue
		}
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action rows: %w", err)
	}

	for _, id := range corrupt {
		if err := r.DeleteAction(id); err != nil {
			logging.Warn("Failed to delete corrupt queue record",
				map[string]interface{}{"action_id": id, "error": err.Error()})
		}
	}

	return actions, nil
}

func validateAction(a *models.QueuedAction) error {
	switch a.Type {
	case models.ActionFavorite, models.ActionSetTags:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	switch a.Status {
	case models.ActionStatusPending, models.ActionStatusInFlight,
		models.ActionStatusDeferred, models.ActionStatusFailed:
	default:
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if a.Key == "" {
		return fmt.Errorf("empty target key")
	}
	return models.ValidatePayload(a.Type, a.Payload)
}

// =====================================================
// Photo cache operations
// =====================================================

// SavePhoto inserts or updates a cached photo record.
func (r *Repository) SavePhoto(p *models.PhotoRecord) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", p.Path, err)
	}

	query := `
	INSERT INTO photo_cache (path, thumbnail, metadata, cached_at, last_accessed)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		thumbnail = excluded.thumbnail,
		metadata = excluded.metadata,
		cached_at = excluded.cached_at,
		last_accessed = excluded.last_accessed
	`
	if _, err := r.db.Exec(query, p.Path, p.Thumbnail, string(meta), p.CachedAt, p.LastAccessed); err != nil {
		return fmt.Errorf("failed to save photo %s: %w", p.Path, err)
	}
	return nil
}

// DeletePhoto removes a cached photo record entirely.
func (r *Repository) DeletePhoto(path string) error {
	if _, err := r.db.Exec("DELETE FROM photo_cache WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete photo %s: %w", path, err)
	}
	return nil
}

// ClearThumbnail drops only the thumbnail bytes, keeping the metadata.
func (r *Repository) ClearThumbnail(path string) error {
	if _, err := r.db.Exec("UPDATE photo_cache SET thumbnail = NULL WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to clear thumbnail for %s: %w", path, err)
	}
	return nil
}

// TouchPhoto updates the last-accessed timestamp.
func (r *Repository) TouchPhoto(path string, lastAccessed int64) error {
	if _, err := r.db.Exec("UPDATE photo_cache SET last_accessed = ? WHERE path = ?", lastAccessed, path); err != nil {
		return fmt.Errorf("failed to touch photo %s: %w", path, err)
	}
	return nil
}

// LoadPhotos reads every cached photo. Rows with unreadable metadata are
// deleted and logged rather than blocking startup.
func (r *Repository) LoadPhotos() ([]*models.PhotoRecord, error) {
	rows, err := r.db.Query(`
		SELECT path, thumbnail, metadata, cached_at, last_accessed
		FROM photo_cache ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load photo cache: %w", err)
	}
	defer rows.Close()

	var photos []*models.PhotoRecord
	var corrupt []string

	for rows.Next() {
		var p models.PhotoRecord
		var meta string
		if err := rows.Scan(&p.Path, &p.Thumbnail, &meta, &p.CachedAt, &p.LastAccessed); err != nil {
			return nil, fmt.Errorf("failed to scan photo row: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
			logging.Warn("Discarding corrupt photo cache record",
				map[string]interface{}{"path": p.Path, "reason": err.Error()})
			corrupt = append(corrupt, p.Path)
			continue
		}
		photos = append(photos, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo rows: %w", err)
	}

	for _, path := range corrupt {
		if err := r.DeletePhoto(path); err != nil {
			logging.Warn("Failed to delete corrupt photo record",
				map[string]interface{}{"path": path, "error": err.Error()})
		}
	}

	return photos, nil
}
