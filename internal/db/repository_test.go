package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaksy/photonest/internal/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	database, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.DB)
}

func sampleAction(id, path string) *models.QueuedAction {
	now := time.Now().Unix()
	return &models.QueuedAction{
		ID:        id,
		Type:      models.ActionFavorite,
		Key:       path,
		Payload:   json.RawMessage(`{"favorite":true}`),
		Status:    models.ActionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	database, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	// Reopening must not choke on the existing schema.
	database, err = Open(dir)
	require.NoError(t, err)
	require.NoError(t, database.Close())
}

func TestSaveAndLoadActions(t *testing.T) {
	repo := newTestRepository(t)

	a := sampleAction("id-1", "/a.jpg")
	a.Attempts = 3
	a.Status = models.ActionStatusDeferred
	a.NextRetryAt = time.Now().Add(time.Minute).Unix()
	a.LastError = "gateway timeout"
	require.NoError(t, repo.SaveAction(a))

	actions, err := repo.LoadActions()
	require.NoError(t, err)
	require.Len(t, actions, 1)

	got := actions[0]
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Type, got.Type)
	assert.Equal(t, a.Key, got.Key)
	assert.JSONEq(t, string(a.Payload), string(got.Payload))
	assert.Equal(t, a.Status, got.Status)
	assert.Equal(t, a.Attempts, got.Attempts)
	assert.Equal(t, a.NextRetryAt, got.NextRetryAt)
	assert.Equal(t, a.LastError, got.LastError)
}

func TestSaveActionUpserts(t *testing.T) {
	repo := newTestRepository(t)

	a := sampleAction("id-1", "/a.jpg")
	require.NoError(t, repo.SaveAction(a))

	a.Payload = json.RawMessage(`{"favorite":false}`)
	a.Attempts = 1
	require.NoError(t, repo.SaveAction(a))

	actions, err := repo.LoadActions()
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.JSONEq(t, `{"favorite":false}`, string(actions[0].Payload))
	assert.Equal(t, 1, actions[0].Attempts)
}

func TestDeleteAction(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveAction(sampleAction("id-1", "/a.jpg")))
	require.NoError(t, repo.DeleteAction("id-1"))
	require.NoError(t, repo.DeleteAction("id-1"), "deleting twice is fine")

	actions, err := repo.LoadActions()
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestLoadActionsDropsCorruptRows(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveAction(sampleAction("good", "/a.jpg")))

	// Write rows the validation layer must reject.
	insert := func(id, actionType, target, payload, status string) {
		_, err := repo.db.Exec(`
			INSERT INTO action_queue (id, type, target, payload, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, 0)`, id, actionType, target, payload, status)
		require.NoError(t, err)
	}
	insert("bad-type", "rotate", "/b.jpg", `{}`, "pending")
	insert("bad-payload", "favorite", "/c.jpg", `{not json`, "pending")
	insert("bad-status", "favorite", "/d.jpg", `{"favorite":true}`, "exploded")
	insert("bad-key", "favorite", "", `{"favorite":true}`, "pending")

	actions, err := repo.LoadActions()
	require.NoError(t, err)
	require.Len(t, actions, 1, "corrupt rows are dropped, not fatal")
	assert.Equal(t, "good", actions[0].ID)

	// The corrupt rows are gone for good.
	var count int
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM action_queue").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveAndLoadPhotos(t *testing.T) {
	repo := newTestRepository(t)

	p := &models.PhotoRecord{
		Path:      "/a.jpg",
		Thumbnail: []byte{0xff, 0xd8, 0xff},
		Metadata: models.PhotoMetadata{
			Tags:     []string{"beach", "sunset"},
			Favorite: true,
			Caption:  "evening",
			EXIF:     map[string]string{"Model": "X100"},
		},
		CachedAt:     time.Now().Unix(),
		LastAccessed: time.Now().Unix(),
	}
	require.NoError(t, repo.SavePhoto(p))

	photos, err := repo.LoadPhotos()
	require.NoError(t, err)
	require.Len(t, photos, 1)

	got := photos[0]
	assert.Equal(t, p.Path, got.Path)
	assert.Equal(t, p.Thumbnail, got.Thumbnail)
	assert.Equal(t, p.Metadata, got.Metadata)
}

func TestClearThumbnailKeepsMetadata(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SavePhoto(&models.PhotoRecord{
		Path:      "/a.jpg",
		Thumbnail: make([]byte, 100),
		Metadata:  models.PhotoMetadata{Caption: "still searchable"},
		CachedAt:  1, LastAccessed: 1,
	}))
	require.NoError(t, repo.ClearThumbnail("/a.jpg"))

	photos, err := repo.LoadPhotos()
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Empty(t, photos[0].Thumbnail)
	assert.Equal(t, "still searchable", photos[0].Metadata.Caption)
}

func TestTouchPhoto(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SavePhoto(&models.PhotoRecord{
		Path: "/a.jpg", CachedAt: 1, LastAccessed: 1,
		Metadata: models.PhotoMetadata{},
	}))
	require.NoError(t, repo.TouchPhoto("/a.jpg", 99))

	photos, err := repo.LoadPhotos()
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, int64(99), photos[0].LastAccessed)
}

func TestLoadPhotosDropsCorruptMetadata(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SavePhoto(&models.PhotoRecord{
		Path: "/good.jpg", CachedAt: 1, LastAccessed: 1,
	}))
	_, err := repo.db.Exec(`
		INSERT INTO photo_cache (path, metadata, cached_at, last_accessed)
		VALUES ('/bad.jpg', '{oops', 1, 1)`)
	require.NoError(t, err)

	photos, err := repo.LoadPhotos()
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "/good.jpg", photos[0].Path)
}
