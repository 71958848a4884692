package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaksy/photonest/internal/config"
	"github.com/minaksy/photonest/internal/facade"
	"github.com/minaksy/photonest/internal/models"
	"github.com/minaksy/photonest/internal/remote"
)

// stubRemote is a healthy remote service with canned responses.
type stubRemote struct{}

func (stubRemote) SetFavorite(context.Context, string, bool) (*remote.MutationResult, error) {
	return &remote.MutationResult{OK: true}, nil
}

func (stubRemote) SetTags(context.Context, string, []string) (*remote.MutationResult, error) {
	return &remote.MutationResult{OK: true}, nil
}

func (stubRemote) Search(context.Context, string, int) ([]remote.SearchHit, error) {
	return []remote.SearchHit{{Path: "/hit.jpg", Score: 0.8}}, nil
}

func (stubRemote) ListLibrary(context.Context, string, int) (*remote.LibraryPage, error) {
	return &remote.LibraryPage{}, nil
}

func (stubRemote) GetMetadata(context.Context, string) (*models.PhotoMetadata, error) {
	return &models.PhotoMetadata{Favorite: true}, nil
}

func (stubRemote) GetThumbnail(context.Context, string) ([]byte, error) {
	return []byte("bytes"), nil
}

func (stubRemote) Ping(context.Context) error { return nil }

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	engine, err := facade.New(cfg, nil, stubRemote{})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(engine).Routes(r)
	return r
}

func doRequest(t *testing.T, r chi.Router, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestSearchRequiresQuery(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchReturnsSourceAnnotatedResults(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodGet, "/api/search?q=sunset", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp facade.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, facade.SourceOnline, resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/hit.jpg", resp.Results[0].Path)
}

func TestSetFavoriteValidation(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/api/favorite", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/favorite", `{"favorite":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path is required")
}

func TestSetFavoriteQueuesAction(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodPost, "/api/favorite",
		`{"path":"/a.jpg","favorite":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp facade.MutationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ActionID)
	assert.Equal(t, facade.SourceOnline, resp.Source)
}

func TestSetTagsQueuesAction(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodPost, "/api/tags",
		`{"path":"/a.jpg","tags":["beach"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp facade.MutationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ActionID)
}

func TestMetadataRequiresPath(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodGet, "/api/metadata", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStatusAndQueue(t *testing.T) {
	r := newTestRouter(t)
	doRequest(t, r, http.MethodPost, "/api/favorite", `{"path":"/a.jpg","favorite":true}`)

	rec := doRequest(t, r, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status facade.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.ConnectivityOnline, status.Connectivity.Status)
	assert.Equal(t, 1, status.Queue.QueueLength)

	rec = doRequest(t, r, http.MethodGet, "/api/sync/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var queue struct {
		Actions []models.QueuedAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	assert.Len(t, queue.Actions, 1)
}

func TestRetryUnknownActionIs404(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(t, r, http.MethodPost, "/api/sync/retry/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	doRequest(t, r, http.MethodPost, "/api/favorite", `{"path":"/a.jpg","favorite":true}`)

	rec := doRequest(t, r, http.MethodGet, "/api/diagnostics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []models.DiagnosticEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Events)
}
