package facade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaksy/photonest/internal/config"
	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/models"
	"github.com/minaksy/photonest/internal/remote"
)

// fakeService simulates the remote indexing service, including an
// offline switch that fails every call with a transient error.
type fakeService struct {
	mu         sync.Mutex
	offline    bool
	rejectMut  bool // mutations fail permanently while set
	favorites  map[string]bool
	tags       map[string][]string
	searchHits []remote.SearchHit
	thumbnails map[string][]byte
}

func newFakeService() *fakeService {
	return &fakeService{
		favorites:  make(map[string]bool),
		tags:       make(map[string][]string),
		thumbnails: make(map[string][]byte),
	}
}

func (f *fakeService) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *fakeService) errIfDown() error {
	if f.offline {
		return apperrors.New(apperrors.ErrNetworkTransient, "service unreachable")
	}
	return nil
}

func (f *fakeService) SetFavorite(_ context.Context, path string, favorite bool) (*remote.MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	if f.rejectMut {
		return nil, apperrors.New(apperrors.ErrValidationPermanent, "mutation rejected")
	}
	f.favorites[path] = favorite
	return &remote.MutationResult{OK: true}, nil
}

func (f *fakeService) SetTags(_ context.Context, path string, tags []string) (*remote.MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	if f.rejectMut {
		return nil, apperrors.New(apperrors.ErrValidationPermanent, "mutation rejected")
	}
	f.tags[path] = tags
	return &remote.MutationResult{OK: true}, nil
}

func (f *fakeService) Search(_ context.Context, query string, limit int) ([]remote.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	return f.searchHits, nil
}

func (f *fakeService) ListLibrary(_ context.Context, cursor string, limit int) (*remote.LibraryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	var entries []remote.LibraryEntry
	for path := range f.thumbnails {
		entries = append(entries, remote.LibraryEntry{Path: path})
	}
	return &remote.LibraryPage{Photos: entries}, nil
}

func (f *fakeService) GetMetadata(_ context.Context, path string) (*models.PhotoMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	return &models.PhotoMetadata{
		Favorite: f.favorites[path],
		Tags:     f.tags[path],
	}, nil
}

func (f *fakeService) GetThumbnail(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errIfDown(); err != nil {
		return nil, err
	}
	data, ok := f.thumbnails[path]
	if !ok {
		return nil, apperrors.New(apperrors.ErrValidationPermanent, "no such photo")
	}
	return data, nil
}

func (f *fakeService) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errIfDown()
}

func (f *fakeService) favorite(path string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.favorites[path]
	return v, ok
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	// Tight loops so state transitions land within test timeouts.
	cfg.ProbeActiveInterval = 10 * time.Millisecond
	cfg.ProbeIdleInterval = 10 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, svc *fakeService) *Engine {
	t.Helper()
	engine, err := New(testConfig(), nil, svc)
	require.NoError(t, err)
	return engine
}

func startTestEngine(t *testing.T, svc *fakeService) *Engine {
	t.Helper()
	engine := newTestEngine(t, svc)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	t.Cleanup(func() {
		cancel()
		engine.Stop()
	})
	return engine
}

func waitForStatus(t *testing.T, engine *Engine, want models.ConnectivityStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return engine.Monitor().Status() == want
	}, 2*time.Second, 5*time.Millisecond, "connectivity never reached %s", want)
}

func TestOfflineMutationIsVisibleLocallyAndDrainsLater(t *testing.T) {
	svc := newFakeService()
	svc.setOffline(true)
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOffline)

	resp := engine.SetFavorite("/vacation/beach.jpg", true)
	assert.Equal(t, SourceOffline, resp.Source)
	assert.NotEmpty(t, resp.ActionID)

	// The optimistic write is immediately visible in the local view.
	meta, err := engine.GetMetadata(context.Background(), "/vacation/beach.jpg")
	require.NoError(t, err)
	assert.Equal(t, SourceOffline, meta.Source)
	assert.True(t, meta.Metadata.Favorite)

	assert.Equal(t, 1, engine.QueueSnapshot().QueueLength)
	if _, ok := svc.favorite("/vacation/beach.jpg"); ok {
		t.Fatal("mutation must not reach the service while offline")
	}

	// Connectivity returns; the coordinator drains without being asked.
	svc.setOffline(false)
	waitForStatus(t, engine, models.ConnectivityOnline)
	require.Eventually(t, func() bool {
		return engine.QueueSnapshot().QueueLength == 0
	}, 2*time.Second, 5*time.Millisecond, "queue never drained after reconnect")

	favorite, ok := svc.favorite("/vacation/beach.jpg")
	assert.True(t, ok)
	assert.True(t, favorite)
}

func TestCoalescedOfflineTogglesReplayOnlyFinalValue(t *testing.T) {
	svc := newFakeService()
	svc.setOffline(true)
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOffline)

	engine.SetFavorite("/a.jpg", true)
	engine.SetFavorite("/a.jpg", false)
	engine.SetFavorite("/a.jpg", true)

	assert.Equal(t, 1, engine.QueueSnapshot().QueueLength,
		"repeated toggles coalesce into one action")

	svc.setOffline(false)
	require.Eventually(t, func() bool {
		return engine.QueueSnapshot().QueueLength == 0
	}, 2*time.Second, 5*time.Millisecond)

	favorite, ok := svc.favorite("/a.jpg")
	require.True(t, ok)
	assert.True(t, favorite, "only the final value is replayed")
}

func TestOnlineMutationReportsOnlineSource(t *testing.T) {
	svc := newFakeService()
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOnline)

	resp := engine.SetTags("/a.jpg", []string{"beach"})
	assert.Equal(t, SourceOnline, resp.Source)
	assert.NotEmpty(t, resp.ActionID)

	require.Eventually(t, func() bool {
		return engine.QueueSnapshot().QueueLength == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSearchFallsBackToLexicalWhenOffline(t *testing.T) {
	svc := newFakeService()
	svc.setOffline(true)
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOffline)

	engine.SetTags("/beach.jpg", []string{"beach", "sunset"})
	engine.SetTags("/mountain.jpg", []string{"mountain"})

	resp := engine.Search(context.Background(), "beach")
	assert.Equal(t, SourceOffline, resp.Source)
	assert.True(t, resp.Approximate, "degraded results must be disclosed")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/beach.jpg", resp.Results[0].Path)
}

func TestOnlineSearchWarmsOfflineCache(t *testing.T) {
	svc := newFakeService()
	svc.searchHits = []remote.SearchHit{
		{Path: "/harbor.jpg", Score: 0.9,
			Metadata: models.PhotoMetadata{Tags: []string{"harbor"}}},
	}
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOnline)

	resp := engine.Search(context.Background(), "harbor")
	assert.Equal(t, SourceOnline, resp.Source)
	assert.False(t, resp.Approximate)
	require.Len(t, resp.Results, 1)

	// The hit is now findable offline too.
	svc.setOffline(true)
	waitForStatus(t, engine, models.ConnectivityOffline)

	offline := engine.Search(context.Background(), "harbor")
	assert.Equal(t, SourceOffline, offline.Source)
	require.Len(t, offline.Results, 1)
	assert.Equal(t, "/harbor.jpg", offline.Results[0].Path)
}

func TestRejectedMutationDeadLettersAndManualRetryRecovers(t *testing.T) {
	svc := newFakeService()
	svc.mu.Lock()
	svc.rejectMut = true
	svc.mu.Unlock()
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOnline)

	engine.SetFavorite("/a.jpg", true)

	require.Eventually(t, func() bool {
		return engine.QueueSnapshot().FailedLength == 1
	}, 2*time.Second, 5*time.Millisecond, "permanent rejection must dead-letter")

	actions := engine.ListActions()
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionStatusFailed, actions[0].Status)
	assert.Contains(t, actions[0].LastError, "rejected")

	// The operator fixes the server side and retries from the UI.
	svc.mu.Lock()
	svc.rejectMut = false
	svc.mu.Unlock()
	require.NoError(t, engine.RetryAction(actions[0].ID))

	require.Eventually(t, func() bool {
		return engine.QueueSnapshot().QueueLength == 0
	}, 2*time.Second, 5*time.Millisecond)
	favorite, ok := svc.favorite("/a.jpg")
	assert.True(t, ok)
	assert.True(t, favorite)
}

func TestRetryUnknownActionFails(t *testing.T) {
	svc := newFakeService()
	engine := newTestEngine(t, svc)

	err := engine.RetryAction("no-such-id")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrActionNotFound))
}

func TestGetThumbnailCachesFetchedBytes(t *testing.T) {
	svc := newFakeService()
	svc.thumbnails["/a.jpg"] = []byte("not-a-real-jpeg")
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOnline)

	// Undecodable bytes are cached as-is rather than dropped.
	data, source, err := engine.GetThumbnail(context.Background(), "/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, SourceOnline, source)
	assert.Equal(t, []byte("not-a-real-jpeg"), data)

	svc.setOffline(true)
	waitForStatus(t, engine, models.ConnectivityOffline)

	data, source, err = engine.GetThumbnail(context.Background(), "/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, SourceOffline, source)
	assert.Equal(t, []byte("not-a-real-jpeg"), data)
}

func TestGetThumbnailMissesOffline(t *testing.T) {
	svc := newFakeService()
	svc.setOffline(true)
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOffline)

	_, _, err := engine.GetThumbnail(context.Background(), "/missing.jpg")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestStatusSurface(t *testing.T) {
	svc := newFakeService()
	engine := startTestEngine(t, svc)
	waitForStatus(t, engine, models.ConnectivityOnline)

	status := engine.Status()
	assert.Equal(t, models.ConnectivityOnline, status.Connectivity.Status)
	assert.NotEmpty(t, status.SyncState)
	assert.Zero(t, status.Queue.QueueLength)
}

func TestDiagnosticsSubscription(t *testing.T) {
	svc := newFakeService()
	engine := newTestEngine(t, svc)

	var mu sync.Mutex
	var kinds []models.EventKind
	unsubscribe := engine.SubscribeDiagnostics(func(e models.DiagnosticEvent) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	defer unsubscribe()

	engine.SetFavorite("/a.jpg", true)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, models.EventQueueSnapshot)
	assert.NotEmpty(t, engine.RecentDiagnostics(0))
}
