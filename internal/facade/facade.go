// Package facade exposes the offline-first engine surface consumed by
// the UI layer. Every response carries a source flag so callers can
// disclose when they are looking at the approximate local view.
package facade

import (
	"context"
	"encoding/json"

	"github.com/minaksy/photonest/internal/cache"
	"github.com/minaksy/photonest/internal/config"
	"github.com/minaksy/photonest/internal/connectivity"
	"github.com/minaksy/photonest/internal/diagnostics"
	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/media"
	"github.com/minaksy/photonest/internal/models"
	"github.com/minaksy/photonest/internal/queue"
	"github.com/minaksy/photonest/internal/remote"
	"github.com/minaksy/photonest/internal/search"
	syncpkg "github.com/minaksy/photonest/internal/sync"
)

// Source tags a response with where its data came from.
type Source string

const (
	SourceOnline  Source = "online"
	SourceOffline Source = "offline"
)

// SearchResult is one hit in a search response.
type SearchResult struct {
	Path     string               `json:"path"`
	Score    float64              `json:"score"`
	Metadata models.PhotoMetadata `json:"metadata"`
}

// SearchResponse is the uniform search result shape.
type SearchResponse struct {
	Source      Source         `json:"source"`
	Approximate bool           `json:"approximate"`
	Results     []SearchResult `json:"results"`
}

// LibraryResponse is the uniform library listing shape.
type LibraryResponse struct {
	Source Source                `json:"source"`
	Photos []*models.PhotoRecord `json:"photos"`
}

// MetadataResponse is the uniform single-photo metadata shape.
type MetadataResponse struct {
	Source   Source               `json:"source"`
	Path     string               `json:"path"`
	Metadata models.PhotoMetadata `json:"metadata"`
}

// MutationResponse acknowledges a favorite/tags write. Offline-path
// writes never fail: the local view is updated and the action queued.
type MutationResponse struct {
	Source   Source `json:"source"`
	ActionID string `json:"action_id"`
}

// Status is the engine status surface for the UI.
type Status struct {
	Connectivity models.ConnectivityState `json:"connectivity"`
	SyncState    string                   `json:"sync_state"`
	Queue        models.QueueSnapshot     `json:"queue"`
}

// Engine is the single service object wired at startup and injected
// into the delivery layer. All component access goes through it.
type Engine struct {
	cfg         *config.Config
	remote      remote.API
	monitor     *connectivity.Monitor
	queue       *queue.Queue
	cache       *cache.Cache
	hub         *diagnostics.Hub
	coordinator *syncpkg.Coordinator
	fallback    *search.Fallback
}

// Store bundles the persistence interfaces the engine needs.
type Store interface {
	queue.Store
	cache.Store
}

// New wires the engine from its leaf components. The store may be nil
// for fully in-memory operation (tests).
func New(cfg *config.Config, store Store, api remote.API) (*Engine, error) {
	hub := diagnostics.NewHub(cfg.DiagnosticsCapacity)

	monitorCfg := connectivity.DefaultConfig()
	monitorCfg.ActiveInterval = cfg.ProbeActiveInterval
	monitorCfg.IdleInterval = cfg.ProbeIdleInterval
	monitor := connectivity.NewMonitor(api.Ping, hub, monitorCfg)

	queueCfg := queue.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		queueCfg.MaxAttempts = cfg.MaxAttempts
	}
	var queueStore queue.Store
	if store != nil {
		queueStore = store
	}
	q, err := queue.New(queueStore, hub, queueCfg)
	if err != nil {
		return nil, err
	}

	cacheCfg := cache.DefaultConfig()
	if cfg.CacheBudgetBytes > 0 {
		cacheCfg.BudgetBytes = cfg.CacheBudgetBytes
	}
	if cfg.EvictionInterval > 0 {
		cacheCfg.EvictionInterval = cfg.EvictionInterval
	}
	var cacheStore cache.Store
	if store != nil {
		cacheStore = store
	}
	c, err := cache.New(cacheStore, cacheCfg)
	if err != nil {
		return nil, err
	}
	c.SetPinner(q)

	coordCfg := syncpkg.DefaultConfig()
	if cfg.SyncWorkers > 0 {
		coordCfg.Workers = cfg.SyncWorkers
	}
	coordinator := syncpkg.New(q, api, c, monitor, hub, coordCfg)

	return &Engine{
		cfg:         cfg,
		remote:      api,
		monitor:     monitor,
		queue:       q,
		cache:       c,
		hub:         hub,
		coordinator: coordinator,
		fallback:    search.NewFallback(c),
	}, nil
}

// Start launches the background loops: probe, eviction, drain.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.Start(ctx)
	e.cache.Start(ctx)
	e.coordinator.Start(ctx)
}

// Stop shuts the background loops down, letting in-flight replays finish.
func (e *Engine) Stop() {
	e.coordinator.Stop()
	e.cache.Stop()
	e.monitor.Stop()
}

// Monitor exposes the connectivity monitor (for host link signals).
func (e *Engine) Monitor() *connectivity.Monitor {
	return e.monitor
}

// Status returns connectivity, sync state, and queue statistics.
func (e *Engine) Status() Status {
	return Status{
		Connectivity: e.monitor.State(),
		SyncState:    string(e.coordinator.State()),
		Queue:        e.queue.Snapshot(),
	}
}

// QueueSnapshot returns current queue statistics.
func (e *Engine) QueueSnapshot() models.QueueSnapshot {
	return e.queue.Snapshot()
}

// ListActions returns every queued action, dead letters included.
func (e *Engine) ListActions() []*models.QueuedAction {
	return e.queue.List()
}

// RetryAction resets a dead-lettered action and wakes the coordinator.
func (e *Engine) RetryAction(id string) error {
	if err := e.queue.Retry(id); err != nil {
		return err
	}
	e.coordinator.Kick()
	return nil
}

// SubscribeDiagnostics registers a live diagnostics callback.
func (e *Engine) SubscribeDiagnostics(fn func(models.DiagnosticEvent)) func() {
	return e.hub.Subscribe(fn)
}

// RecentDiagnostics returns the buffered diagnostics history.
func (e *Engine) RecentDiagnostics(limit int) []models.DiagnosticEvent {
	return e.hub.Recent(limit)
}

// Search runs a remote search when online, falling back to the lexical
// offline search when offline or when the remote call fails.
func (e *Engine) Search(ctx context.Context, query string) SearchResponse {
	e.monitor.MarkActive()

	if e.monitor.Status() == models.ConnectivityOnline {
		hits, err := e.remote.Search(ctx, query, e.cfg.MaxSearchResults)
		if err == nil {
			results := make([]SearchResult, 0, len(hits))
			for _, h := range hits {
				results = append(results, SearchResult{
					Path:     h.Path,
					Score:    h.Score,
					Metadata: h.Metadata,
				})
				// Read-through: remote hits warm the offline cache.
				e.cache.StoreMetadata(h.Path, h.Metadata)
			}
			return SearchResponse{Source: SourceOnline, Results: results}
		}
		logging.Warn("Remote search failed, using offline fallback",
			map[string]interface{}{"error": err.Error()})
	}

	return e.offlineSearch(query)
}

func (e *Engine) offlineSearch(query string) SearchResponse {
	hits := e.fallback.SearchByKeywords(search.Tokenize(query),
		search.Options{MaxResults: e.cfg.MaxSearchResults})
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			Path:     h.Path,
			Score:    float64(h.MatchCount),
			Metadata: h.Metadata,
		})
	}
	return SearchResponse{Source: SourceOffline, Approximate: true, Results: results}
}

// GetLibrary lists the library, paging through the remote listing when
// online (warming the cache as it goes) and serving the cached view
// otherwise.
func (e *Engine) GetLibrary(ctx context.Context) LibraryResponse {
	e.monitor.MarkActive()

	if e.monitor.Status() == models.ConnectivityOnline {
		photos, err := e.fetchLibrary(ctx)
		if err == nil {
			return LibraryResponse{Source: SourceOnline, Photos: photos}
		}
		logging.Warn("Remote library listing failed, serving cached view",
			map[string]interface{}{"error": err.Error()})
	}

	return LibraryResponse{Source: SourceOffline, Photos: e.cache.GetAllPhotos()}
}

// maxLibraryPages bounds a single listing walk.
const maxLibraryPages = 50

func (e *Engine) fetchLibrary(ctx context.Context) ([]*models.PhotoRecord, error) {
	var photos []*models.PhotoRecord
	cursor := ""
	for page := 0; page < maxLibraryPages; page++ {
		p, err := e.remote.ListLibrary(ctx, cursor, 0)
		if err != nil {
			return nil, err
		}
		for _, entry := range p.Photos {
			e.cache.StoreMetadata(entry.Path, entry.Metadata)
			if rec, err := e.cache.GetPhoto(entry.Path); err == nil {
				photos = append(photos, rec)
			}
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return photos, nil
}

// GetMetadata returns the metadata for one photo, remote-first.
func (e *Engine) GetMetadata(ctx context.Context, path string) (MetadataResponse, error) {
	e.monitor.MarkActive()

	if e.monitor.Status() == models.ConnectivityOnline {
		meta, err := e.remote.GetMetadata(ctx, path)
		if err == nil {
			e.cache.StoreMetadata(path, *meta)
			return MetadataResponse{Source: SourceOnline, Path: path, Metadata: *meta}, nil
		}
		if apperrors.IsPermanent(err) {
			return MetadataResponse{}, err
		}
		logging.Warn("Remote metadata fetch failed, serving cached view",
			map[string]interface{}{"path": path, "error": err.Error()})
	}

	meta, err := e.cache.GetMetadata(path)
	if err != nil {
		return MetadataResponse{}, err
	}
	return MetadataResponse{Source: SourceOffline, Path: path, Metadata: meta}, nil
}

// GetThumbnail returns thumbnail bytes, fetching and normalizing them
// on a cache miss while online.
func (e *Engine) GetThumbnail(ctx context.Context, path string) ([]byte, Source, error) {
	e.monitor.MarkActive()

	if rec, err := e.cache.GetPhoto(path); err == nil && rec.HasThumbnail() {
		return rec.Thumbnail, SourceOffline, nil
	}

	if e.monitor.Status() != models.ConnectivityOnline {
		return nil, SourceOffline, apperrors.New(apperrors.ErrNotFound, "thumbnail not cached")
	}

	data, err := e.remote.GetThumbnail(ctx, path)
	if err != nil {
		return nil, SourceOnline, err
	}
	normalized, err := media.NormalizeThumbnail(data, e.cfg.ThumbnailMaxEdge)
	if err != nil {
		logging.Warn("Thumbnail normalization failed, caching original",
			map[string]interface{}{"path": path, "error": err.Error()})
		normalized = data
	}

	meta, _ := e.cache.GetMetadata(path)
	e.cache.StorePhoto(&models.PhotoRecord{
		Path:      path,
		Thumbnail: normalized,
		Metadata:  meta,
	})
	return normalized, SourceOnline, nil
}

// SetFavorite applies a favorite change optimistically to the cache and
// queues it for replay. When online, the coordinator drains the queue
// immediately, so the network portion stays asynchronous while per-key
// ordering against earlier offline mutations is preserved.
func (e *Engine) SetFavorite(path string, favorite bool) MutationResponse {
	e.monitor.MarkActive()

	meta, err := e.cache.GetMetadata(path)
	if err != nil {
		meta = models.PhotoMetadata{}
	}
	meta.Favorite = favorite
	e.cache.StoreMetadata(path, meta)

	return e.enqueueMutation(models.ActionFavorite, path,
		models.FavoritePayload{Favorite: favorite})
}

// SetTags replaces a photo's tags optimistically and queues the change.
func (e *Engine) SetTags(path string, tags []string) MutationResponse {
	e.monitor.MarkActive()

	if tags == nil {
		tags = []string{}
	}
	meta, err := e.cache.GetMetadata(path)
	if err != nil {
		meta = models.PhotoMetadata{}
	}
	meta.Tags = tags
	e.cache.StoreMetadata(path, meta)

	return e.enqueueMutation(models.ActionSetTags, path,
		models.TagsPayload{Tags: tags})
}

func (e *Engine) enqueueMutation(actionType models.ActionType, path string, payload interface{}) MutationResponse {
	source := SourceOffline
	if e.monitor.Status() == models.ConnectivityOnline {
		source = SourceOnline
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload structs marshal by construction; this is unreachable
		// short of a programming error.
		logging.Error("Failed to marshal mutation payload", err,
			map[string]interface{}{"type": string(actionType), "path": path})
		return MutationResponse{Source: source}
	}

	action, err := e.queue.Enqueue(actionType, path, raw)
	if err != nil {
		// Offline-path writes never fail the caller; the optimistic
		// cache update stands and the miss is visible in diagnostics.
		logging.Error("Failed to enqueue mutation", err,
			map[string]interface{}{"type": string(actionType), "path": path})
		return MutationResponse{Source: source}
	}

	e.coordinator.Kick()
	return MutationResponse{Source: source, ActionID: action.ID}
}
