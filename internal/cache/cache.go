// Package cache provides the local photo cache with budget-driven batch
// eviction.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/models"
)

// Store persists cache state across restarts. *db.Repository satisfies it.
type Store interface {
	SavePhoto(p *models.PhotoRecord) error
	DeletePhoto(path string) error
	ClearThumbnail(path string) error
	TouchPhoto(path string, lastAccessed int64) error
	LoadPhotos() ([]*models.PhotoRecord, error)
}

// Pinner reports whether a path is referenced by a non-terminal queued
// action. Pinned records are never evicted. *queue.Queue satisfies it.
type Pinner interface {
	HasPending(path string) bool
}

// Config holds cache tuning parameters.
type Config struct {
	BudgetBytes      int64         // approximate memory budget
	EvictionInterval time.Duration // how often the budget is checked
	EvictFraction    float64       // share of entries evicted per batch
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		BudgetBytes:      64 << 20,
		EvictionInterval: 30 * time.Second,
		EvictFraction:    0.30,
	}
}

// Cache holds the locally cached library view keyed by path.
type Cache struct {
	mu     sync.RWMutex
	cfg    Config
	store  Store
	pinner Pinner
	photos map[string]*models.PhotoRecord

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	running bool
}

// New creates a Cache, loading persisted records from the store.
func New(store Store, cfg Config) (*Cache, error) {
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = 0.30
	}
	c := &Cache{
		cfg:    cfg,
		store:  store,
		photos: make(map[string]*models.PhotoRecord),
		stopCh: make(chan struct{}),
	}
	if store != nil {
		photos, err := store.LoadPhotos()
		if err != nil {
			return nil, err
		}
		for _, p := range photos {
			c.photos[p.Path] = p
		}
		if len(photos) > 0 {
			logging.Info("Restored photo cache",
				map[string]interface{}{"photos": len(photos)})
		}
	}
	return c, nil
}

// SetPinner wires the queue's referential-integrity check. Set once at
// startup, before the eviction loop starts.
func (c *Cache) SetPinner(p Pinner) {
	c.pinner = p
}

// Start launches the periodic eviction check.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.evictionLoop(ctx)
}

// Stop terminates the eviction loop.
func (c *Cache) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// StorePhoto inserts or replaces a full photo record and bumps its
// last-accessed time.
func (c *Cache) StorePhoto(p *models.PhotoRecord) {
	now := time.Now().Unix()
	clone := clonePhoto(p)
	if clone.CachedAt == 0 {
		clone.CachedAt = now
	}
	clone.LastAccessed = now

	c.mu.Lock()
	c.photos[clone.Path] = clone
	c.mu.Unlock()

	c.persist(clone)
}

// GetPhoto returns a copy of the record for path, bumping its
// last-accessed time.
func (c *Cache) GetPhoto(path string) (*models.PhotoRecord, error) {
	now := time.Now().Unix()

	c.mu.Lock()
	p, ok := c.photos[path]
	if !ok {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrNotFound, "photo not cached")
	}
	p.LastAccessed = now
	result := clonePhoto(p)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.TouchPhoto(path, now); err != nil {
			logging.Warn("Failed to touch cached photo",
				map[string]interface{}{"path": path, "error": err.Error()})
		}
	}
	return result, nil
}

// GetAllPhotos returns copies of every cached record, most recently
// cached first.
func (c *Cache) GetAllPhotos() []*models.PhotoRecord {
	c.mu.RLock()
	out := make([]*models.PhotoRecord, 0, len(c.photos))
	for _, p := range c.photos {
		out = append(out, clonePhoto(p))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CachedAt != out[j].CachedAt {
			return out[i].CachedAt > out[j].CachedAt
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// StoreMetadata updates only the metadata for path, creating a
// metadata-only record when the photo is not cached yet.
func (c *Cache) StoreMetadata(path string, meta models.PhotoMetadata) {
	now := time.Now().Unix()

	c.mu.Lock()
	p, ok := c.photos[path]
	if !ok {
		p = &models.PhotoRecord{Path: path, CachedAt: now}
		c.photos[path] = p
	}
	p.Metadata = meta
	p.LastAccessed = now
	clone := clonePhoto(p)
	c.mu.Unlock()

	c.persist(clone)
}

// GetMetadata returns the metadata for path.
func (c *Cache) GetMetadata(path string) (models.PhotoMetadata, error) {
	p, err := c.GetPhoto(path)
	if err != nil {
		return models.PhotoMetadata{}, err
	}
	return p.Metadata, nil
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.photos)
}

// Usage returns the estimated memory footprint in bytes.
func (c *Cache) Usage() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usageLocked()
}

func (c *Cache) usageLocked() int64 {
	var total int64
	for _, p := range c.photos {
		total += p.EstimatedSize()
	}
	return total
}

func (c *Cache) evictionLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.EvictIfOverBudget()
		}
	}
}

// EvictIfOverBudget runs one budget check, evicting the
// least-recently-accessed batch when usage exceeds the budget. Going
// over budget is handled here and never surfaced as a failure.
// Returns the number of records touched.
func (c *Cache) EvictIfOverBudget() int {
	c.mu.Lock()

	usage := c.usageLocked()
	if c.cfg.BudgetBytes <= 0 || usage <= c.cfg.BudgetBytes {
		c.mu.Unlock()
		return 0
	}

	// One batch per check, not per insert, to avoid thrashing.
	candidates := make([]*models.PhotoRecord, 0, len(c.photos))
	for _, p := range c.photos {
		if c.pinner != nil && c.pinner.HasPending(p.Path) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastAccessed != candidates[j].LastAccessed {
			return candidates[i].LastAccessed < candidates[j].LastAccessed
		}
		return candidates[i].Path < candidates[j].Path
	})

	batch := int(float64(len(c.photos))*c.cfg.EvictFraction + 0.5)
	if batch < 1 {
		batch = 1
	}
	if batch > len(candidates) {
		batch = len(candidates)
	}

	var droppedThumbs, droppedRecords []string
	for _, p := range candidates[:batch] {
		if p.HasThumbnail() {
			// Thumbnails dominate memory, so they go first; the
			// metadata stays available for offline search.
			p.Thumbnail = nil
			droppedThumbs = append(droppedThumbs, p.Path)
		} else {
			delete(c.photos, p.Path)
			droppedRecords = append(droppedRecords, p.Path)
		}
	}
	after := c.usageLocked()
	c.mu.Unlock()

	for _, path := range droppedThumbs {
		if c.store != nil {
			if err := c.store.ClearThumbnail(path); err != nil {
				logging.Warn("Failed to clear persisted thumbnail",
					map[string]interface{}{"path": path, "error": err.Error()})
			}
		}
	}
	for _, path := range droppedRecords {
		if c.store != nil {
			if err := c.store.DeletePhoto(path); err != nil {
				logging.Warn("Failed to delete persisted photo",
					map[string]interface{}{"path": path, "error": err.Error()})
			}
		}
	}

	evicted := len(droppedThumbs) + len(droppedRecords)
	logging.Info("Cache eviction pass",
		map[string]interface{}{
			"usage_before": usage,
			"usage_after":  after,
			"thumbnails":   len(droppedThumbs),
			"records":      len(droppedRecords),
		})
	return evicted
}

func (c *Cache) persist(p *models.PhotoRecord) {
	if c.store == nil {
		return
	}
	if err := c.store.SavePhoto(p); err != nil {
		logging.Warn("Failed to persist cached photo",
			map[string]interface{}{"path": p.Path, "error": err.Error()})
	}
}

func clonePhoto(p *models.PhotoRecord) *models.PhotoRecord {
	clone := *p
	if p.Thumbnail != nil {
		clone.Thumbnail = append([]byte(nil), p.Thumbnail...)
	}
	if p.Metadata.Tags != nil {
		clone.Metadata.Tags = append([]string(nil), p.Metadata.Tags...)
	}
	if p.Metadata.EXIF != nil {
		exif := make(map[string]string, len(p.Metadata.EXIF))
		for k, v := range p.Metadata.EXIF {
			exif[k] = v
		}
		clone.Metadata.EXIF = exif
	}
	return &clone
}
