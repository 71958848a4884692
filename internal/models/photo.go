// Package models provides data model definitions for the PhotoNest sync core.
package models

import "time"

// PhotoMetadata holds the indexed metadata for a single photo.
type PhotoMetadata struct {
	Tags     []string          `json:"tags,omitempty"`
	Favorite bool              `json:"favorite"`
	Caption  string            `json:"caption,omitempty"`
	OCRText  string            `json:"ocr_text,omitempty"`
	EXIF     map[string]string `json:"exif,omitempty"`
}

// PhotoRecord is a locally cached view of one photo, keyed by path.
// The thumbnail dominates the record's memory footprint and may be
// evicted independently of the metadata.
type PhotoRecord struct {
	Path         string        `db:"path" json:"path"`
	Thumbnail    []byte        `db:"thumbnail" json:"-"`
	Metadata     PhotoMetadata `db:"metadata" json:"metadata"`
	CachedAt     int64         `db:"cached_at" json:"cached_at"`
	LastAccessed int64         `db:"last_accessed" json:"last_accessed"`
}

// TableName returns the table name for PhotoRecord.
func (PhotoRecord) TableName() string {
	return "photo_cache"
}

// EstimatedSize returns an approximate in-memory footprint in bytes,
// used by the cache eviction pass.
func (p *PhotoRecord) EstimatedSize() int64 {
	size := int64(len(p.Path)) + int64(len(p.Thumbnail))
	size += int64(len(p.Metadata.Caption)) + int64(len(p.Metadata.OCRText))
	for _, t := range p.Metadata.Tags {
		size += int64(len(t))
	}
	for k, v := range p.Metadata.EXIF {
		size += int64(len(k)) + int64(len(v))
	}
	return size
}

// HasThumbnail reports whether the record still carries thumbnail bytes.
func (p *PhotoRecord) HasThumbnail() bool {
	return len(p.Thumbnail) > 0
}

// CachedTime returns CachedAt as time.Time.
func (p *PhotoRecord) CachedTime() time.Time {
	return time.Unix(p.CachedAt, 0)
}
