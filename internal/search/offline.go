// Package search provides the lexical fallback used when the remote
// search service is unreachable. No model is available locally, so the
// fallback matches tokens against cached tags, captions, and OCR text
// and makes no semantic claims.
package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/minaksy/photonest/internal/cache"
	"github.com/minaksy/photonest/internal/models"
)

// DefaultMaxResults bounds result sets when the caller does not.
const DefaultMaxResults = 50

// Options tunes one fallback search.
type Options struct {
	MaxResults int
}

// Result is one offline search hit. Results are always approximate:
// callers should disclose the degraded quality to the user.
type Result struct {
	Path       string               `json:"path"`
	MatchCount int                  `json:"match_count"`
	Metadata   models.PhotoMetadata `json:"metadata"`
}

// Fallback performs lexical search over the local cache.
type Fallback struct {
	cache *cache.Cache
}

// NewFallback creates a Fallback over the given cache.
func NewFallback(c *cache.Cache) *Fallback {
	return &Fallback{cache: c}
}

// Tokenize splits a free-text query into lowercase tokens.
func Tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// SearchByKeywords ranks cached photos by how many query tokens match
// their tags, caption, or OCR text, truncated to MaxResults.
func (f *Fallback) SearchByKeywords(tokens []string, opts Options) []Result {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if len(tokens) == 0 {
		return nil
	}

	normalized := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return nil
	}

	photos := f.cache.GetAllPhotos()
	results := make([]Result, 0, len(photos))
	for _, p := range photos {
		count := matchCount(p, normalized)
		if count == 0 {
			continue
		}
		results = append(results, Result{
			Path:       p.Path,
			MatchCount: count,
			Metadata:   p.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].MatchCount != results[j].MatchCount {
			return results[i].MatchCount > results[j].MatchCount
		}
		return results[i].Path < results[j].Path
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results
}

// matchCount returns how many of the query tokens appear in the record.
// Tags match on token equality or substring; caption and OCR text match
// on substring.
func matchCount(p *models.PhotoRecord, tokens []string) int {
	caption := strings.ToLower(p.Metadata.Caption)
	ocr := strings.ToLower(p.Metadata.OCRText)
	tags := make([]string, len(p.Metadata.Tags))
	for i, t := range p.Metadata.Tags {
		tags[i] = strings.ToLower(t)
	}

	count := 0
	for _, token := range tokens {
		matched := false
		for _, tag := range tags {
			if tag == token || strings.Contains(tag, token) {
				matched = true
				break
			}
		}
		if !matched && caption != "" && strings.Contains(caption, token) {
			matched = true
		}
		if !matched && ocr != "" && strings.Contains(ocr, token) {
			matched = true
		}
		if matched {
			count++
		}
	}
	return count
}
