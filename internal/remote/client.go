// Package remote provides the client for the remote indexing/search
// service. Mutation endpoints are idempotent per (action type, path), so
// replaying a coalesced action twice is safe.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/minaksy/photonest/internal/errors"
	"github.com/minaksy/photonest/internal/models"
)

// MutationResult is the remote response for a mutation. Metadata, when
// present, is the authoritative post-mutation record and is written back
// to the local cache.
type MutationResult struct {
	OK       bool                  `json:"ok"`
	Metadata *models.PhotoMetadata `json:"metadata,omitempty"`
}

// SearchHit is one remote search result.
type SearchHit struct {
	Path     string               `json:"path"`
	Score    float64              `json:"score"`
	Metadata models.PhotoMetadata `json:"metadata"`
}

// LibraryEntry is one photo in a paginated library listing.
type LibraryEntry struct {
	Path     string               `json:"path"`
	Metadata models.PhotoMetadata `json:"metadata"`
}

// LibraryPage is one page of the remote library listing.
type LibraryPage struct {
	Photos     []LibraryEntry `json:"photos"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// API is the surface the sync core needs from the remote service.
type API interface {
	SetFavorite(ctx context.Context, path string, favorite bool) (*MutationResult, error)
	SetTags(ctx context.Context, path string, tags []string) (*MutationResult, error)
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	ListLibrary(ctx context.Context, cursor string, limit int) (*LibraryPage, error)
	GetMetadata(ctx context.Context, path string) (*models.PhotoMetadata, error)
	GetThumbnail(ctx context.Context, path string) ([]byte, error)
	Ping(ctx context.Context) error
}

// Client is the HTTP implementation of API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ API = (*Client)(nil)

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetFavorite sets or clears the favorite flag for a photo.
func (c *Client) SetFavorite(ctx context.Context, path string, favorite bool) (*MutationResult, error) {
	body := map[string]interface{}{"path": path, "favorite": favorite}
	var result MutationResult
	if err := c.postJSON(ctx, "/v1/mutations/favorite", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetTags replaces the tag set for a photo.
func (c *Client) SetTags(ctx context.Context, path string, tags []string) (*MutationResult, error) {
	body := map[string]interface{}{"path": path, "tags": tags}
	var result MutationResult
	if err := c.postJSON(ctx, "/v1/mutations/tags", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search runs a remote (semantic) search.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var result struct {
		Hits []SearchHit `json:"hits"`
	}
	if err := c.getJSON(ctx, "/v1/search", q, &result); err != nil {
		return nil, err
	}
	return result.Hits, nil
}

// ListLibrary fetches one page of the library listing.
func (c *Client) ListLibrary(ctx context.Context, cursor string, limit int) (*LibraryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page LibraryPage
	if err := c.getJSON(ctx, "/v1/library", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetMetadata fetches the authoritative metadata for one photo.
func (c *Client) GetMetadata(ctx context.Context, path string) (*models.PhotoMetadata, error) {
	var meta models.PhotoMetadata
	if err := c.getJSON(ctx, "/v1/metadata", url.Values{"path": {path}}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetThumbnail fetches the thumbnail bytes for one photo.
func (c *Client) GetThumbnail(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/thumbnail", url.Values{"path": {path}}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetworkTransient, "thumbnail fetch failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetworkTransient, "thumbnail read failed", err)
	}
	return data, nil
}

// Ping is the lightweight reachability probe used by the connectivity
// monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetworkTransient, "probe failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return classifyStatus(resp)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to marshal request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures (refused, reset, timeout) are transient.
		return apperrors.Wrap(apperrors.ErrNetworkTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrNetworkTransient, "failed to decode response", err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the retry taxonomy:
// 5xx is transient, 4xx is a permanent validation failure.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrNetworkTransient,
			fmt.Sprintf("remote returned %s", resp.Status))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.New(apperrors.ErrValidationPermanent,
			fmt.Sprintf("remote rejected request: %s: %s", resp.Status, bytes.TrimSpace(body)))
	}
}
