// Package googlebooks is a small client for the Google Books volumes API.
package googlebooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reading-tracker/library"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/books/v1"
	PageSize       = 20
)

// ErrVolumeNotFound is returned by GetBook for an unknown volume id.
var ErrVolumeNotFound = errors.New("volume not found")

// Client queries the volumes endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient returns a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// SearchBooks returns one page (1-based) of volumes matching query. orderBy is
// "relevance" or "newest".
func (c *Client) SearchBooks(ctx context.Context, query string, page int, language, orderBy string) (*library.SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if orderBy != "newest" {
		orderBy = "relevance"
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("startIndex", strconv.Itoa((page-1)*PageSize))
	q.Set("maxResults", strconv.Itoa(PageSize))
	if language != "" {
		q.Set("langRestrict", language)
	}
	q.Set("orderBy", orderBy)
	q.Set("country", "BR")
	c.setKey(q)

	var resp searchResponse
	if err := c.get(ctx, "/volumes", q, &resp); err != nil {
		return nil, err
	}
	out := &library.SearchResult{Items: make([]*library.Book, 0, len(resp.Items)), TotalItems: resp.TotalItems}
	for _, v := range resp.Items {
		out.Items = append(out.Items, v.toBook())
	}
	return out, nil
}

// GetBook fetches a single volume by id.
func (c *Client) GetBook(ctx context.Context, id string) (*library.Book, error) {
	q := url.Values{}
	c.setKey(q)
	var v volume
	if err := c.get(ctx, "/volumes/"+url.PathEscape(id), q, &v); err != nil {
		return nil, err
	}
	return v.toBook(), nil
}

func (c *Client) setKey(q url.Values) {
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("google books request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrVolumeNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("google books returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode google books response: %w", err)
	}
	return nil
}

func (v *volume) toBook() *library.Book {
	b := &library.Book{
		ID:            v.ID,
		Title:         v.VolumeInfo.Title,
		Authors:       v.VolumeInfo.Authors,
		Description:   v.VolumeInfo.Description,
		PublishedDate: v.VolumeInfo.PublishedDate,
		PageCount:     v.VolumeInfo.PageCount,
		Categories:    v.VolumeInfo.Categories,
		AverageRating: v.VolumeInfo.AverageRating,
	}
	if v.VolumeInfo.ImageLinks != nil {
		b.ThumbnailURL = v.VolumeInfo.ImageLinks.Thumbnail
	}
	return b
}
