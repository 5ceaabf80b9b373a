// Package index is the client for the semantic index service, which
// serves embedding search over the product, promotion, and support
// document collections and rebuilds its stores on demand.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ctonline/salesagent/internal/httpkit"
)

// Collection names understood by the index service.
const (
	CollectionProducts   = "productos"
	CollectionPromotions = "promociones"
)

// Support document categories.
const (
	CategoryWarranty   = "Procedimientos Garantía"
	CategoryOnlineShop = "Compra en línea"
	CategoryESD        = "ESD"
	CategoryPolicies   = "Políticas"
	CategoryTerms      = "Términos y Condiciones"
)

// Passage is one retrieved chunk with its source metadata.
type Passage struct {
	Content    string  `json:"content"`
	Key        string  `json:"key,omitempty"`
	Collection string  `json:"collection,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Client talks to the index service over HTTP.
type Client struct {
	baseURL    string
	topK       int
	httpClient *http.Client
}

// NewClient creates an index client. topK bounds how many passages each
// search returns; values below one fall back to 2.
func NewClient(baseURL string, topK int) *Client {
	if topK < 1 {
		topK = 2
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		topK:    topK,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 300*time.Millisecond),
		),
	}
}

type searchRequest struct {
	Query      string   `json:"query,omitempty"`
	Key        string   `json:"key,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Categories []string `json:"categories,omitempty"`
	TopK       int      `json:"top_k"`
}

type searchResponse struct {
	Passages []Passage `json:"passages"`
}

func (c *Client) search(ctx context.Context, req searchRequest) ([]Passage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return result.Passages, nil
}

// SearchProducts returns product passages for a free-text query.
func (c *Client) SearchProducts(ctx context.Context, query string) ([]Passage, error) {
	return c.search(ctx, searchRequest{Query: query, Collection: CollectionProducts, TopK: c.topK})
}

// SearchPromotions returns promotion passages for a free-text query.
func (c *Client) SearchPromotions(ctx context.Context, query string) ([]Passage, error) {
	return c.search(ctx, searchRequest{Query: query, Collection: CollectionPromotions, TopK: c.topK})
}

// SearchByKey returns passages for an exact product key. Keys are
// stored uppercased and without spaces; the lookup normalizes to match.
func (c *Client) SearchByKey(ctx context.Context, key string) ([]Passage, error) {
	key = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), " ", ""))
	if key == "" {
		return nil, fmt.Errorf("empty product key")
	}
	return c.search(ctx, searchRequest{Key: key, Collection: CollectionProducts, TopK: c.topK})
}

// SearchSupport retrieves support document context for a question: one
// warranty-procedure passage plus up to three from the purchasing,
// ESD, policy, and terms categories.
func (c *Client) SearchSupport(ctx context.Context, query string) ([]Passage, error) {
	warranty, err := c.search(ctx, searchRequest{
		Query:      query,
		Categories: []string{CategoryWarranty},
		TopK:       1,
	})
	if err != nil {
		return nil, err
	}

	general, err := c.search(ctx, searchRequest{
		Query:      query,
		Categories: []string{CategoryOnlineShop, CategoryESD, CategoryPolicies, CategoryTerms},
		TopK:       3,
	})
	if err != nil {
		return nil, err
	}

	return append(warranty, general...), nil
}

// Reload asks the service to rebuild its vector stores from the
// current source data. Rebuilds take a while; the caller's context
// bounds the wait.
func (c *Client) Reload(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/reload", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("index reload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("index reload error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}
	return nil
}

// GroupByKey merges passages that describe the same product into one
// block per key, preserving first-seen key order. Passages without a
// key each form their own block.
func GroupByKey(passages []Passage) []string {
	grouped := make(map[string][]string)
	var order []string
	var loose []string

	for _, p := range passages {
		if p.Key == "" {
			loose = append(loose, p.Content)
			continue
		}
		if _, seen := grouped[p.Key]; !seen {
			order = append(order, p.Key)
		}
		grouped[p.Key] = append(grouped[p.Key], p.Content)
	}

	blocks := make([]string, 0, len(order)+len(loose))
	for _, key := range order {
		blocks = append(blocks, strings.Join(grouped[key], "\n"))
	}
	return append(blocks, loose...)
}
