package httppeer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/replicate"
)

var _ replicate.Peer = (*Client)(nil)

const defaultCacheSize = 1024

// Client is a replicate.Peer backed by a remote Server.
type Client struct {
	base   *url.URL
	http   *retryablehttp.Client
	cache  *lru.Cache[string, ir.Revision]
	logger *slog.Logger
}

type clientConfig struct {
	httpClient *http.Client
	retries    int
	waitMin    time.Duration
	waitMax    time.Duration
	cacheSize  int
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithRetries sets how many times a request is retried after a transport
// failure or a 5xx/429 response.
func WithRetries(n int, waitMin, waitMax time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retries = n
		cfg.waitMin = waitMin
		cfg.waitMax = waitMax
	}
}

// WithCacheSize sets the revision cache capacity.
func WithCacheSize(n int) ClientOption {
	return func(cfg *clientConfig) { cfg.cacheSize = n }
}

// WithClientLogger sets the logger used for request retries.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(cfg *clientConfig) { cfg.logger = l }
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse peer url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("peer url %q: scheme must be http or https", baseURL)
	}

	cfg := clientConfig{
		retries:   2,
		waitMin:   100 * time.Millisecond,
		waitMax:   2 * time.Second,
		cacheSize: defaultCacheSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := retryablehttp.NewClient()
	if cfg.httpClient != nil {
		rc.HTTPClient = cfg.httpClient
	}
	rc.RetryMax = cfg.retries
	rc.RetryWaitMin = cfg.waitMin
	rc.RetryWaitMax = cfg.waitMax
	rc.Logger = cfg.logger
	// Hand the last response back so its error envelope can be decoded.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	cache, err := lru.New[string, ir.Revision](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("revision cache: %w", err)
	}

	return &Client{base: u, http: rc, cache: cache, logger: cfg.logger}, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return ir.NewTransientError("peer reports status "+out.Status, nil)
	}
	return nil
}

// ChangesSince implements replicate.Peer.
func (c *Client) ChangesSince(ctx context.Context, since int64, limit int) ([]ir.ChangeEntry, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out changesResponse
	if err := c.do(ctx, http.MethodGet, "/_changes", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetRevision implements replicate.Peer. Revisions are immutable, so hits
// are served from the cache.
func (c *Client) GetRevision(ctx context.Context, docID string, revID ir.RevID) (ir.Revision, error) {
	key := cacheKey(docID, revID)
	if rev, ok := c.cache.Get(key); ok {
		return cloneRevision(rev), nil
	}

	q := url.Values{}
	q.Set("doc", docID)
	q.Set("rev", revID.String())
	var rev ir.Revision
	if err := c.do(ctx, http.MethodGet, "/_revision", q, nil, &rev); err != nil {
		return ir.Revision{}, err
	}
	rev.Seq = 0
	c.cache.Add(key, rev)
	return cloneRevision(rev), nil
}

// GetLeafRevisions implements replicate.Peer.
func (c *Client) GetLeafRevisions(ctx context.Context, docID string) ([]ir.Revision, error) {
	q := url.Values{}
	q.Set("doc", docID)
	var leaves []ir.Revision
	if err := c.do(ctx, http.MethodGet, "/_leaves", q, nil, &leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

// MissingRevisions implements replicate.Peer.
func (c *Client) MissingRevisions(ctx context.Context, docID string, revIDs []ir.RevID) ([]ir.RevID, error) {
	if len(revIDs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("doc", docID)
	var out missingResponse
	if err := c.do(ctx, http.MethodPost, "/_missing", q, revIDs, &out); err != nil {
		return nil, err
	}
	return out.Missing, nil
}

// PutRevisions implements replicate.Peer.
func (c *Client) PutRevisions(ctx context.Context, docID string, revs []ir.Revision) (int, error) {
	q := url.Values{}
	q.Set("doc", docID)
	var out putResponse
	if err := c.do(ctx, http.MethodPost, "/_revs", q, revs, &out); err != nil {
		return 0, err
	}
	return out.Applied, nil
}

// GetDocument returns the remote winning revision of docID.
func (c *Client) GetDocument(ctx context.Context, docID string) (ir.Revision, error) {
	q := url.Values{}
	q.Set("doc", docID)
	var rev ir.Revision
	if err := c.do(ctx, http.MethodGet, "/_doc", q, nil, &rev); err != nil {
		return ir.Revision{}, err
	}
	return rev, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return ir.NewStructuralError("", "", "encode request: "+err.Error())
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ir.NewTransientError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ir.NewStructuralError("", "", fmt.Sprintf("decode %s response: %v", path, err))
	}
	return nil
}

func cacheKey(docID string, revID ir.RevID) string {
	return docID + "\x00" + revID.String()
}

func cloneRevision(rev ir.Revision) ir.Revision {
	rev.Body = rev.Body.Clone()
	return rev
}
