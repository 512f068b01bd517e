// Package instagram implements the paginated source client for Instagram's
// public GraphQL feed endpoint.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

const defaultDocID = "9310670392322965"

// Config controls the HTTP client behavior.
type Config struct {
	BaseURL   string
	DocID     string
	UserAgent string
	Timeout   time.Duration
}

// Client fetches user timeline pages via the GraphQL query endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
	clock      pipeline.Clock
	logger     *zap.Logger
}

// New constructs a Client.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.instagram.com/graphql/query/"
	}
	if cfg.DocID == "" {
		cfg.DocID = defaultDocID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}
}

type timelineResponse struct {
	Data struct {
		Connection struct {
			Edges []struct {
				Node json.RawMessage `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				HasNextPage bool   `json:"has_next_page"`
				EndCursor   string `json:"end_cursor"`
			} `json:"page_info"`
		} `json:"xdt_api__v1__feed__user_timeline_graphql_connection"`
	} `json:"data"`
}

// FetchPage requests one timeline page for (username, page size, cursor) and
// parses it into normalized items. Nodes that cannot be parsed are skipped.
func (c *Client) FetchPage(ctx context.Context, req pipeline.PageRequest) (pipeline.Page, error) {
	pageURL, err := c.buildURL(req)
	if err != nil {
		return pipeline.Page{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return pipeline.Page{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pipeline.Page{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return pipeline.Page{}, &pipeline.StatusError{StatusCode: resp.StatusCode}
	}

	var decoded timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return pipeline.Page{}, fmt.Errorf("decode page: %w", err)
	}

	now := c.clock.Now()
	conn := decoded.Data.Connection
	items := make([]pipeline.Item, 0, len(conn.Edges))
	for _, edge := range conn.Edges {
		item, err := ParseNode(edge.Node, now)
		if err != nil {
			c.logger.Warn("skipping malformed node",
				zap.String("username", req.Username),
				zap.Error(err),
			)
			continue
		}
		items = append(items, item)
	}

	return pipeline.Page{
		Items:     items,
		HasNext:   conn.PageInfo.HasNextPage,
		EndCursor: conn.PageInfo.EndCursor,
	}, nil
}

func (c *Client) buildURL(req pipeline.PageRequest) (string, error) {
	var after any
	if req.Cursor != "" {
		after = req.Cursor
	}
	variables := map[string]any{
		"after":  after,
		"before": nil,
		"data": map[string]any{
			"count":                             req.PageSize,
			"include_reel_media_seen_timestamp": true,
			"include_relationship_info":         true,
			"latest_besties_reel_media":         true,
			"latest_reel_media":                 true,
		},
		"first":    req.PageSize,
		"last":     nil,
		"username": req.Username,
		"__relay_internal__pv__PolarisIsLoggedInrelayprovider":   true,
		"__relay_internal__pv__PolarisShareSheetV3relayprovider": true,
	}
	encoded, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("marshal variables: %w", err)
	}
	params := url.Values{}
	params.Set("doc_id", c.cfg.DocID)
	params.Set("variables", string(encoded))
	return c.cfg.BaseURL + "?" + params.Encode(), nil
}
