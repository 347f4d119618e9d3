// Package tsdb is the HTTP client for the time-series store's v2 write API.
// Batching, retry and dead-letter policy live in pkg/writer; this client
// performs exactly one write per call and reports rich errors so the
// pipeline can classify them.
package tsdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	httputil "github.com/homepulse/server/pkg/infrastructure/http"
)

type Config struct {
	BaseURL string
	Org     string
	Bucket  string
	Token   string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// WriteLines submits one batch of line-protocol records. The store treats
// the request atomically: a nil error means every line was accepted.
func (c *Client) WriteLines(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	u := fmt.Sprintf("%s/api/v2/write?%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.Values{
		"org":       {c.cfg.Org},
		"bucket":    {c.cfg.Bucket},
		"precision": {"ns"},
	}.Encode())

	body := strings.Join(lines, "\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	return nil
}
