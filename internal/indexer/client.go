package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"go.uber.org/zap"

	"voucherRelay/internal/retry"
)

// Config holds connection settings for the GraphQL indexer.
type Config struct {
	Endpoint     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

// Client queries the rollup indexer over GraphQL. It keeps no cache: every call goes to
// the network.
type Client struct {
	gql          *graphql.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewClient builds an indexer client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("indexer endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		*httpClient = *cfg.HTTPClient
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = cfg.Timeout
		if httpClient.Timeout <= 0 {
			httpClient.Timeout = 15 * time.Second
		}
	}
	httpClient.Transport = noCacheTransport{base: httpClient.Transport}

	return &Client{
		gql:          graphql.NewClient(cfg.Endpoint, httpClient),
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}, nil
}

// noCacheTransport asks every intermediary to skip cached responses.
type noCacheTransport struct {
	base http.RoundTripper
}

func (t noCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	return base.RoundTrip(req)
}

// query runs a GraphQL operation whose root selection is field and decodes its data into
// out. Failures are returned as *FetchError.
func (c *Client) query(ctx context.Context, field, query string, variables map[string]interface{}, out interface{}) error {
	err := retry.Do(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		data, err := c.gql.ExecRaw(ctx, query, variables)
		if err != nil {
			c.logger.Warn("indexer query failed", zap.String("op", field), zap.Error(err))
			return classify(field, err)
		}
		if len(data) == 0 || string(data) == "null" {
			return retry.Permanent(fmt.Errorf("response has no data"))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode data: %w", err))
		}
		return nil
	})
	if err != nil {
		return &FetchError{Op: field, Err: err}
	}
	return nil
}
