package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/observability"
)

// DefaultTimeout bounds one page request.
const DefaultTimeout = 30 * time.Second

// ErrGraphQL is returned when the subgraph answers with GraphQL errors.
var ErrGraphQL = errors.New("graphql error")

// Client fetches pages of user transactions over HTTP.
// One call is one request: retries and page walking belong to the caller.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new subgraph HTTP client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Page selects one page of transactions.
type Page struct {
	Before int64 // only transactions with timestamp < Before
	First  int   // page size, DefaultPageSize when <= 0
}

// FetchPage requests one page of transactions, newest first, and returns them
// flattened with inferred event types.
func (c *Client) FetchPage(ctx context.Context, page Page) ([]map[string]any, error) {
	if page.Before <= 0 {
		return nil, fmt.Errorf("page before must be positive, got %d", page.Before)
	}
	first := page.First
	if first <= 0 {
		first = DefaultPageSize
	}

	start := time.Now()
	txs, err := c.query(ctx, graphQLRequest{
		Query: pageQuery,
		Variables: map[string]any{
			"first":  first,
			"before": page.Before,
		},
	})
	observability.RecordSubgraphRequest("fetch_page", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	flat, err := FlattenTransactions(txs)
	if err != nil {
		return nil, err
	}
	for _, f := range flat {
		if t, ok := f[domain.FieldEventType].(string); ok {
			observability.RecordEventFetched(t)
		}
	}

	c.logger.Debug("subgraph page fetched",
		zap.Int64("before", page.Before),
		zap.Int("transactions", len(flat)))
	return flat, nil
}

func (c *Client) query(ctx context.Context, reqBody graphQLRequest) ([]map[string]any, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return decodeTransactions(respBody)
}

// decodeTransactions decodes a GraphQL result envelope. Numbers are kept as
// json.Number so large integers survive untouched.
func decodeTransactions(raw []byte) ([]map[string]any, error) {
	var envelope struct {
		Data   *transactionsData `json:"data"`
		Errors []graphQLError    `json:"errors"`
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(envelope.Errors) > 0 {
		return nil, graphQLErrors(envelope.Errors)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: no data", ErrMalformedResponse)
	}

	return envelope.Data.UserTransactions, nil
}

func graphQLErrors(errs []graphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
}
