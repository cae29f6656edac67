package shopify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	DefaultAPIVersion = "2024-01"

	FilterAll  = "all"
	FilterOpen = "open"
)

type Options struct {
	StoreURL    string
	AccessToken string
	APIVersion  string
	HTTPClient  *http.Client
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Filter narrows the orders listing. FilterOpen keeps unfulfilled and
	// in-progress orders only; anything else lists every order.
	Filter string
}

// Client talks to the Shopify Admin GraphQL API of a single store.
type Client struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	filter      string
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("shopify http %d", e.StatusCode)
	}
	return fmt.Sprintf("shopify http %d: %s", e.StatusCode, e.Message)
}

type GraphQLError struct {
	Message string
	Code    string
}

func (e *GraphQLError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("shopify graphql %s: %s", e.Code, e.Message)
	}
	return "shopify graphql: " + e.Message
}

func NewClient(opts Options) (*Client, error) {
	storeURL := strings.TrimRight(strings.TrimSpace(opts.StoreURL), "/")
	if storeURL == "" {
		return nil, fmt.Errorf("shopify store url is required")
	}
	if !strings.HasPrefix(storeURL, "http://") && !strings.HasPrefix(storeURL, "https://") {
		storeURL = "https://" + storeURL
	}
	token := strings.TrimSpace(opts.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("shopify access token is required")
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	return &Client{
		endpoint:    fmt.Sprintf("%s/admin/api/%s/graphql.json", storeURL, apiVersion),
		accessToken: token,
		httpClient:  httpClient,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		filter:      strings.ToLower(strings.TrimSpace(opts.Filter)),
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

// do runs a GraphQL operation and decodes its data member into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	bodyBytes, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	correlationID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
					return waitErr
				}
				continue
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(payload)}
		}

		var decoded graphQLResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return fmt.Errorf("decode shopify response: %w", err)
		}
		if len(decoded.Errors) > 0 {
			first := decoded.Errors[0]
			gqlErr := &GraphQLError{Message: first.Message, Code: first.Extensions.Code}
			if gqlErr.Code == "THROTTLED" && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return gqlErr
		}
		if out == nil || len(decoded.Data) == 0 {
			return nil
		}
		return json.Unmarshal(decoded.Data, out)
	}
}

func errorMessage(payload []byte) string {
	var body struct {
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Errors != nil {
		switch typed := body.Errors.(type) {
		case string:
			return typed
		default:
			if encoded, err := json.Marshal(typed); err == nil {
				return string(encoded)
			}
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
