package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"sitekit_datastore/src/logger"
	"sitekit_datastore/src/model"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// Resource types understood by the Site Kit REST routes
const (
	TypeCore    = "core"
	TypeModules = "modules"
)

// DefaultNamespace is the REST namespace registered by the plugin
const DefaultNamespace = "google-site-kit"

// Client talks to /<namespace>/v1/<type>/<identifier>/data/<datapoint>
type Client struct {
	baseURL    string
	namespace  string
	nonce      string
	username   string
	password   string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithNonce sets the X-WP-Nonce header on every request
func WithNonce(nonce string) Option {
	return func(c *Client) { c.nonce = nonce }
}

// WithBasicAuth authenticates with a WordPress application password
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithNamespace overrides DefaultNamespace
func WithNamespace(namespace string) Option {
	return func(c *Client) { c.namespace = namespace }
}

// NewClient creates a client rooted at baseURL (usually https://site/wp-json)
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		namespace:  DefaultNamespace,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.With("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a Client from the api section of the config
func NewClientFromConfig(config model.APIConfig) *Client {
	opts := []Option{WithHTTPClient(&http.Client{Timeout: config.Timeout})}
	if config.Namespace != "" {
		opts = append(opts, WithNamespace(config.Namespace))
	}
	if config.Nonce != "" {
		opts = append(opts, WithNonce(config.Nonce))
	}
	if config.Username != "" {
		opts = append(opts, WithBasicAuth(config.Username, config.Password))
	}
	return NewClient(config.BaseURL, opts...)
}

// Path returns the route for a datapoint, without the base URL
func (c *Client) Path(typ, identifier, datapoint string) string {
	return fmt.Sprintf("/%s/v1/%s/%s/data/%s", c.namespace, typ, identifier, datapoint)
}

// Get fetches a datapoint and decodes the response into out.
// params are sent as query arguments.
func (c *Client) Get(ctx context.Context, typ, identifier, datapoint string, params map[string]any, out any) error {
	path := c.Path(typ, identifier, datapoint)
	query, err := encodeQuery(params)
	if err != nil {
		return fmt.Errorf("failed to encode query for %s: %w", path, err)
	}
	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	return c.do(req, path, out)
}

// Set posts {"data": data} to a datapoint and decodes the response into out
func (c *Client) Set(ctx context.Context, typ, identifier, datapoint string, data any, out any) error {
	path := c.Path(typ, identifier, datapoint)
	body, err := sonic.Marshal(map[string]any{"data": data})
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.nonce != "" {
		req.Header.Set("X-WP-Nonce", c.nonce)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	c.log.Debug().
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("REST request")

	if apiErr := decodeError(resp.StatusCode, body); apiErr != nil {
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response for %s: %w", path, err)
	}
	return nil
}

// errorProbe matches only bodies that look like a WP_Error
type errorProbe struct {
	Code    *string `json:"code"`
	Message *string `json:"message"`
	Data    *struct {
		Status *int `json:"status"`
	} `json:"data"`
}

func decodeError(status int, body []byte) *Error {
	failed := status < 200 || status > 299

	var probe errorProbe
	if err := sonic.Unmarshal(body, &probe); err != nil {
		if !failed {
			return nil
		}
		return &Error{Message: strings.TrimSpace(string(body)), HTTPStatus: status}
	}

	looksLikeError := probe.Code != nil && probe.Message != nil && probe.Data != nil && probe.Data.Status != nil
	if !failed && !looksLikeError {
		return nil
	}

	apiErr := &Error{HTTPStatus: status}
	if probe.Code != nil {
		apiErr.Code = *probe.Code
	}
	if probe.Message != nil {
		apiErr.Message = *probe.Message
	}
	if probe.Data != nil && probe.Data.Status != nil {
		apiErr.Data.Status = *probe.Data.Status
	}
	if apiErr.Message == "" && failed {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func encodeQuery(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		v := params[k]
		if v == nil {
			continue
		}
		if b, ok := v.([]byte); ok {
			values.Add(k, string(b))
			continue
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				s, err := queryScalar(rv.Index(i).Interface())
				if err != nil {
					return "", err
				}
				values.Add(k, s)
			}
		default:
			s, err := queryScalar(v)
			if err != nil {
				return "", err
			}
			values.Add(k, s)
		}
	}
	return values.Encode(), nil
}

func queryScalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		b, err := sonic.ConfigStd.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
