package okx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/domain/entity"
)

// ClientConfig contains REST client configuration
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Passphrase    string
	Demo          bool
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// Client is the OKX V5 REST client
type Client struct {
	http   *resty.Client
	signer *Signer
}

// envelope is the common response body of every V5 endpoint
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// NewClient creates a new REST client
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.okx.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = 500 * time.Millisecond
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(10 * cfg.RetryWaitTime).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil {
				return false
			}
			if resp.StatusCode() == http.StatusTooManyRequests {
				return true
			}
			// Order placement is not retried on 5xx: the venue may have accepted it.
			return resp.StatusCode() >= 500 && resp.Request != nil && resp.Request.Method == http.MethodGet
		})

	return &Client{
		http:   rc,
		signer: NewSigner(cfg.APIKey, cfg.APISecret, cfg.Passphrase, cfg.Demo),
	}
}

// get performs a signed GET and decodes the data array into out
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) (*envelope, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// post performs a signed POST with a JSON body and decodes the data array into out
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) (*envelope, error) {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) (*envelope, error) {
	op := method + " " + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaders(c.signer.Headers(method, requestPath, string(payload)))
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if payload != nil {
		req.SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &entity.TransportError{Op: op, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env.Code == "" {
		if resp.IsError() {
			return nil, &entity.TransportError{Op: op, Err: errors.Errorf("http %d: %s", resp.StatusCode(), truncate(resp.String(), 200))}
		}
		return nil, &entity.TransportError{Op: op, Err: errors.Wrap(errorOrEmpty(err), "decode response")}
	}
	if resp.StatusCode() >= 500 {
		return nil, &entity.TransportError{Op: op, Err: errors.Errorf("http %d: %s %s", resp.StatusCode(), env.Code, env.Msg)}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, &entity.TransportError{Op: op, Err: errors.Wrap(err, "decode data")}
		}
	}
	return &env, nil
}

func errorOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("missing code")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
