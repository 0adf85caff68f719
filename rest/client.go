// Package rest is the small part of the DataSift REST API which streaming
// needs: compiling definitions and driving historic queries.
package rest

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds each API call.
const DefaultTimeout = 30 * time.Second

// Client makes REST calls on behalf of a User. It is safe for concurrent
// use.
type Client struct {
	user *datasift.User
	http *http.Client
	log  datasift.Logger

	mu                 sync.Mutex
	rateLimit          int
	rateLimitRemaining int
}

// ClientOption is a functional option type for Client.
type ClientOption func(c *Client)

// OptClientHTTPClient replaces the default *http.Client.
func OptClientHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func OptClientLogger(l datasift.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient gets a Client for user.
func NewClient(user *datasift.User, opts ...ClientOption) (*Client, error) {
	if user == nil {
		return nil, errors.Wrap(datasift.ErrInvalidData, "a user is required")
	}
	c := &Client{
		user:               user,
		http:               &http.Client{Timeout: DefaultTimeout},
		log:                datasift.NopLogger{},
		rateLimit:          -1,
		rateLimitRemaining: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RateLimit returns the limits reported by the last call, or -1 for either
// if the API didn't send it.
func (c *Client) RateLimit() (limit, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit, c.rateLimitRemaining
}

func (c *Client) endpoint(name string) string {
	host := c.user.APIHost
	if host == "" {
		host = datasift.DefaultAPIHost
	}
	return c.user.Scheme() + "://" + strings.TrimSuffix(host, "/") + "/" + name + ".json"
}

// call POSTs params to the named endpoint and decodes the response into
// out, which may be nil.
func (c *Client) call(name string, params url.Values, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, c.endpoint(name), strings.NewReader(params.Encode()))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Auth", c.user.AuthHeader())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ua := c.user.UserAgent
	if ua == "" {
		ua = datasift.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s", name)
	}
	defer resp.Body.Close()
	c.recordRateLimit(resp.Header)

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s response", name)
	}
	c.log.Debugf("%s: %s %s", name, resp.Status, body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
	default:
		return c.apiError(resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if len(body) == 0 {
		return &datasift.APIError{StatusCode: resp.StatusCode, Message: "Failed to decode the response"}
	}
	return errors.Wrapf(json.Unmarshal(body, out), "decoding %s response", name)
}

func (c *Client) apiError(code int, body []byte) error {
	var res struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &res)
	aerr := &datasift.APIError{StatusCode: code, Message: res.Error}
	switch code {
	case http.StatusUnauthorized:
		aerr.Err = datasift.ErrAccessDenied
		if aerr.Message == "" {
			aerr.Message = "Authentication failed"
		}
	case http.StatusRequestEntityTooLarge:
		aerr.Message = "The API request contained too much data - try reducing the size of your CSDL"
	case http.StatusForbidden, http.StatusTooManyRequests:
		if _, remaining := c.RateLimit(); remaining == 0 || code == http.StatusTooManyRequests {
			aerr.Err = datasift.ErrRateLimited
		}
	}
	if aerr.Message == "" {
		aerr.Message = "Unknown error"
	}
	return aerr
}

func (c *Client) recordRateLimit(h http.Header) {
	limit, remaining := -1, -1
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Remaining")); err == nil {
		remaining = v
	}
	c.mu.Lock()
	c.rateLimit, c.rateLimitRemaining = limit, remaining
	c.mu.Unlock()
}

// statusOf returns the HTTP status of an API error, or 0.
func statusOf(err error) int {
	if aerr, ok := errors.Cause(err).(*datasift.APIError); ok {
		return aerr.StatusCode
	}
	return 0
}
