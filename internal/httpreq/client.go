// Copyright 2024 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpreq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Jigsaw-Code/egress/internal/egress"
)

// RequestOptions describes a request in options form.
type RequestOptions struct {
	Method   string // defaults to GET
	Hostname string
	Port     int    // 0 means the scheme's default port
	Path     string // defaults to "/", may include a query
	Header   http.Header
	Body     io.Reader

	// Agent, when set, dials the connection for this request.
	Agent *egress.Agent
}

func (o *RequestOptions) url(scheme string) (*url.URL, error) {
	if o.Hostname == "" {
		return nil, errors.New("hostname is required")
	}
	if o.Port < 0 || o.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", o.Port)
	}
	hostname := strings.TrimSuffix(strings.TrimPrefix(o.Hostname, "["), "]")
	host := hostname
	if o.Port != 0 {
		host = net.JoinHostPort(hostname, strconv.Itoa(o.Port))
	} else if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	path := o.Path
	if path == "" {
		path = "/"
	}
	return url.Parse(scheme + "://" + host + path)
}

// Client is the [Requester] that actually talks to the network.
type Client struct {
	scheme string
	direct *http.Transport

	mu       sync.Mutex
	viaAgent map[*egress.Agent]*http.Transport
}

var _ Requester = (*Client)(nil)

// NewClient creates a Client for scheme ("http" or "https"). Connections
// dialed through an agent reuse every setting of t except the dial function.
func NewClient(scheme string, t *http.Transport) *Client {
	if t == nil {
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			t = dt.Clone()
		} else {
			t = &http.Transport{}
		}
	}
	return &Client{
		scheme:   scheme,
		direct:   t,
		viaAgent: make(map[*egress.Agent]*http.Transport),
	}
}

func (c *Client) transportFor(agent *egress.Agent) *http.Transport {
	if agent == nil {
		return c.direct
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.viaAgent[agent]
	if !ok {
		t = c.direct.Clone()
		t.Proxy = nil
		t.DialContext = agent.DialContext
		c.viaAgent[agent] = t
	}
	return t
}

func (c *Client) do(req *http.Request, agent *egress.Agent) (*http.Response, error) {
	client := &http.Client{Transport: c.transportFor(agent)}
	return client.Do(req)
}

func (c *Client) Request(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		return nil, errors.New("request options are required")
	}
	u, err := opts.url(c.scheme)
	if err != nil {
		return nil, fmt.Errorf("invalid request options: %w", err)
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), opts.Body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.do(req, opts.Agent)
}

func (c *Client) Get(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		return nil, errors.New("request options are required")
	}
	// The caller's options keep their method.
	get := *opts
	get.Method = http.MethodGet
	return c.Request(ctx, &get)
}

func (c *Client) RequestURL(ctx context.Context, method, rawurl string) (*http.Response, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.Scheme != c.scheme {
		return nil, fmt.Errorf("scheme %q not supported, expected %q", u.Scheme, c.scheme)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, nil)
}

func (c *Client) GetURL(ctx context.Context, rawurl string) (*http.Response, error) {
	return c.RequestURL(ctx, http.MethodGet, rawurl)
}
