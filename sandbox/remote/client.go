// Package remote exposes a sandbox.Provider over HTTP. Handler serves any
// provider; Client consumes a Handler and is itself a sandbox.Provider, so a
// worker can drive sandboxes hosted by a separate sandboxd process.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nevindra/vybe/sandbox"
)

// Client implements sandbox.Provider against a sandboxd endpoint.
type Client struct {
	baseURL string
	domain  string
	http    *http.Client
}

var (
	_ sandbox.Provider = (*Client)(nil)
	_ sandbox.Killer   = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption { return func(cl *Client) { cl.http = c } }

// WithDomain sets the domain Endpoint builds URLs under (default "localhost").
func WithDomain(d string) ClientOption { return func(cl *Client) { cl.domain = d } }

// NewClient creates a Client for baseURL (e.g. "http://sandboxd:9000").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		domain:  "localhost",
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Create(ctx context.Context, template string) (sandbox.Handle, error) {
	var h sandbox.Handle
	err := c.doJSON(ctx, http.MethodPost, "/sandboxes", createRequest{Template: template}, &h)
	if err != nil {
		var pe *sandbox.ProvisionError
		if !errors.As(err, &pe) {
			err = &sandbox.ProvisionError{Template: template, Err: err}
		}
		return sandbox.Handle{}, err
	}
	return h, nil
}

func (c *Client) Connect(ctx context.Context, id string) (sandbox.Handle, error) {
	var h sandbox.Handle
	err := c.doJSON(ctx, http.MethodGet, "/sandboxes/"+url.PathEscape(id), nil, &h)
	return h, err
}

func (c *Client) Kill(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sandboxes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) RunCommand(ctx context.Context, h sandbox.Handle, command string) (sandbox.CommandResult, error) {
	var resp commandResponse
	err := c.doJSON(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(h.ID)+"/commands", commandRequest{Command: command}, &resp)
	if err != nil {
		return sandbox.CommandResult{}, err
	}
	if resp.Error != "" {
		return resp.Result, fmt.Errorf("remote command: %s", resp.Error)
	}
	return resp.Result, nil
}

func (c *Client) WriteFile(ctx context.Context, h sandbox.Handle, path string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.fileURL(h, path), bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) ReadFile(ctx context.Context, h sandbox.Handle, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(h, path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	b, err := readBody(resp.Body, maxRequestBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func (c *Client) Endpoint(h sandbox.Handle, port int) string {
	return sandbox.HostEndpoint(c.domain, h, port)
}

func (c *Client) fileURL(h sandbox.Handle, path string) string {
	return c.baseURL + "/sandboxes/" + url.PathEscape(h.ID) + "/files?path=" + url.QueryEscape(path)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into the typed sandbox errors.
func decodeError(resp *http.Response) error {
	var e errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &e); err != nil || e.Kind == "" {
		return fmt.Errorf("sandbox http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	switch e.Kind {
	case kindSandboxNotFound:
		return &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: e.Name}
	case kindFileNotFound:
		return &sandbox.NotFoundError{Resource: sandbox.ResourceFile, Name: e.Name}
	case kindProvision:
		return &sandbox.ProvisionError{Template: e.Name, Err: errors.New(e.Error)}
	default:
		return fmt.Errorf("sandbox http %d (%s): %s", resp.StatusCode, e.Kind, e.Error)
	}
}
