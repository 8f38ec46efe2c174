package httpnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ppopth/ecstore/shard"
)

// Client is a shard.Store that talks to a Server.
type Client struct {
	baseURL string
	client  *http.Client
}

var _ shard.Store = (*Client)(nil)

// NewClient returns a client for the node at baseURL. A nil httpClient
// means http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (c *Client) shardURL(objectID string, index int) string {
	return fmt.Sprintf("%s/objects/%s/shards/%d", c.baseURL, url.PathEscape(objectID), index)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func unexpectedStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("httpnode: %s: %d - %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) Put(ctx context.Context, objectID string, index int, data []byte) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	resp, err := c.do(ctx, http.MethodPut, c.shardURL(objectID, index), data)
	if err != nil {
		return fmt.Errorf("httpnode: put %s/%d: %w", objectID, index, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return unexpectedStatus("put", resp)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, objectID string, index int) ([]byte, error) {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, c.shardURL(objectID, index), nil)
	if err != nil {
		return nil, fmt.Errorf("httpnode: get %s/%d: %w", objectID, index, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, shard.ErrNotFound
	default:
		return nil, unexpectedStatus("get", resp)
	}
}

func (c *Client) Delete(ctx context.Context, objectID string, index int) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodDelete, c.shardURL(objectID, index), nil)
	if err != nil {
		return fmt.Errorf("httpnode: delete %s/%d: %w", objectID, index, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return unexpectedStatus("delete", resp)
	}
	return nil
}

func (c *Client) ListPresence(ctx context.Context, objectID string) ([]int, error) {
	if objectID == "" {
		return nil, fmt.Errorf("shard: empty object id")
	}
	u := fmt.Sprintf("%s/objects/%s/shards", c.baseURL, url.PathEscape(objectID))
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpnode: list %s: %w", objectID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("list", resp)
	}
	var indices []int
	if err := json.NewDecoder(resp.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("httpnode: list %s: %w", objectID, err)
	}
	return indices, nil
}

// Status fetches the node status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("httpnode: status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("status", resp)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("httpnode: status: %w", err)
	}
	return &status, nil
}

// Close releases idle connections. The node itself is unaffected.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
