package api

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Client talks to a controller's control socket.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("api: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs one request/response exchange. result may be nil when
// the caller does not need the payload.
func (c *Client) Call(method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := Request{Jsonrpc: "2.0", Method: method, ID: c.nextID}
	if params != nil {
		raw, err := cbor.Marshal(params)
		if err != nil {
			return fmt.Errorf("api: encode params: %w", err)
		}
		req.Params = raw
	}

	payload, err := cbor.Marshal(req)
	if err != nil {
		return fmt.Errorf("api: encode request: %w", err)
	}
	if err := writeFrame(c.conn, payload); err != nil {
		return fmt.Errorf("api: send: %w", err)
	}

	respPayload, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("api: receive: %w", err)
	}
	var resp Response
	if err := cbor.Unmarshal(respPayload, &resp); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && resp.Result != nil {
		if err := cbor.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("api: decode result: %w", err)
		}
	}
	return nil
}

// Test checks liveness.
func (c *Client) Test() error {
	var ok bool
	if err := c.Call("test", nil, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("api: test returned false")
	}
	return nil
}

// Info fetches the controller identity and status.
func (c *Client) Info() (Info, error) {
	var info Info
	err := c.Call("info", nil, &info)
	return info, err
}

// TaskStats fetches the per-task cycle statistics.
func (c *Client) TaskStats() ([]TaskStats, error) {
	var stats []TaskStats
	err := c.Call("task_stats.get", nil, &stats)
	return stats, err
}

// ResetTaskStats zeroes the per-task cycle statistics.
func (c *Client) ResetTaskStats() error {
	return c.Call("task_stats.reset", nil, nil)
}
