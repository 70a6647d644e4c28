package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/voicepay/internal/controller"
	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/protocol"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client drives a kiosk through its presenter HTTP routes.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) State(ctx context.Context) (protocol.ScreenState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/state", nil)
	if err != nil {
		return protocol.ScreenState{}, err
	}
	var st protocol.ScreenState
	if _, err := c.do(req, &st); err != nil {
		return protocol.ScreenState{}, fmt.Errorf("get state: %w", err)
	}
	return st, nil
}

// Submit sends a presenter command. The result is returned alongside
// ErrInvalidCommand and navigation.ErrStaleCommand so callers can show the
// current state.
func (c *Client) Submit(ctx context.Context, cmd protocol.UICommand) (protocol.CommandResult, error) {
	req, err := c.jsonRequest(ctx, "/api/commands", cmd)
	if err != nil {
		return protocol.CommandResult{}, err
	}
	var res protocol.CommandResult
	status, err := c.do(req, &res)
	switch {
	case status == http.StatusBadRequest:
		return res, fmt.Errorf("%w: %s", ErrInvalidCommand, res.Error)
	case status == http.StatusConflict:
		return res, navigation.ErrStaleCommand
	case status == http.StatusServiceUnavailable:
		return res, controller.ErrClosed
	case err != nil:
		return res, fmt.Errorf("submit command: %w", err)
	}
	return res, nil
}

func (c *Client) Listen(ctx context.Context, on bool) (bool, error) {
	req, err := c.jsonRequest(ctx, "/api/listen", protocol.ListenRequest{Listen: on})
	if err != nil {
		return false, err
	}
	var res protocol.ListenRequest
	if _, err := c.do(req, &res); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	return res.Listen, nil
}

// Watch streams screen states to fn until fn returns false, ctx ends or the
// kiosk closes the stream.
func (c *Client) Watch(ctx context.Context, fn func(protocol.ScreenState) bool) error {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/screen/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		var st protocol.ScreenState
		if err := wsjson.Read(ctx, conn, &st); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		if !fn(st) {
			return nil
		}
	}
}

func (c *Client) jsonRequest(ctx context.Context, path string, v any) (*http.Request, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do decodes any JSON body into out and returns the status code. Non-200
// responses are errors.
func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode == http.StatusOK {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
