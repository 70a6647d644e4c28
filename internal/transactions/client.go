package transactions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to another kiosk's transaction API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ Ledger = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Create(ctx context.Context, in NewTransaction) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return Transaction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transactions", bytes.NewReader(payload))
	if err != nil {
		return Transaction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tx Transaction
	if err := c.do(req, &tx); err != nil {
		return Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) List(ctx context.Context) ([]Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/transactions", nil)
	if err != nil {
		return nil, err
	}
	var list []Transaction
	if err := c.do(req, &list); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return list, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			if resp.StatusCode == http.StatusBadRequest {
				return fmt.Errorf("%w: %s", ErrInvalid, body.Error)
			}
			return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
