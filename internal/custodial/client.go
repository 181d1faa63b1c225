package custodial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Client talks to the custodial ledger, the only component that actually
// moves funds. Every transfer carries an external ref, so the ledger can
// deduplicate retries on its side.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type transferReq struct {
	UserID      string `json:"userId"`
	Amount      int64  `json:"amount"`
	ExternalRef string `json:"externalRef"`
}

type transferResp struct {
	ProviderRef string `json:"providerRef"`
	Status      string `json:"status"`
}

// Transfer credits amount (minor units) to the user's custodial balance.
func (c *Client) Transfer(ctx context.Context, userID string, amount int64, externalRef string) (string, error) {
	body, _ := json.Marshal(transferReq{UserID: userID, Amount: amount, ExternalRef: externalRef})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", errors.New("custodial http " + resp.Status)
	}

	var out transferResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ProviderRef, nil
}
