package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PairCodePath is the rendezvous endpoint that allocates pair codes.
const PairCodePath = "/ajax/pair-code"

// PairCodeResponse is the body returned by PairCodePath.
type PairCodeResponse struct {
	PairCode string `json:"pairCode"`
}

// RendezvousClient talks to the rendezvous service over HTTP.
type RendezvousClient struct {
	*BaseClient
}

func NewRendezvousClient(proxyURL string) *RendezvousClient {
	client := NewBaseClient(proxyURL)
	client.SetHeader("Accept", "application/json")
	return &RendezvousClient{BaseClient: client}
}

// FetchPairCode asks the service for a fresh pair code. It does not retry.
func (c *RendezvousClient) FetchPairCode(ctx context.Context) (string, error) {
	body, err := c.Get(ctx, PairCodePath)
	if err != nil {
		return "", fmt.Errorf("fetch pair code: %w", err)
	}

	var resp PairCodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode pair code response: %w", err)
	}
	if resp.PairCode == "" {
		return "", errors.New("pair code response has no pairCode")
	}
	return resp.PairCode, nil
}
