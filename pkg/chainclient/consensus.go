package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ConsensusSync is the decoded result of the beacon node syncing query.
type ConsensusSync struct {
	IsSyncing    bool
	HeadSlot     uint64
	SyncDistance uint64
}

// ConsensusClient speaks the beacon node REST API.
type ConsensusClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewConsensusClient constructs a client with a bounded per-call timeout.
func NewConsensusClient(endpoint string, timeout time.Duration) *ConsensusClient {
	return &ConsensusClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// decimalUint tolerates the beacon API emitting numeric fields as either JSON
// strings or numbers, decoding them as decimal in both cases.
type decimalUint uint64

func (d *decimalUint) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: parse decimal %q: %v", ErrMalformedResponse, text, err)
	}
	*d = decimalUint(value)
	return nil
}

func (c *ConsensusClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: unexpected status %d", ErrUnreachable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode body: %v", ErrMalformedResponse, path, err)
	}
	return nil
}

// SyncStatus queries /eth/v1/node/syncing.
func (c *ConsensusClient) SyncStatus(ctx context.Context) (ConsensusSync, error) {
	var payload struct {
		Data struct {
			IsSyncing    bool        `json:"is_syncing"`
			HeadSlot     decimalUint `json:"head_slot"`
			SyncDistance decimalUint `json:"sync_distance"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/eth/v1/node/syncing", &payload); err != nil {
		return ConsensusSync{}, err
	}
	return ConsensusSync{
		IsSyncing:    payload.Data.IsSyncing,
		HeadSlot:     uint64(payload.Data.HeadSlot),
		SyncDistance: uint64(payload.Data.SyncDistance),
	}, nil
}

// PeerCount queries /eth/v1/node/peer_count. The count is decimal, unlike the
// execution service's hex encoding.
func (c *ConsensusClient) PeerCount(ctx context.Context) (uint64, error) {
	var payload struct {
		Data struct {
			Connected decimalUint `json:"connected"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/eth/v1/node/peer_count", &payload); err != nil {
		return 0, err
	}
	return uint64(payload.Data.Connected), nil
}
