package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ExecutionSync is the decoded result of an eth_syncing query.
type ExecutionSync struct {
	IsSyncing    bool
	CurrentBlock uint64
	HighestBlock uint64
}

// Block carries the fields the watchdog needs from the latest block header.
type Block struct {
	Number        uint64
	TimestampUnix uint64
}

// ExecutionClient speaks JSON-RPC to the execution service.
type ExecutionClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewExecutionClient constructs a client with a bounded per-call timeout.
func NewExecutionClient(endpoint string, timeout time.Duration) *ExecutionClient {
	return &ExecutionClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *ExecutionClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrUnreachable, method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: decode body: %v", ErrMalformedResponse, method, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("%w: %s: rpc error %d: %s", ErrMalformedResponse, method, decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Result) == 0 {
		return nil, fmt.Errorf("%w: %s: empty result", ErrMalformedResponse, method)
	}
	return decoded.Result, nil
}

// SyncStatus queries eth_syncing. A boolean false result means the service
// considers itself synced; an object result carries hex-encoded progress.
func (c *ExecutionClient) SyncStatus(ctx context.Context) (ExecutionSync, error) {
	result, err := c.call(ctx, "eth_syncing", nil)
	if err != nil {
		return ExecutionSync{}, err
	}

	var synced bool
	if err := json.Unmarshal(result, &synced); err == nil {
		if synced {
			return ExecutionSync{}, fmt.Errorf("%w: eth_syncing: unexpected boolean true", ErrMalformedResponse)
		}
		return ExecutionSync{IsSyncing: false}, nil
	}

	var progress struct {
		CurrentBlock string `json:"currentBlock"`
		HighestBlock string `json:"highestBlock"`
	}
	if err := json.Unmarshal(result, &progress); err != nil {
		return ExecutionSync{}, fmt.Errorf("%w: eth_syncing: decode progress: %v", ErrMalformedResponse, err)
	}

	current, err := ParseHexUint64(progress.CurrentBlock)
	if err != nil {
		return ExecutionSync{}, fmt.Errorf("eth_syncing currentBlock: %w", err)
	}
	highest, err := ParseHexUint64(progress.HighestBlock)
	if err != nil {
		return ExecutionSync{}, fmt.Errorf("eth_syncing highestBlock: %w", err)
	}

	return ExecutionSync{IsSyncing: true, CurrentBlock: current, HighestBlock: highest}, nil
}

// LatestBlock queries eth_getBlockByNumber for the latest header.
func (c *ExecutionClient) LatestBlock(ctx context.Context) (Block, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []any{"latest", false})
	if err != nil {
		return Block{}, err
	}

	var header struct {
		Number    string `json:"number"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return Block{}, fmt.Errorf("%w: eth_getBlockByNumber: decode header: %v", ErrMalformedResponse, err)
	}

	number, err := ParseHexUint64(header.Number)
	if err != nil {
		return Block{}, fmt.Errorf("eth_getBlockByNumber number: %w", err)
	}
	timestamp, err := ParseHexUint64(header.Timestamp)
	if err != nil {
		return Block{}, fmt.Errorf("eth_getBlockByNumber timestamp: %w", err)
	}

	return Block{Number: number, TimestampUnix: timestamp}, nil
}

// PeerCount queries net_peerCount.
func (c *ExecutionClient) PeerCount(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "net_peerCount", nil)
	if err != nil {
		return 0, err
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return 0, fmt.Errorf("%w: net_peerCount: decode result: %v", ErrMalformedResponse, err)
	}
	count, err := ParseHexUint64(encoded)
	if err != nil {
		return 0, fmt.Errorf("net_peerCount: %w", err)
	}
	return count, nil
}
