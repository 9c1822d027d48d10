package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func executionServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json content type, got %s", ct)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExecutionSyncStatusSynced(t *testing.T) {
	server := executionServer(t, map[string]string{"eth_syncing": "false"})
	client := NewExecutionClient(server.URL, time.Second)

	sync, err := client.SyncStatus(context.Background())
	if err != nil {
		t.Fatalf("sync status: %v", err)
	}
	if sync.IsSyncing {
		t.Fatal("expected synced state")
	}
}

func TestExecutionSyncStatusSyncing(t *testing.T) {
	server := executionServer(t, map[string]string{
		"eth_syncing": `{"currentBlock":"0x3e8","highestBlock":"0x7d0"}`,
	})
	client := NewExecutionClient(server.URL, time.Second)

	sync, err := client.SyncStatus(context.Background())
	if err != nil {
		t.Fatalf("sync status: %v", err)
	}
	if !sync.IsSyncing {
		t.Fatal("expected syncing state")
	}
	if sync.CurrentBlock != 1000 || sync.HighestBlock != 2000 {
		t.Fatalf("unexpected progress: %+v", sync)
	}
}

func TestExecutionSyncStatusMalformedHex(t *testing.T) {
	server := executionServer(t, map[string]string{
		"eth_syncing": `{"currentBlock":"1000","highestBlock":"0x7d0"}`,
	})
	client := NewExecutionClient(server.URL, time.Second)

	if _, err := client.SyncStatus(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestExecutionLatestBlock(t *testing.T) {
	server := executionServer(t, map[string]string{
		"eth_getBlockByNumber": `{"number":"0x1b4","timestamp":"0x6553f100"}`,
	})
	client := NewExecutionClient(server.URL, time.Second)

	block, err := client.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("latest block: %v", err)
	}
	if block.Number != 436 {
		t.Fatalf("unexpected block number %d", block.Number)
	}
	if block.TimestampUnix != 0x6553f100 {
		t.Fatalf("unexpected timestamp %d", block.TimestampUnix)
	}
}

func TestExecutionPeerCount(t *testing.T) {
	server := executionServer(t, map[string]string{"net_peerCount": `"0xa"`})
	client := NewExecutionClient(server.URL, time.Second)

	count, err := client.PeerCount(context.Background())
	if err != nil {
		t.Fatalf("peer count: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected 10 peers, got %d", count)
	}
}

func TestExecutionRPCErrorIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer server.Close()
	client := NewExecutionClient(server.URL, time.Second)

	if _, err := client.PeerCount(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestExecutionUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()
	client := NewExecutionClient(server.URL, 200*time.Millisecond)

	if _, err := client.SyncStatus(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestExecutionTimeoutIsUnreachable(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-blocked
	}))
	defer func() {
		close(blocked)
		server.Close()
	}()
	client := NewExecutionClient(server.URL, 50*time.Millisecond)

	if _, err := client.SyncStatus(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable on timeout, got %v", err)
	}
}

func TestExecutionNon200IsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client := NewExecutionClient(server.URL, time.Second)

	if _, err := client.PeerCount(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}
