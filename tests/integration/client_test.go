//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/classy-pay-client/internal/testutil"
	"github.com/Sternrassler/classy-pay-client/pkg/client"
	"github.com/Sternrassler/classy-pay-client/pkg/models"
	"github.com/Sternrassler/classy-pay-client/pkg/ratelimit"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newClient(t *testing.T, mock *testutil.MockAPI, redisClient *redis.Client, token string) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(mock.URL(), token, "integration-secret")
	cfg.Redis = redisClient
	logger := zerolog.Nop()
	cfg.Logger = &logger

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestFullListFlow tests the complete list flow: Gate → Count → Pages → Rate Limit Update.
func TestFullListFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()

	items := make([]any, 120)
	for i := range items {
		items[i] = map[string]any{"id": i + 1, "status": "success", "amount": "2.50"}
	}
	mock.SetCollection("/transaction", items, 5*time.Millisecond)

	c := newClient(t, mock, redisClient, "flow-token")
	ctx := context.Background()

	got, err := c.List(ctx, "1", "/transaction")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	txs, err := models.DecodeTransactions(got)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(txs) != 120 {
		t.Errorf("Expected 120 transactions, got %d", len(txs))
	}
	if total := models.Total(txs).StringFixed(2); total != "300.00" {
		t.Errorf("Total = %s, want 300.00", total)
	}
	if mock.GetRequestCount() != 1+5 {
		t.Errorf("Expected 6 requests (count + 5 pages), got %d", mock.GetRequestCount())
	}
}

// TestRateLimitStatePersistsAcrossClients verifies that two clients sharing a
// credential share one budget in Redis.
func TestRateLimitStatePersistsAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/transaction/1", testutil.NewRateLimitResponse(`{"id":1}`, 3, 60))

	first := newClient(t, mock, redisClient, "shared-token")
	second := newClient(t, mock, redisClient, "shared-token")
	ctx := context.Background()

	if _, err := first.Get(ctx, "1", "/transaction/1"); err != nil {
		t.Fatalf("First request failed: %v", err)
	}

	tracker := ratelimit.NewTracker(redisClient, "shared-token", zerolog.Nop())
	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3", state.Remaining)
	}

	_, err = second.Get(ctx, "1", "/transaction/1")
	if !errors.Is(err, client.ErrRequestBlocked) {
		t.Errorf("Expected second client to be blocked, got %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Expected 1 upstream request, got %d", mock.GetRequestCount())
	}
}

// TestListFailsWhenBlockedMidway verifies a gate block during the page phase
// fails the whole list.
func TestListFailsWhenBlockedMidway(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetCollection("/transaction", testutil.NumberedItems(100), 0)

	// The count response exhausts the budget before any page is requested.
	mock.SetResponse("/transaction/count", testutil.NewRateLimitResponse(`{"count":100}`, 0, 60))

	c := newClient(t, mock, redisClient, "midway-token")

	got, err := c.List(context.Background(), "1", "/transaction")
	if err == nil {
		t.Fatal("Expected list to fail")
	}
	if got != nil {
		t.Errorf("Expected no partial result, got %d items", len(got))
	}
	if !errors.Is(err, client.ErrRequestBlocked) {
		t.Errorf("Expected ErrRequestBlocked in chain, got %v", err)
	}
	if n := len(mock.RequestsTo("/transaction")); n != 0 {
		t.Errorf("Expected no page requests, got %d", n)
	}
}

// TestRetriesRecoverFromServerErrors verifies the retry transport with a real
// rate limit gate in the chain.
func TestRetriesRecoverFromServerErrors(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()

	var calls atomic.Int32
	mock.SetHandler("/transaction/9", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":9,"amount":"1.00"}`))
	})

	cfg := client.DefaultConfig(mock.URL(), "retry-token", "integration-secret")
	cfg.Redis = redisClient
	cfg.MaxRetries = 3
	cfg.InitialBackoff = 10 * time.Millisecond
	logger := zerolog.Nop()
	cfg.Logger = &logger

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	obj, err := c.Get(context.Background(), "1", "/transaction/9")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	tx, err := models.DecodeTransaction(obj)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if tx.ID != 9 {
		t.Errorf("ID = %d, want 9", tx.ID)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 upstream calls, got %d", calls.Load())
	}
}
