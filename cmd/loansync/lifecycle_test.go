package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/loansync/internal/config"
)

// logCapture captures slog output for testing
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *logCapture) handler() slog.Handler {
	return slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func (c *logCapture) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err == nil {
		c.entries = append(c.entries, entry)
	}
	return len(p), nil
}

func (c *logCapture) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []string
	for _, e := range c.entries {
		if msg, ok := e["msg"].(string); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (c *logCapture) hasMessage(msg string) bool {
	for _, m := range c.messages() {
		if m == msg {
			return true
		}
	}
	return false
}

func (c *logCapture) messageIndex(msg string) int {
	for i, m := range c.messages() {
		if m == msg {
			return i
		}
	}
	return -1
}

// TestStartWorker_LaunchesGoroutineAndTracksCompletion tests the startWorker helper
func TestStartWorker_LaunchesGoroutineAndTracksCompletion(t *testing.T) {
	capture := &logCapture{}
	oldDefault := slog.Default()
	slog.SetDefault(slog.New(capture.handler()))
	defer slog.SetDefault(oldDefault)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	workerRan := atomic.Bool{}
	startWorker(ctx, &wg, "test-worker", func(ctx context.Context) {
		workerRan.Store(true)
		<-ctx.Done()
	})

	// Give worker time to start
	time.Sleep(10 * time.Millisecond)

	if !workerRan.Load() {
		t.Error("worker function was not called")
	}

	// Cancel and wait for worker to complete
	cancel()
	wg.Wait()

	// Verify logging
	if !capture.hasMessage("worker started") {
		t.Error("expected 'worker started' log message")
	}
	if !capture.hasMessage("worker stopped") {
		t.Error("expected 'worker stopped' log message")
	}
}

// TestStartWorker_RespectsContextCancellation verifies workers stop when context is cancelled
func TestStartWorker_RespectsContextCancellation(t *testing.T) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	startWorker(ctx, &wg, "cancel-test", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	cancel()

	select {
	case <-done:
		// Worker responded to cancellation
	case <-time.After(100 * time.Millisecond):
		t.Error("worker did not respond to context cancellation")
	}

	wg.Wait()
}

// TestGracefulShutdownDrainsRequests verifies in-flight requests complete before shutdown
func TestGracefulShutdownDrainsRequests(t *testing.T) {
	// Create a handler that takes time to respond
	slowHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    ":0", // Random port
		Handler: slowHandler,
	}

	// Start server
	go srv.ListenAndServe()
	time.Sleep(10 * time.Millisecond) // Let server start

	// This test validates the pattern - actual integration test would need real server binding
	// The key behavior is that Shutdown() waits for in-flight requests

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Shutdown should succeed within timeout
	if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		// Server may not have started listening, which is OK for this unit test
		t.Logf("shutdown returned: %v (acceptable for unit test)", err)
	}
}

// TestShutdownTimeoutRespected verifies shutdown doesn't hang indefinitely
func TestShutdownTimeoutRespected(t *testing.T) {
	// Create a server with a handler that never responds
	blockingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {} // Block forever
	})

	srv := &http.Server{
		Addr:    ":0",
		Handler: blockingHandler,
	}

	// Very short timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	srv.Shutdown(shutdownCtx)
	elapsed := time.Since(start)

	// Shutdown should respect timeout (with some buffer)
	if elapsed > 50*time.Millisecond {
		t.Errorf("shutdown took %v, expected <= 50ms", elapsed)
	}
}

// TestWorkerWaitGroupIntegration verifies workers are waited on during shutdown
func TestWorkerWaitGroupIntegration(t *testing.T) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	workerCompleted := atomic.Bool{}
	startWorker(ctx, &wg, "slow-worker", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond) // Simulate cleanup work
		workerCompleted.Store(true)
	})

	// Cancel and wait
	cancel()
	wg.Wait()

	if !workerCompleted.Load() {
		t.Error("wg.Wait() returned before worker completed")
	}
}

// TestStoreClosedLast verifies store is closed after server and workers
func TestStoreClosedLast(t *testing.T) {
	var order []string
	var mu sync.Mutex

	recordOrder := func(step string) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}

	// Simulate shutdown sequence
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	// Add a worker
	startWorker(ctx, &wg, "order-test", func(ctx context.Context) {
		<-ctx.Done()
		recordOrder("worker_stopped")
	})

	// Simulate shutdown
	cancel()                        // Signal workers
	recordOrder("server_shutdown")  // Would be srv.Shutdown()
	wg.Wait()                       // Wait for workers
	recordOrder("store_closed")     // Would be db.Close()

	// Give worker goroutine time to record
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	// Verify order: server_shutdown -> worker_stopped -> store_closed
	if len(order) < 3 {
		t.Fatalf("expected 3 order entries, got %d: %v", len(order), order)
	}

	serverIdx := indexOf(order, "server_shutdown")
	workerIdx := indexOf(order, "worker_stopped")
	storeIdx := indexOf(order, "store_closed")

	if serverIdx == -1 || workerIdx == -1 || storeIdx == -1 {
		t.Fatalf("missing order entries: %v", order)
	}

	// Store must be closed last
	if storeIdx < workerIdx {
		t.Errorf("store closed before workers: %v", order)
	}
}

func indexOf(slice []string, item string) int {
	for i, v := range slice {
		if v == item {
			return i
		}
	}
	return -1
}

// TestStartWorker_LogsWorkerName verifies worker name is included in log attributes
func TestStartWorker_LogsWorkerName(t *testing.T) {
	capture := &logCapture{}
	oldDefault := slog.Default()
	slog.SetDefault(slog.New(capture.handler()))
	defer slog.SetDefault(oldDefault)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	startWorker(ctx, &wg, "sync-scheduler", func(ctx context.Context) {
		<-ctx.Done()
	})

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	// Check that worker name is in log entries
	capture.mu.Lock()
	defer capture.mu.Unlock()

	foundWorkerName := false
	for _, entry := range capture.entries {
		if worker, ok := entry["worker"].(string); ok && worker == "sync-scheduler" {
			foundWorkerName = true
			break
		}
	}

	if !foundWorkerName {
		t.Error("expected log entry with worker='sync-scheduler' attribute")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogConfig{Level: "info", Format: "json"}).Info("sync completed", "synced", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json format did not produce JSON: %v (%s)", err, buf.String())
	}
	if entry["synced"] != float64(2) {
		t.Errorf("synced = %v", entry["synced"])
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "info", Format: "text"}).Info("sync completed", "synced", 2)
	if !strings.Contains(buf.String(), "msg=\"sync completed\"") || !strings.Contains(buf.String(), "synced=2") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})

	logger.Info("scheduled sync finished")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	logger.Warn("lease expired before release")
	if buf.Len() == 0 {
		t.Error("warn not logged at warn level")
	}
}
