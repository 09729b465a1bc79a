package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestWatchStop_KillFileCancels(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	ctx, sw, err := WatchStop(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("WatchStop failed: %v", err)
	}
	defer sw.Close()

	if err := SendStop(dir); err != nil {
		t.Fatalf("SendStop failed: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by the kill file")
	}
	if !errors.Is(context.Cause(ctx), ErrStopRequested) {
		t.Errorf("cause = %v, want ErrStopRequested", context.Cause(ctx))
	}
}

func TestWatchStop_ClearsStaleSignal(t *testing.T) {
	dir := t.TempDir()
	if err := SendStop(dir); err != nil {
		t.Fatal(err)
	}

	ctx, sw, err := WatchStop(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("WatchStop failed: %v", err)
	}
	defer sw.Close()

	if _, err := os.Stat(filepath.Join(dir, KillFile)); !os.IsNotExist(err) {
		t.Error("stale kill file should be removed")
	}
	select {
	case <-ctx.Done():
		t.Error("a stale signal must not cancel a new run")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestStopWatcher_Close(t *testing.T) {
	ctx, sw, err := WatchStop(context.Background(), t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("WatchStop failed: %v", err)
	}
	if err := sw.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	sw.Close()

	if !errors.Is(context.Cause(ctx), context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", context.Cause(ctx))
	}
}

func TestClearSignals_Missing(t *testing.T) {
	if err := ClearSignals(t.TempDir()); err != nil {
		t.Errorf("ClearSignals on empty dir: %v", err)
	}
}
