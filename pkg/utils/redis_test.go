package utils

import (
	"context"
	"testing"
	"time"
)

func TestWatchSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if watchSlotAcquireScript == nil || watchSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireWatchSlot_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireWatchSlot(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseWatchSlot(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
