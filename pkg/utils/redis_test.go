package utils

import (
	"context"
	"testing"
	"time"
)

func TestScriptsCompile(t *testing.T) {
	if lockAcquireScript == nil || lockReleaseScript == nil || sequenceNextScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestLockHelpersRejectNilClient(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireLock(ctx, nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseLock(ctx, nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NextSequence(ctx, nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
