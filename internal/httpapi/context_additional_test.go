package httpapi

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("joined context not canceled after %s", what)
	}
}

func TestJoinContexts_RequestCanceled(t *testing.T) {
	req, cancelReq := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req"))
	j, cancel := joinContexts(req, context.Background())
	defer cancel()
	if j.Value(ctxKey{}) != "req" {
		t.Fatalf("values must come from the request context")
	}
	cancelReq()
	waitDone(t, j, "request cancel")
}

func TestJoinContexts_ServerShutdown(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	j, cancel := joinContexts(context.Background(), base)
	defer cancel()
	shutdown()
	waitDone(t, j, "base cancel")
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	// nolint:staticcheck // SA1012: nil is the documented reset
	SetBaseContext(nil)
	defer SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatalf("base context should be Background after reset")
	}
}
