package actorctx

import (
	"context"
	"testing"
)

func TestWithUserIDKeepsRequestMetadata(t *testing.T) {
	ctx := With(context.Background(), Actor{RequestID: "req-1", IP: "10.0.0.1"})
	ctx = WithUserID(ctx, "u-1")

	if id, ok := UserIDFrom(ctx); !ok || id != "u-1" {
		t.Fatalf("user id = %q, %v", id, ok)
	}
	if RequestIDFrom(ctx) != "req-1" || IPFrom(ctx) != "10.0.0.1" {
		t.Fatalf("request metadata lost: %+v", ctx)
	}
}

func TestUserIDFromEmptyContext(t *testing.T) {
	if _, ok := UserIDFrom(context.Background()); ok {
		t.Fatalf("expected no user id")
	}
}
