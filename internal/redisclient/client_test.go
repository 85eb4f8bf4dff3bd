package redisclient

import (
	"context"
	"testing"
	"time"
)

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatal("empty address should disable redis")
	}
	if !(Config{Addr: "localhost:6379"}).Enabled() {
		t.Fatal("address should enable redis")
	}
}

func TestOpenFailsFastOnUnreachableServer(t *testing.T) {
	start := time.Now()

	// port 1 is never a redis server
	rdb, err := Open(context.Background(), Config{Addr: "127.0.0.1:1"})
	if err == nil {
		_ = rdb.Close()
		t.Fatal("expected ping failure")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("open should give up within its timeout, took %v", time.Since(start))
	}
}
