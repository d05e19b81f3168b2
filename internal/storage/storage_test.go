package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestMemoryStoreLookupDelete(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	if _, ok, err := kv.Lookup(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := kv.Store(ctx, "key", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("store: %v", err)
	}
	value, ok, err := kv.Lookup(ctx, "key")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || string(value) != `{"a":1}` {
		t.Fatalf("unexpected value: ok=%v %q", ok, value)
	}

	// Mutating the returned slice must not leak into storage.
	value[0] = 'X'
	again, _, _ := kv.Lookup(ctx, "key")
	if string(again) != `{"a":1}` {
		t.Fatalf("stored value mutated: %q", again)
	}

	if err := kv.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Lookup(ctx, "key"); ok {
		t.Fatalf("expected delete to remove key")
	}
	if err := kv.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMemoryWatchNotifies(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	events := make(chan Event, 4)
	cancel, err := kv.Watch(ctx, "consent", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := kv.Store(ctx, "consent", []byte("v1")); err != nil {
		t.Fatalf("store: %v", err)
	}
	ev := <-events
	if ev.Key != "consent" || ev.Deleted {
		t.Fatalf("unexpected event: %#v", ev)
	}

	if err := kv.Store(ctx, "other", []byte("v")); err != nil {
		t.Fatalf("store other: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("watcher saw unrelated key: %#v", ev)
	default:
	}

	if err := kv.Delete(ctx, "consent"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev = <-events
	if !ev.Deleted {
		t.Fatalf("expected deletion event, got %#v", ev)
	}

	cancel()
	if err := kv.Store(ctx, "consent", []byte("v2")); err != nil {
		t.Fatalf("store after cancel: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("cancelled watcher still firing: %#v", ev)
	default:
	}
}

func TestValkeyStoreLookupDelete(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	kv, err := NewValkey(ValkeyConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new valkey: %v", err)
	}
	ctx := context.Background()

	if err := kv.Store(ctx, "consentry:v1:consent:site-a", []byte(`{"siteId":"site-a"}`)); err != nil {
		t.Fatalf("store: %v", err)
	}
	value, ok, err := kv.Lookup(ctx, "consentry:v1:consent:site-a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || string(value) != `{"siteId":"site-a"}` {
		t.Fatalf("unexpected value: ok=%v %q", ok, value)
	}

	if _, ok, err := kv.Lookup(ctx, "absent"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := kv.Delete(ctx, "consentry:v1:consent:site-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Lookup(ctx, "consentry:v1:consent:site-a"); ok {
		t.Fatalf("expected delete to remove key")
	}
	if err := kv.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestValkeyWatchNotifies(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	writer, err := NewValkey(ValkeyConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new valkey: %v", err)
	}
	defer func() { _ = writer.Close(context.Background()) }()

	ctx := context.Background()
	events := make(chan Event, 2)
	cancel, err := writer.Watch(ctx, "consent", func(ev Event) { events <- ev })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	// Subscription setup races the first write; retry until the watcher is live.
	deadline := time.After(5 * time.Second)
	for {
		if err := writer.Store(ctx, "consent", []byte("v1")); err != nil {
			t.Fatalf("store: %v", err)
		}
		select {
		case ev := <-events:
			if ev.Key != "consent" || ev.Deleted {
				t.Fatalf("unexpected event: %#v", ev)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatalf("watch event never arrived")
		}
	}
}
