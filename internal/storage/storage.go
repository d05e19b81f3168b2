package storage

import "context"

// Event describes a mutation on a watched key. Watchers only learn that the
// key changed; they re-read the value themselves so last-write-wins holds
// regardless of delivery order.
type Event struct {
	Key     string
	Deleted bool
}

// KV is the persisted key-value storage the embedding environment exposes to
// the runtime. Watch delivers change notifications for a single key so
// consent granted or revoked in another same-origin context can be observed
// without a reload.
type KV interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, key string, fn func(Event)) (func(), error)
	Close(ctx context.Context) error
}
