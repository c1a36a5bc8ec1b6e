package cache

import (
	"context"
	"errors"
)

// ErrStoreUnavailable 表示缓存已关闭，未注入存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Writer 包装可选的 Store：缓存关闭时读取恒为未命中，写入返回 ErrStoreUnavailable，
// 调用方无需在每个分支判空。
type Writer struct {
	store Store
}

func NewWriter(store Store) Writer {
	return Writer{store: store}
}

// Enabled 返回当前是否具备缓存能力。
func (w Writer) Enabled() bool {
	return w.store != nil
}

func (w Writer) Get(ctx context.Context, key Key) (Blob, bool, error) {
	if w.store == nil {
		return Blob{}, false, nil
	}
	return w.store.Get(ctx, key)
}

func (w Writer) Put(ctx context.Context, key Key, data []byte) (Entry, error) {
	if w.store == nil {
		return Entry{}, ErrStoreUnavailable
	}
	return w.store.Put(ctx, key, data)
}

// Stats 在缓存关闭时返回 ok=false。
func (w Writer) Stats() (Stats, bool) {
	if w.store == nil {
		return Stats{}, false
	}
	return w.store.Stats(), true
}
