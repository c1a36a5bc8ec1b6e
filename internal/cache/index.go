package cache

import (
	"sort"
	"sync"
	"time"
)

// Index 是磁盘目录在内存中的镜像：name -> Entry，并维护 totalBytes == sum(SizeBytes)。
// 所有修改在锁内完成，修改后通过 onChange 通知持久化协程。
type Index struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	total    int64
	onChange func()
}

func newIndex(entries map[string]Entry) *Index {
	idx := &Index{entries: make(map[string]Entry, len(entries))}
	for name, entry := range entries {
		entry.Name = name
		idx.entries[name] = entry
		idx.total += entry.SizeBytes
	}
	return idx
}

func (x *Index) Lookup(name string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.entries[name]
	return entry, ok
}

// Upsert 写入或替换条目，按大小差值调整总量，返回新的总量。
func (x *Index) Upsert(entry Entry) int64 {
	x.mu.Lock()
	if prev, ok := x.entries[entry.Name]; ok {
		x.total -= prev.SizeBytes
	}
	entry.ModTime = time.Time{}
	x.entries[entry.Name] = entry
	x.total += entry.SizeBytes
	total := x.total
	x.mu.Unlock()

	x.changed()
	return total
}

// Touch 刷新访问时间；条目不存在时返回 false。
func (x *Index) Touch(name string, at time.Time) bool {
	x.mu.Lock()
	entry, ok := x.entries[name]
	if ok {
		entry.LastAccess = at
		x.entries[name] = entry
	}
	x.mu.Unlock()

	if ok {
		x.changed()
	}
	return ok
}

func (x *Index) Remove(name string) (Entry, bool) {
	x.mu.Lock()
	entry, ok := x.entries[name]
	if ok {
		delete(x.entries, name)
		x.total -= entry.SizeBytes
	}
	x.mu.Unlock()

	if ok {
		x.changed()
	}
	return entry, ok
}

func (x *Index) Total() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.total
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Snapshot 按最近访问时间升序返回全部条目，时间相同时按名称排序。
func (x *Index) Snapshot() []Entry {
	x.mu.RLock()
	out := make([]Entry, 0, len(x.entries))
	for _, entry := range x.entries {
		out = append(out, entry)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccess.Equal(out[j].LastAccess) {
			return out[i].Name < out[j].Name
		}
		return out[i].LastAccess.Before(out[j].LastAccess)
	})
	return out
}

func (x *Index) record() indexRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec := indexRecord{
		TotalSizeBytes: x.total,
		Entries:        make(map[string]recordEntry, len(x.entries)),
	}
	for name, entry := range x.entries {
		rec.Entries[name] = recordEntry{
			SizeBytes:            entry.SizeBytes,
			LastAccessedAtMillis: entry.LastAccess.UnixMilli(),
		}
	}
	return rec
}

func (x *Index) changed() {
	if x.onChange != nil {
		x.onChange()
	}
}
