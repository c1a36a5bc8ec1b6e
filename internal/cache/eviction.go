package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// blobRemover 由 diskStore 实现：按文件名加锁并删除正文。
type blobRemover interface {
	lockEntry(name string) func()
	deleteBlob(name string) error
}

// EvictorOptions 描述淘汰阈值与后台周期。
type EvictorOptions struct {
	MaxBytes int64
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *logrus.Logger
	Now      func() time.Time

	// BeforeSweep 在每轮 Sweep 之前执行，diskStore 用它以目录校正索引。
	BeforeSweep func(context.Context)
}

// Evictor 负责两类淘汰：MaxAge 之前未被访问的条目过期删除；
// 总量超过 MaxBytes 时按最近访问时间从旧到新删除，直至回到预算内。
// 每轮基于快照执行，一次只持有一个条目的锁，并在锁内复查条目。
// 写入触发的容量淘汰可与后台 Sweep 并行执行。
type Evictor struct {
	index   *Index
	remover blobRemover
	opts    EvictorOptions

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

func newEvictor(index *Index, remover blobRemover, opts EvictorOptions) *Evictor {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evictor{
		index:   index,
		remover: remover,
		opts:    opts,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start 启动周期淘汰协程；Interval <= 0 时不启动。重复调用无副作用。
func (e *Evictor) Start() {
	if e.opts.Interval <= 0 {
		return
	}
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.loop()
	})
}

// Stop 通知协程退出并等待其结束，可重复调用。
func (e *Evictor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	if e.started.Load() {
		<-e.done
	}
}

func (e *Evictor) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Sweep(context.Background())
		case <-e.stop:
			return
		}
	}
}

// Sweep 依次执行过期清理与容量淘汰。
func (e *Evictor) Sweep(ctx context.Context) SweepReport {
	if e.opts.BeforeSweep != nil {
		e.opts.BeforeSweep(ctx)
	}
	report := e.ExpireStale(ctx).merge(e.ReduceToBudget(ctx))
	if !report.empty() {
		e.opts.Logger.WithFields(logrus.Fields{
			"action":      "cache_sweep",
			"expired":     report.Expired,
			"evicted":     report.Evicted,
			"freed_bytes": report.FreedBytes,
			"failures":    report.Failures,
			"total_bytes": e.index.Total(),
		}).Info("cache_sweep_complete")
	}
	return report
}

// ExpireStale 删除最近访问早于 now-MaxAge 的条目。
func (e *Evictor) ExpireStale(ctx context.Context) SweepReport {
	var report SweepReport
	if e.opts.MaxAge <= 0 {
		return report
	}

	cutoff := e.opts.Now().Add(-e.opts.MaxAge)
	for _, candidate := range e.index.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		// 快照按访问时间升序，遇到未过期条目即可停止。
		if !candidate.LastAccess.Before(cutoff) {
			break
		}
		if e.evictIf(candidate.Name, func(current Entry) bool {
			return current.LastAccess.Before(cutoff)
		}, &report) {
			report.Expired++
		}
	}
	return report
}

// ReduceToBudget 在总量超过 MaxBytes 时按 LRU 顺序删除条目。
func (e *Evictor) ReduceToBudget(ctx context.Context) SweepReport {
	var report SweepReport
	if e.opts.MaxBytes <= 0 || e.index.Total() <= e.opts.MaxBytes {
		return report
	}

	for _, candidate := range e.index.Snapshot() {
		if ctx.Err() != nil || e.index.Total() <= e.opts.MaxBytes {
			break
		}
		if e.evictIf(candidate.Name, func(current Entry) bool {
			return !current.LastAccess.After(candidate.LastAccess)
		}, &report) {
			report.Evicted++
		}
	}
	return report
}

// evictIf 持有条目锁复查 stillEligible，成立则移除索引并删除文件。
// 文件删除失败只记录日志，索引条目照常移除。
func (e *Evictor) evictIf(name string, stillEligible func(Entry) bool, report *SweepReport) bool {
	unlock := e.remover.lockEntry(name)
	defer unlock()

	current, ok := e.index.Lookup(name)
	if !ok || !stillEligible(current) {
		return false
	}

	e.index.Remove(name)
	report.FreedBytes += current.SizeBytes
	if err := e.remover.deleteBlob(name); err != nil {
		report.Failures++
		e.opts.Logger.WithError(err).WithFields(logrus.Fields{
			"name": name,
			"size": current.SizeBytes,
		}).Warn("cache_evict_delete_failed")
	}
	return true
}
