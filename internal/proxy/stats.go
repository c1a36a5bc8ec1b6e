package proxy

import (
	"fmt"
	"sync/atomic"
)

// Stats 记录进程级请求计数，所有方法并发安全。
type Stats struct {
	requests    atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	notModified atomic.Int64
}

// StatsSnapshot 是某一时刻的计数快照。
type StatsSnapshot struct {
	TotalRequests int64
	CacheHits     int64
	CacheMisses   int64
	NotModified   int64
}

// HitRate 返回命中率百分比，无访问时为 0。
func (s StatsSnapshot) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) * 100 / float64(total)
}

// HitRateLabel 以 "12.34%" 形式输出命中率。
func (s StatsSnapshot) HitRateLabel() string {
	return fmt.Sprintf("%.2f%%", s.HitRate())
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalRequests: s.requests.Load(),
		CacheHits:     s.hits.Load(),
		CacheMisses:   s.misses.Load(),
		NotModified:   s.notModified.Load(),
	}
}

func (s *Stats) recordLookup(hit bool) {
	if hit {
		s.hits.Add(1)
		return
	}
	s.misses.Add(1)
}
