package routes

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/proxy"
)

// StatsSource 提供请求计数与缓存状态，proxy.Handler 即为实现。
type StatsSource interface {
	Stats() proxy.StatsSnapshot
	CacheStats() (cache.Stats, bool)
}

// hostSampler 读取主机指标，测试中可替换。
type hostSampler struct {
	cpuPercent func() (float64, bool)
	diskFree   func(dir string) (uint64, bool)
}

var defaultSampler = hostSampler{
	cpuPercent: func() (float64, bool) {
		percent, err := cpu.Percent(0, false)
		if err != nil || len(percent) == 0 {
			return 0, false
		}
		return math.Round(percent[0]*100) / 100, true
	},
	diskFree: func(dir string) (uint64, bool) {
		usage, err := disk.Usage(dir)
		if err != nil {
			return 0, false
		}
		return usage.Free, true
	},
}

// RegisterStatsRoutes 暴露 /-/stats 诊断接口，输出命中率、缓存目录占用与主机指标。
func RegisterStatsRoutes(app *fiber.App, source StatsSource) {
	registerStatsRoutes(app, source, defaultSampler, time.Now())
}

func registerStatsRoutes(app *fiber.App, source StatsSource, sampler hostSampler, started time.Time) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-cache")
		return c.JSON(buildStats(source, sampler, started))
	})
}

func buildStats(source StatsSource, sampler hostSampler, started time.Time) fiber.Map {
	snapshot := source.Stats()
	payload := fiber.Map{
		"total_requests":   snapshot.TotalRequests,
		"cache_hits":       snapshot.CacheHits,
		"cache_misses":     snapshot.CacheMisses,
		"cache_hit_rate":   snapshot.HitRateLabel(),
		"304_not_modified": snapshot.NotModified,
		"uptime_seconds":   int64(time.Since(started).Seconds()),
		"memory_bytes":     memoryInUse(),
	}

	if cpuPercent, ok := sampler.cpuPercent(); ok {
		payload["cpu_percent"] = cpuPercent
	}

	cacheStats, enabled := source.CacheStats()
	payload["cache_enabled"] = enabled
	if !enabled {
		return payload
	}
	payload["cache_dir"] = cacheStats.Dir
	payload["cache_files"] = cacheStats.Entries
	payload["cache_size_bytes"] = cacheStats.TotalBytes
	payload["cache_size_mb"] = fmt.Sprintf("%.2f", float64(cacheStats.TotalBytes)/(1024*1024))
	payload["cache_max_bytes"] = cacheStats.MaxBytes
	if free, ok := sampler.diskFree(cacheStats.Dir); ok {
		payload["disk_free_bytes"] = free
	}
	return payload
}

func memoryInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}
