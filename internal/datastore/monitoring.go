package datastore

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
)

// DefaultMonitorInterval is how often a Monitor samples the target.
const DefaultMonitorInterval = 15 * time.Second

// lowDiskSpace is the free space below which a SQLite target logs a warning.
const lowDiskSpace uint64 = 1 << 30

// highDiskPercent is the volume use above which a SQLite target logs a warning.
const highDiskPercent = 95.0

// highMemoryPercent is the host memory use above which a warning is logged.
const highMemoryPercent = 90.0

type tabler interface {
	TableName() string
}

// Monitor samples connection pool statistics, table sizes, memory use and,
// for SQLite, free disk space while a migration runs.
type Monitor struct {
	manager  Manager
	metrics  *metrics.DatastoreMetrics
	log      logger.Logger
	interval time.Duration

	lastWaitCount int64
	warnedDisk    bool
	warnedMemory  bool
}

// NewMonitor creates a monitor. m may be nil, in which case only logging happens.
func NewMonitor(manager Manager, m *metrics.DatastoreMetrics, log logger.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		manager:  manager,
		metrics:  m,
		log:      log.Module("monitor"),
		interval: interval,
	}
}

// Start samples until the returned stop function is called. stop takes a
// final sample and waits for the sampling goroutine to exit.
func (mon *Monitor) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Go(func() {
		ticker := time.NewTicker(mon.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mon.Sample(ctx)
			case <-ctx.Done():
				return
			}
		}
	})

	return func() {
		cancel()
		wg.Wait()
		mon.Sample(context.Background())
	}
}

// Sample takes one sample. Failures are logged, never returned.
func (mon *Monitor) Sample(ctx context.Context) {
	db := mon.manager.DB()

	if sqlDB, err := db.DB(); err != nil {
		mon.log.Debug("connection pool unavailable", logger.Error(err))
	} else {
		stats := sqlDB.Stats()
		if mon.metrics != nil {
			mon.metrics.UpdateConnectionMetrics(stats)
		}
		if stats.WaitCount > mon.lastWaitCount {
			mon.log.Warn("connection pool experiencing waits",
				logger.Int64("wait_count", stats.WaitCount),
				logger.Duration("total_wait_duration", stats.WaitDuration),
				logger.Int("open_connections", stats.OpenConnections))
			mon.lastWaitCount = stats.WaitCount
		}
	}

	for _, model := range Models() {
		t, ok := model.(tabler)
		if !ok {
			continue
		}
		var n int64
		if err := db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			if ctx.Err() == nil {
				mon.log.Debug("failed to count table rows", logger.String("table", t.TableName()), logger.Error(err))
			}
			continue
		}
		if mon.metrics != nil {
			mon.metrics.SetTableRowCount(t.TableName(), n)
		}
	}

	if sqlite, ok := mon.manager.(*SQLiteManager); ok {
		mon.checkDiskSpace(sqlite)
	}
	mon.checkMemory(ctx)
}

func (mon *Monitor) checkMemory(ctx context.Context) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		mon.log.Debug("failed to read host memory", logger.Error(err))
		return
	}

	var rss uint64
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			rss = info.RSS
		}
	}
	if mon.metrics != nil {
		mon.metrics.SetMemoryUsage(rss, vm.Available)
	}

	if vm.UsedPercent >= highMemoryPercent && !mon.warnedMemory {
		mon.warnedMemory = true
		mon.log.Warn("host memory is nearly exhausted; consider a smaller page size",
			logger.Float64("used_percent", vm.UsedPercent),
			logger.Uint64("process_rss_bytes", rss))
	}
}

func (mon *Monitor) checkDiskSpace(m *SQLiteManager) {
	usage, err := m.DiskUsage()
	if err != nil {
		mon.log.Debug("failed to read target disk usage", logger.Error(err))
		return
	}
	if mon.metrics != nil {
		mon.metrics.SetTargetDisk(usage.Free, usage.Total)
	}
	low := usage.Free < lowDiskSpace || usage.UsedPercent() >= highDiskPercent
	if low && !mon.warnedDisk {
		mon.warnedDisk = true
		mon.log.Warn("target disk is running low on space",
			logger.String("path", m.Path()),
			logger.Uint64("free_bytes", usage.Free),
			logger.Float64("used_percent", usage.UsedPercent()))
	}
}
