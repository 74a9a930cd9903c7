package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultInterval = 5 * time.Second

// IngestStats counts submitted and failed rows across put workers.
type IngestStats struct {
	mu                 sync.Mutex
	submitted          int
	failedRows         []int
	batches            int
	totalPutLatencySec float64
}

// IngestSnapshot is a point-in-time copy of IngestStats.
type IngestSnapshot struct {
	Submitted          int
	Failed             int
	Batches            int
	TotalPutLatencySec float64
}

// AvgPutLatency is the mean put latency per submitted row.
func (s IngestSnapshot) AvgPutLatency() time.Duration {
	if s.Submitted == 0 {
		return 0
	}
	return time.Duration(s.TotalPutLatencySec / float64(s.Submitted) * float64(time.Second))
}

// AddSubmitted records n rows written in one batch taking latency.
func (s *IngestStats) AddSubmitted(n int, latency time.Duration) {
	s.mu.Lock()
	s.submitted += n
	s.batches++
	s.totalPutLatencySec += latency.Seconds()
	s.mu.Unlock()
}

// AddFailed records rows the store rejected.
func (s *IngestStats) AddFailed(rows ...int) {
	s.mu.Lock()
	s.failedRows = append(s.failedRows, rows...)
	s.mu.Unlock()
}

func (s *IngestStats) Snapshot() IngestSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return IngestSnapshot{
		Submitted:          s.submitted,
		Failed:             len(s.failedRows),
		Batches:            s.batches,
		TotalPutLatencySec: s.totalPutLatencySec,
	}
}

// FailedRows returns the failed row indices in ascending order.
func (s *IngestStats) FailedRows() []int {
	s.mu.Lock()
	rows := append([]int(nil), s.failedRows...)
	s.mu.Unlock()
	sort.Ints(rows)
	return rows
}

// LookupStats counts point lookups across lookup workers.
type LookupStats struct {
	mu              sync.Mutex
	count           int
	misses          int
	totalLatencySec float64
}

// LookupSnapshot is a point-in-time copy of LookupStats.
type LookupSnapshot struct {
	Count           int
	Misses          int
	TotalLatencySec float64
}

func (s LookupSnapshot) AvgLatency() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return time.Duration(s.TotalLatencySec / float64(s.Count) * float64(time.Second))
}

// Add records one lookup; found is false when the record was not visible.
func (s *LookupStats) Add(found bool, latency time.Duration) {
	s.mu.Lock()
	s.count++
	if !found {
		s.misses++
	}
	s.totalLatencySec += latency.Seconds()
	s.mu.Unlock()
}

func (s *LookupStats) Snapshot() LookupSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LookupSnapshot{Count: s.count, Misses: s.misses, TotalLatencySec: s.totalLatencySec}
}

// Run logs ingest and lookup progress every interval until ctx is done.
// Either stats may be nil.
func Run(ctx context.Context, logger zerolog.Logger, ingest *IngestStats, lookups *LookupStats, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	var prevIngest IngestSnapshot
	var prevLookups LookupSnapshot
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ingest != nil {
			cur := ingest.Snapshot()
			logIngest(logger, prevIngest, cur, interval)
			prevIngest = cur
		}
		if lookups != nil {
			cur := lookups.Snapshot()
			logLookups(logger, prevLookups, cur)
			prevLookups = cur
		}
	}
}

func logIngest(logger zerolog.Logger, prev, cur IngestSnapshot, interval time.Duration) {
	delta := IngestSnapshot{
		Submitted:          cur.Submitted - prev.Submitted,
		Failed:             cur.Failed - prev.Failed,
		Batches:            cur.Batches - prev.Batches,
		TotalPutLatencySec: cur.TotalPutLatencySec - prev.TotalPutLatencySec,
	}
	logger.Info().
		Int("submitted", delta.Submitted).
		Int("failed", delta.Failed).
		Float64("rows_per_sec", float64(delta.Submitted)/interval.Seconds()).
		Dur("avg_put_latency", delta.AvgPutLatency()).
		Msg("ingest progress (this interval)")
	logger.Info().
		Int("submitted", cur.Submitted).
		Int("failed", cur.Failed).
		Int("batches", cur.Batches).
		Dur("avg_put_latency", cur.AvgPutLatency()).
		Msg("ingest progress (cumulative)")
}

func logLookups(logger zerolog.Logger, prev, cur LookupSnapshot) {
	delta := LookupSnapshot{
		Count:           cur.Count - prev.Count,
		Misses:          cur.Misses - prev.Misses,
		TotalLatencySec: cur.TotalLatencySec - prev.TotalLatencySec,
	}
	logger.Info().
		Int("lookups", delta.Count).
		Int("misses", delta.Misses).
		Dur("avg_latency", delta.AvgLatency()).
		Msg("lookup progress (this interval)")
	logger.Info().
		Int("lookups", cur.Count).
		Int("misses", cur.Misses).
		Dur("avg_latency", cur.AvgLatency()).
		Msg("lookup progress (cumulative)")
}
