// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/constructa/listquery/internal/pkg/log"
)

// QueryStats aggregates the executions of one operation and strategy
type QueryStats struct {
	Operation     string        `json:"operation"`
	Strategy      string        `json:"strategy"`
	Executions    int64         `json:"executions"`
	Failures      int64         `json:"failures"`
	Candidates    int64         `json:"candidates"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// AverageDuration is the mean duration of all executions
func (s QueryStats) AverageDuration() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return time.Duration(int64(s.TotalDuration) / s.Executions)
}

// MetricsCollector handles query metrics collection and reporting.
// A nil collector ignores observations.
type MetricsCollector struct {
	slowThreshold time.Duration
	mu            sync.RWMutex
	stats         map[string]*QueryStats
}

// NewMetricsCollector creates a new metrics collector. Executions slower
// than slowThreshold are logged; zero disables the slow query log.
func NewMetricsCollector(slowThreshold time.Duration) *MetricsCollector {
	return &MetricsCollector{
		slowThreshold: slowThreshold,
		stats:         make(map[string]*QueryStats),
	}
}

// Observe records one execution
func (mc *MetricsCollector) Observe(ctx context.Context, operation, strategy string, candidates int, d time.Duration, err error) {
	if mc == nil {
		return
	}

	key := operation + "/" + strategy
	mc.mu.Lock()
	s, ok := mc.stats[key]
	if !ok {
		s = &QueryStats{Operation: operation, Strategy: strategy}
		mc.stats[key] = s
	}
	s.Executions++
	s.TotalDuration += d
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
	if err != nil {
		s.Failures++
	} else {
		s.Candidates += int64(candidates)
	}
	mc.mu.Unlock()

	if mc.slowThreshold > 0 && d >= mc.slowThreshold {
		log.WarnWithContext(ctx, "Slow %s (%s): %v, %d candidates", operation, strategy, d, candidates)
	}
}

// Snapshot returns a copy of all stats ordered by operation and strategy
func (mc *MetricsCollector) Snapshot() []QueryStats {
	if mc == nil {
		return nil
	}

	mc.mu.RLock()
	out := make([]QueryStats, 0, len(mc.stats))
	for _, s := range mc.stats {
		out = append(out, *s)
	}
	mc.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Operation != out[j].Operation {
			return out[i].Operation < out[j].Operation
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

// GetGlobalStats returns totals over every operation and strategy
func (mc *MetricsCollector) GetGlobalStats() map[string]interface{} {
	var total, failed int64
	var totalDur time.Duration
	for _, s := range mc.Snapshot() {
		total += s.Executions
		failed += s.Failures
		totalDur += s.TotalDuration
	}

	var avgDuration time.Duration
	successRate := 100.0
	if total > 0 {
		avgDuration = time.Duration(int64(totalDur) / total)
		successRate = float64(total-failed) / float64(total) * 100
	}

	return map[string]interface{}{
		"total_queries":    total,
		"failed_queries":   failed,
		"average_duration": avgDuration.String(),
		"success_rate":     successRate,
	}
}

// Reset clears all collected stats
func (mc *MetricsCollector) Reset() {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	mc.stats = make(map[string]*QueryStats)
	mc.mu.Unlock()
}
