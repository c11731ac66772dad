package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks compiler activity. Writes counts artifact files
// committed to disk, which lets callers verify that an unchanged module
// produces no I/O on recompilation.
type BuildMetrics struct {
	TotalCompiles      int64
	SuccessfulCompiles int64
	FailedCompiles     int64
	Transforms         int64
	CacheHits          int64
	Writes             int64
	Propagations       int64
	AverageDuration    time.Duration
	TotalDuration      time.Duration
	mutex              sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordCompile records one module compile.
func (bm *BuildMetrics) RecordCompile(duration time.Duration, err error) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalCompiles++
	bm.TotalDuration += duration

	if err != nil {
		bm.FailedCompiles++
	} else {
		bm.SuccessfulCompiles++
	}

	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalCompiles)
}

// RecordTransform records a loader invocation.
func (bm *BuildMetrics) RecordTransform() {
	bm.mutex.Lock()
	bm.Transforms++
	bm.mutex.Unlock()
}

// RecordCacheHit records a transform skipped because the source hash matched.
func (bm *BuildMetrics) RecordCacheHit() {
	bm.mutex.Lock()
	bm.CacheHits++
	bm.mutex.Unlock()
}

// RecordWrite records one committed artifact file.
func (bm *BuildMetrics) RecordWrite() {
	bm.mutex.Lock()
	bm.Writes++
	bm.mutex.Unlock()
}

// RecordPropagation records a module rewritten by the invalidation cascade.
func (bm *BuildMetrics) RecordPropagation() {
	bm.mutex.Lock()
	bm.Propagations++
	bm.mutex.Unlock()
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()
	return BuildMetrics{
		TotalCompiles:      bm.TotalCompiles,
		SuccessfulCompiles: bm.SuccessfulCompiles,
		FailedCompiles:     bm.FailedCompiles,
		Transforms:         bm.Transforms,
		CacheHits:          bm.CacheHits,
		Writes:             bm.Writes,
		Propagations:       bm.Propagations,
		AverageDuration:    bm.AverageDuration,
		TotalDuration:      bm.TotalDuration,
	}
}

// Reset resets all metrics
func (bm *BuildMetrics) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalCompiles = 0
	bm.SuccessfulCompiles = 0
	bm.FailedCompiles = 0
	bm.Transforms = 0
	bm.CacheHits = 0
	bm.Writes = 0
	bm.Propagations = 0
	bm.AverageDuration = 0
	bm.TotalDuration = 0
}

// GetCacheHitRate returns the share of compiles that skipped the
// transform, as a percentage.
func (bm *BuildMetrics) GetCacheHitRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	total := bm.CacheHits + bm.Transforms
	if total == 0 {
		return 0.0
	}

	return float64(bm.CacheHits) / float64(total) * 100.0
}

// GetSuccessRate returns the success rate as a percentage
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.TotalCompiles == 0 {
		return 0.0
	}

	return float64(bm.SuccessfulCompiles) / float64(bm.TotalCompiles) * 100.0
}
