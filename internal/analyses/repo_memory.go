package analyses

import (
	"context"
	"sync"
	"time"
)

const defaultRetention = time.Hour

// MemoryRepo stores analyses in memory and is safe for concurrent use.
// Entries expire after the configured retention.
type MemoryRepo struct {
	mu        sync.RWMutex
	byID      map[string]Analysis
	retention time.Duration
}

// NewMemoryRepo constructs a MemoryRepo with the default one hour retention.
func NewMemoryRepo() *MemoryRepo {
	return NewMemoryRepoWithRetention(defaultRetention)
}

// NewMemoryRepoWithRetention constructs a MemoryRepo whose entries expire
// after the given duration.
func NewMemoryRepoWithRetention(retention time.Duration) *MemoryRepo {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &MemoryRepo{
		byID:      make(map[string]Analysis),
		retention: retention,
	}
}

// Create stores the analysis and schedules its expiry. The expiry clock
// starts at creation; later status updates do not extend it.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[analysis.ID] = analysis
	time.AfterFunc(r.retention, func() { r.purge(analysis.ID) })
	return nil
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// MarkProcessing transitions the analysis to processing.
func (r *MemoryRepo) MarkProcessing(ctx context.Context, analysisID string) error {
	return r.update(ctx, analysisID, func(a *Analysis) {
		a.Status = StatusProcessing
	})
}

// MarkCompleted stores the analysis text and phase timings.
func (r *MemoryRepo) MarkCompleted(ctx context.Context, analysisID, result string, timing Timing) error {
	return r.update(ctx, analysisID, func(a *Analysis) {
		a.Status = StatusCompleted
		a.Result = result
		t := timing
		a.Timing = &t
		a.ErrorCode = nil
		a.ErrorMessage = nil
	})
}

// MarkFailed records the failure code and message.
func (r *MemoryRepo) MarkFailed(ctx context.Context, analysisID, code, message string) error {
	return r.update(ctx, analysisID, func(a *Analysis) {
		a.Status = StatusFailed
		a.ErrorCode = &code
		a.ErrorMessage = &message
	})
}

func (r *MemoryRepo) update(ctx context.Context, analysisID string, mutate func(*Analysis)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	mutate(&analysis)
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return nil
}

func (r *MemoryRepo) purge(analysisID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, analysisID)
}
