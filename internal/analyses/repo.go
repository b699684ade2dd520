package analyses

import "context"

// Repo defines persistence operations for analyses.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	MarkProcessing(ctx context.Context, analysisID string) error
	MarkCompleted(ctx context.Context, analysisID, result string, timing Timing) error
	MarkFailed(ctx context.Context, analysisID, code, message string) error
}
