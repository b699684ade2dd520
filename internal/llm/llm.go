package llm

import (
	"context"
	"errors"
	"time"
)

// Client abstracts LLM providers for video analysis.
type Client interface {
	AnalyzeVideo(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error)
}

// AnalyzeInput captures the inputs needed for video analysis.
type AnalyzeInput struct {
	FilePath    string
	MimeType    string
	Instruction string
}

// AnalyzeResult carries the generated analysis text and how long the
// provider spent in each phase.
type AnalyzeResult struct {
	Text         string
	UploadTime   time.Duration
	AnalysisTime time.Duration
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation used when no provider is configured.
type PlaceholderClient struct{}

// AnalyzeVideo returns ErrNotImplemented.
func (PlaceholderClient) AnalyzeVideo(ctx context.Context, input AnalyzeInput) (AnalyzeResult, error) {
	_ = ctx
	_ = input
	return AnalyzeResult{}, ErrNotImplemented
}
