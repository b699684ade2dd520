package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/fetch"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/llm"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/metrics"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/telemetry"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const defaultMaxConcurrent = 4

// Fetcher retrieves a remote video to local disk. The returned cleanup
// removes the downloaded file.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (fetch.Download, func() error, error)
}

// Service contains business logic for analyses.
type Service struct {
	Repo               Repo
	Fetcher            Fetcher
	LLM                llm.Client
	DefaultInstruction string
	MaxConcurrent      int

	semOnce sync.Once
	sem     chan struct{}
	wg      sync.WaitGroup
}

// Create registers a new analysis and kicks off asynchronous completion.
func (s *Service) Create(ctx context.Context, sourceURL, instruction string) (Analysis, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return Analysis{}, errors.New("sourceUrl is required")
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = s.DefaultInstruction
	}

	now := time.Now().UTC()
	analysis := Analysis{
		ID:          uuid.NewString(),
		SourceURL:   sourceURL,
		Instruction: instruction,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Repo.Create(ctx, analysis); err != nil {
		return Analysis{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.completeAsync(backgroundWithRequestID(ctx), analysis.ID)
	}()

	return analysis, nil
}

// AnalyzeSync runs the full pipeline inline and returns the analysis text.
func (s *Service) AnalyzeSync(ctx context.Context, sourceURL, instruction string) (string, Timing, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", Timing{}, errors.New("sourceUrl is required")
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = s.DefaultInstruction
	}
	if s.Fetcher == nil {
		return "", Timing{}, errors.New("missing fetcher")
	}
	if s.LLM == nil {
		return "", Timing{}, errors.New("missing llm client")
	}

	s.acquire()
	defer s.release()

	return s.runPipeline(ctx, sourceURL, instruction)
}

// Get returns an analysis by ID.
func (s *Service) Get(ctx context.Context, analysisID string) (Analysis, error) {
	if analysisID == "" {
		return Analysis{}, errors.New("analysisID is required")
	}
	return s.Repo.GetByID(ctx, analysisID)
}

// Shutdown waits up to timeout for in-flight analyses to finish. It reports
// whether everything drained in time.
func (s *Service) Shutdown(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Service) completeAsync(ctx context.Context, analysisID string) {
	defer func() {
		if r := recover(); r != nil {
			s.failAnalysis(ctx, analysisID, "", fmt.Errorf("panic: %v", r), nil)
		}
	}()

	// Analyses wait here while the concurrency cap is reached; they stay
	// visible as pending until a slot frees up.
	s.acquire()
	defer s.release()

	startedAt := time.Now().UTC()
	if err := s.Repo.MarkProcessing(ctx, analysisID); err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Warn("analysis.vanished", map[string]any{"analysis_id": analysisID})
			return
		}
		s.failAnalysis(ctx, analysisID, "", fmt.Errorf("set processing failed: %w", err), &startedAt)
		return
	}

	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		s.failAnalysis(ctx, analysisID, "", fmt.Errorf("analysis lookup: %w", err), &startedAt)
		return
	}
	metrics.IncAnalysisStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"analysis_id":       analysis.ID,
		"source_url":        analysis.SourceURL,
		"status":            StatusProcessing,
		"status_transition": "pending->processing",
	})
	if s.Fetcher == nil {
		s.failAnalysis(ctx, analysisID, analysis.SourceURL, errors.New("missing fetcher"), &startedAt)
		return
	}
	if s.LLM == nil {
		s.failAnalysis(ctx, analysisID, analysis.SourceURL, errors.New("missing llm client"), &startedAt)
		return
	}

	result, timing, err := s.runPipeline(ctx, analysis.SourceURL, analysis.Instruction)
	if err != nil {
		s.failAnalysis(ctx, analysisID, analysis.SourceURL, err, &startedAt)
		return
	}

	if err := s.Repo.MarkCompleted(ctx, analysisID, result, timing); err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Warn("analysis.vanished", map[string]any{"analysis_id": analysisID})
			return
		}
		s.failAnalysis(ctx, analysisID, analysis.SourceURL, fmt.Errorf("set analysis result failed: %w", err), &startedAt)
		return
	}
	completedAt := time.Now().UTC()
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(timing.TotalMs)
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"analysis_id":       analysisID,
		"source_url":        analysis.SourceURL,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_ms":       durationMs(&startedAt, &completedAt),
	})
}

// runPipeline fetches the video, hands it to the LLM, and always removes
// the downloaded file before returning.
func (s *Service) runPipeline(ctx context.Context, sourceURL, instruction string) (string, Timing, error) {
	totalStart := time.Now()

	fetchStart := time.Now()
	download, cleanup, err := s.Fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", Timing{}, fmt.Errorf("fetch video: %w", err)
	}
	fetchMs := msSince(fetchStart)
	metrics.ObserveFetchDurationMs(fetchMs)
	defer func() {
		if cleanupErr := cleanup(); cleanupErr != nil {
			telemetry.Warn("analysis.cleanup_failed", map[string]any{
				"path":  download.Path,
				"error": cleanupErr.Error(),
			})
		}
	}()

	result, err := s.LLM.AnalyzeVideo(ctx, llm.AnalyzeInput{
		FilePath:    download.Path,
		MimeType:    download.MimeType,
		Instruction: instruction,
	})
	if err != nil {
		return "", Timing{}, fmt.Errorf("analyze video: %w", err)
	}

	timing := Timing{
		FetchMs:    fetchMs,
		UploadMs:   ms(result.UploadTime),
		AnalysisMs: ms(result.AnalysisTime),
		TotalMs:    msSince(totalStart),
	}
	return result.Text, timing, nil
}

func (s *Service) failAnalysis(ctx context.Context, analysisID, sourceURL string, err error, startedAt *time.Time) {
	code := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.MarkFailed(context.Background(), analysisID, code, msg); updateErr != nil {
		if errors.Is(updateErr, ErrNotFound) {
			telemetry.Warn("analysis.vanished", map[string]any{"analysis_id": analysisID, "orig_error": msg})
			return
		}
		fmt.Printf("failAnalysis: update failed id=%s err=%v orig=%v\n", analysisID, updateErr, err)
	}
	metrics.IncAnalysisFailed()
	if startedAt != nil {
		metrics.ObserveAnalysisDurationMs(durationMs(startedAt, &completedAt))
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"analysis_id":       analysisID,
		"source_url":        sourceURL,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error_code":        code,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

// acquire blocks until an analysis slot is free.
func (s *Service) acquire() {
	s.semOnce.Do(func() {
		n := s.MaxConcurrent
		if n <= 0 {
			n = defaultMaxConcurrent
		}
		s.sem = make(chan struct{}, n)
	})
	s.sem <- struct{}{}
}

func (s *Service) release() {
	<-s.sem
}

func classifyFailure(err error) string {
	if err == nil {
		return ErrorCodeInternal
	}
	var retrievalErr *fetch.RetrievalError
	if errors.As(err, &retrievalErr) {
		return ErrorCodeFetch
	}
	var timeoutErr *llm.TimeoutError
	if errors.As(err, &timeoutErr) {
		return ErrorCodeAnalysisTimeout
	}
	var submissionErr *llm.SubmissionError
	if errors.As(err, &submissionErr) {
		if submissionErr.Op == "upload" {
			return ErrorCodeUpload
		}
		return ErrorCodeAnalysis
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeAnalysisTimeout
	}
	return ErrorCodeInternal
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func msSince(start time.Time) float64 {
	return ms(time.Since(start))
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}
