package analyses

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/server/middleware"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/server/respond"
)

const maxInstructionLen = 2000

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc         *Service
	pollLimiter *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, pollLimiter: newPollLimiter(pollLimitWindow, nil)}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.startAnalysis)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.POST("/analyses/sync", h.analyzeSync)
}

type createAnalysisRequest struct {
	SourceURL   string `json:"sourceUrl" binding:"required"`
	Instruction string `json:"instruction"`
}

func (h *Handler) startAnalysis(c *gin.Context) {
	var req createAnalysisRequest
	if !bindCreateRequest(c, &req) {
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	analysis, err := h.Svc.Create(ctx, req.SourceURL, req.Instruction)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		return
	}
	c.Set("analysisId", analysis.ID)
	log.Printf("Starting analysis %s for %s", analysis.ID, analysis.SourceURL)

	respond.Accepted(c, gin.H{
		"id":        analysis.ID,
		"status":    analysis.Status,
		"createdAt": analysis.CreatedAt,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}
	c.Set("analysisId", analysisID)

	if !h.pollLimiter.Allow(c.ClientIP(), analysisID) {
		c.Header("Retry-After", strconv.Itoa(h.pollLimiter.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "polling_too_fast", "status is polled too frequently for this analysis", nil)
		return
	}

	analysis, err := h.Svc.Get(c.Request.Context(), analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}

	resp := gin.H{
		"id":        analysis.ID,
		"status":    analysis.Status,
		"sourceUrl": analysis.SourceURL,
		"createdAt": analysis.CreatedAt,
		"updatedAt": analysis.UpdatedAt,
	}
	if analysis.Status == StatusCompleted && analysis.Result != "" {
		resp["result"] = analysis.Result
	}
	if analysis.Timing != nil {
		resp["timing"] = analysis.Timing
	}
	if analysis.Status == StatusFailed && analysis.ErrorCode != nil {
		errBody := gin.H{"code": *analysis.ErrorCode}
		if analysis.ErrorMessage != nil {
			errBody["message"] = *analysis.ErrorMessage
		}
		resp["error"] = errBody
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) analyzeSync(c *gin.Context) {
	var req createAnalysisRequest
	if !bindCreateRequest(c, &req) {
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	result, timing, err := h.Svc.AnalyzeSync(ctx, req.SourceURL, req.Instruction)
	if err != nil {
		respond.Error(c, http.StatusBadGateway, "analysis_failed", sanitizeError(err), nil)
		return
	}

	respond.OK(c, gin.H{
		"result": result,
		"timing": timing,
	})
}

// bindCreateRequest decodes and validates the shared creation payload. It
// writes the error response itself and reports whether the request is usable.
func bindCreateRequest(c *gin.Context, req *createAnalysisRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sourceUrl is required", nil)
		return false
	}
	if !isHTTPURL(req.SourceURL) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sourceUrl must be an http or https URL", nil)
		return false
	}
	if utf8.RuneCountInString(req.Instruction) > maxInstructionLen {
		respond.Error(c, http.StatusBadRequest, "validation_error", "instruction must be at most 2000 characters", nil)
		return false
	}
	return true
}

func isHTTPURL(raw string) bool {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
