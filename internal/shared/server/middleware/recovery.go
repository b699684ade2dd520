package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/server/respond"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/telemetry"
)

// Stack traces in log lines are capped so a deep panic cannot flood stdout.
const maxStackBytes = 8 << 10

// Recovery converts a handler panic into a standardized 500 response. The
// background pipeline carries its own recover guard; this one covers the
// request path.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			stack := debug.Stack()
			if len(stack) > maxStackBytes {
				stack = stack[:maxStackBytes]
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      rec,
				"stack":      string(stack),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
			}
			if analysisID := c.GetString("analysisId"); analysisID != "" {
				fields["analysis_id"] = analysisID
			}
			telemetry.Error("panic", fields)
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
