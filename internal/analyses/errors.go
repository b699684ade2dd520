package analyses

import "errors"

var ErrNotFound = errors.New("not found")

const (
	ErrorCodeFetch           = "FETCH_ERROR"
	ErrorCodeUpload          = "UPLOAD_ERROR"
	ErrorCodeAnalysisTimeout = "ANALYSIS_TIMEOUT"
	ErrorCodeAnalysis        = "ANALYSIS_ERROR"
	ErrorCodeInternal        = "INTERNAL_ERROR"
)
