package analyses

import "time"

// Analysis represents a video analysis job.
type Analysis struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"sourceUrl"`
	Instruction  string    `json:"instruction,omitempty"`
	Status       string    `json:"status"`
	Result       string    `json:"result,omitempty"`
	ErrorCode    *string   `json:"errorCode,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	Timing       *Timing   `json:"timing,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Timing records how long each phase of a completed analysis took.
type Timing struct {
	FetchMs    float64 `json:"fetchMs"`
	UploadMs   float64 `json:"uploadMs"`
	AnalysisMs float64 `json:"analysisMs"`
	TotalMs    float64 `json:"totalMs"`
}
