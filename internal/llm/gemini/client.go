package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/llm"
)

// apiBaseURL is a var so tests can point the client at a local server.
var apiBaseURL = "https://generativelanguage.googleapis.com"

const (
	fileStateActive = "ACTIVE"
	fileStateFailed = "FAILED"
)

// Client implements llm.Client using the Gemini Files and generateContent APIs.
type Client struct {
	apiKey       string
	model        string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// NewClient constructs a new Gemini client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required for Gemini")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	// Video uploads are large; the default request timeout is generous.
	timeout := time.Duration(envPositiveInt("GEMINI_TIMEOUT_SECONDS", 600)) * time.Second
	pollInterval := time.Duration(envPositiveInt("GEMINI_POLL_SECONDS", 10)) * time.Second
	maxPolls := envPositiveInt("GEMINI_POLL_ATTEMPTS", 60)
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
	}, nil
}

func envPositiveInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type fileInfo struct {
	Name     string    `json:"name"`
	URI      string    `json:"uri"`
	MimeType string    `json:"mimeType"`
	State    string    `json:"state"`
	Error    *apiError `json:"error,omitempty"`
}

type uploadResponse struct {
	File  fileInfo  `json:"file"`
	Error *apiError `json:"error,omitempty"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type generatePart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

// AnalyzeVideo uploads the local file, waits for Gemini to finish ingesting
// it, then asks the model to describe it.
func (c *Client) AnalyzeVideo(ctx context.Context, input llm.AnalyzeInput) (llm.AnalyzeResult, error) {
	uploadStart := time.Now()
	file, err := c.uploadFile(ctx, input)
	if err != nil {
		return llm.AnalyzeResult{}, &llm.SubmissionError{Op: "upload", Err: err}
	}
	if err := c.waitUntilActive(ctx, &file); err != nil {
		var timeoutErr *llm.TimeoutError
		if errors.As(err, &timeoutErr) {
			return llm.AnalyzeResult{}, err
		}
		return llm.AnalyzeResult{}, &llm.SubmissionError{Op: "poll", Err: err}
	}
	uploadTime := time.Since(uploadStart)

	analysisStart := time.Now()
	text, err := c.generateText(ctx, file, input.Instruction)
	if err != nil {
		return llm.AnalyzeResult{}, &llm.SubmissionError{Op: "generate", Err: err}
	}
	return llm.AnalyzeResult{
		Text:         text,
		UploadTime:   uploadTime,
		AnalysisTime: time.Since(analysisStart),
	}, nil
}

func (c *Client) uploadFile(ctx context.Context, input llm.AnalyzeInput) (fileInfo, error) {
	src, err := os.Open(input.FilePath)
	if err != nil {
		return fileInfo{}, fmt.Errorf("open video file: %w", err)
	}
	defer src.Close()
	stat, err := src.Stat()
	if err != nil {
		return fileInfo{}, fmt.Errorf("stat video file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/upload/v1beta/files", src)
	if err != nil {
		return fileInfo{}, err
	}
	req.ContentLength = stat.Size()
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("Content-Type", input.MimeType)

	body, err := c.do(req)
	if err != nil {
		return fileInfo{}, err
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fileInfo{}, fmt.Errorf("gemini response parse: %w", err)
	}
	if parsed.Error != nil {
		return fileInfo{}, fmt.Errorf("gemini error: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	if parsed.File.Name == "" {
		return fileInfo{}, fmt.Errorf("gemini upload response missing file name")
	}
	if parsed.File.MimeType == "" {
		parsed.File.MimeType = input.MimeType
	}
	return parsed.File, nil
}

// waitUntilActive polls the uploaded file until Gemini reports it ACTIVE.
// Large videos stay in PROCESSING for a while after upload.
func (c *Client) waitUntilActive(ctx context.Context, file *fileInfo) error {
	if file.State == fileStateActive {
		return nil
	}
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}

		current, err := c.getFile(ctx, file.Name)
		if err != nil {
			return err
		}
		switch current.State {
		case fileStateActive:
			if current.URI != "" {
				file.URI = current.URI
			}
			if current.MimeType != "" {
				file.MimeType = current.MimeType
			}
			return nil
		case fileStateFailed:
			if current.Error != nil {
				return fmt.Errorf("gemini file processing failed: %s (%s)", current.Error.Message, current.Error.Status)
			}
			return fmt.Errorf("gemini file processing failed")
		}
	}
	return &llm.TimeoutError{Attempts: c.maxPolls, Interval: c.pollInterval}
}

func (c *Client) getFile(ctx context.Context, name string) (fileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBaseURL+"/v1beta/"+name, nil)
	if err != nil {
		return fileInfo{}, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return fileInfo{}, err
	}

	var parsed fileInfo
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fileInfo{}, fmt.Errorf("gemini response parse: %w", err)
	}
	return parsed, nil
}

func (c *Client) generateText(ctx context.Context, file fileInfo, instruction string) (string, error) {
	reqBody := generateRequest{
		Contents: []generateContent{
			{
				Parts: []generatePart{
					{FileData: &fileData{MimeType: file.MimeType, FileURI: file.URI}},
					{Text: instruction},
				},
			},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/v1beta/models/"+c.model+":generateContent", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("gemini response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini error: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("gemini response missing candidates")
	}

	var b strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("gemini response empty text")
	}
	return text, nil
}

// do executes the request and returns the response body. API errors arrive
// as a JSON envelope, so non-200 statuses are left for callers to surface.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, fmt.Errorf("gemini request timeout: %w", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

var _ llm.Client = (*Client)(nil)
