package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/analyses"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/fetch"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/llm"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/llm/gemini"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/config"
)

// analyze runs a single video analysis inline, without the API server. Useful
// for trying out instructions against a clip before wiring up a client.
func main() {
	cfg := config.Load()

	sourceURL := flag.String("url", "", "Video URL to analyze")
	instruction := flag.String("instruction", "", "Analysis instruction (defaults to the configured instruction)")
	provider := flag.String("provider", "gemini", "LLM provider")
	model := flag.String("model", cfg.GeminiModel, "LLM model")
	outPath := flag.String("out", "", "Path to write the JSON result (optional)")
	flag.Parse()

	if strings.TrimSpace(*sourceURL) == "" {
		exitErr("url is required")
	}

	client, err := buildClient(*provider, *model)
	if err != nil {
		exitErr(err.Error())
	}

	svc := &analyses.Service{
		Fetcher:            fetch.New(cfg.TmpDir),
		LLM:                client,
		DefaultInstruction: cfg.DefaultInstruction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, timing, err := svc.AnalyzeSync(ctx, *sourceURL, *instruction)
	if err != nil {
		exitErr(fmt.Sprintf("analyze: %v", err))
	}

	pretty, err := json.MarshalIndent(map[string]any{
		"result": result,
		"timing": timing,
	}, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}

	_, _ = os.Stdout.Write(pretty)
	_, _ = os.Stdout.Write([]byte("\n"))
}

func buildClient(provider, model string) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "gemini":
		return gemini.NewClient(os.Getenv("GEMINI_API_KEY"), model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
