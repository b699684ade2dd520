package bootstrap

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/analyses"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/fetch"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/llm"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/llm/gemini"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/config"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/server"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	AnalysesRepo    analyses.Repo
	AnalysesService *analyses.Service
	AnalysisHandler *analyses.Handler
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	if err := ensureTmpDir(cfg.TmpDir); err != nil {
		return nil, err
	}

	llmClient, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}

	repo := analyses.NewMemoryRepoWithRetention(cfg.AnalysisRetention)
	fetcher := fetch.New(cfg.TmpDir)

	analysisSvc := &analyses.Service{
		Repo:               repo,
		Fetcher:            fetcher,
		LLM:                llmClient,
		DefaultInstruction: cfg.DefaultInstruction,
		MaxConcurrent:      cfg.MaxConcurrentAnalyses,
	}

	app := &App{
		Config:          cfg,
		AnalysesRepo:    repo,
		AnalysesService: analysisSvc,
		AnalysisHandler: analyses.NewHandler(analysisSvc),
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		AnalysisHandler: app.AnalysisHandler,
	})

	return app, nil
}

// ensureTmpDir verifies the transient video directory exists and is writable
// before any analysis starts; failing later would fail every job instead.
func ensureTmpDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tmp dir %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, "probe-*")
	if err != nil {
		return fmt.Errorf("tmp dir %s not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: GEMINI_API_KEY empty; analyses will fail until a key is configured")
			return llm.PlaceholderClient{}, nil
		}
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	return gemini.NewClient(apiKey, cfg.GeminiModel)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
