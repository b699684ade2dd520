package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultInstruction = "Describe this video in detail. Summarize what happens, who or what appears, and any text visible on screen."

// Config holds application configuration.
type Config struct {
	Port                  string
	CORSAllowOrigin       []string
	TmpDir                string
	GeminiModel           string
	DefaultInstruction    string
	MaxConcurrentAnalyses int
	AnalysisRetention     time.Duration
	Env                   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	for _, path := range []string{".env", "cmd/.env"} {
		_ = godotenv.Load(path)
	}

	env := normalizeEnv(getEnv("ENV", "dev"))

	if env == "production" && strings.TrimSpace(os.Getenv("GEMINI_API_KEY")) == "" {
		log.Printf("GEMINI_API_KEY is required in production")
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		CORSAllowOrigin:       splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		TmpDir:                getEnv("TMP_DIR", os.TempDir()),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		DefaultInstruction:    getEnv("DEFAULT_INSTRUCTION", defaultInstruction),
		MaxConcurrentAnalyses: getEnvInt("MAX_CONCURRENT_ANALYSES", 4),
		AnalysisRetention:     getEnvDuration("ANALYSIS_RETENTION", time.Hour),
		Env:                   env,
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}
