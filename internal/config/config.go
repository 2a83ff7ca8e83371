package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	GeminiAPIKey     string
	DatabaseURL      string
	HTTPPort         string
	LogLevel         string
	JWTSecret        string
	CorpusPath       string
	DefaultModel     string
	SignupGrantCents int64

	// CredentialKeys holds the versioned sealing keys for stored personal
	// credentials, e.g. "2:base64key,1:oldbase64key". The highest version
	// is the current one; older versions stay readable for re-sealing.
	CredentialKeys string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Info().Msg("no .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:      getEnv("DATABASE_URL", "supportchat.db"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		CorpusPath:       getEnv("CORPUS_PATH", "corpus.jsonl"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "gemini-1.5-flash-latest"),
		SignupGrantCents: int64(getEnvAsInt("SIGNUP_GRANT_CENTS", 500)),
		CredentialKeys:   getEnv("CREDENTIAL_KEYS", ""),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
