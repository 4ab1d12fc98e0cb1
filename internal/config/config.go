package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string
	LogPath  string

	// AuthPort is the fixed local port the OAuth redirect listener binds.
	AuthPort string

	TokenPath string
	PrefsPath string

	StreamClientID     string
	StreamClientSecret string
	PollClientID       string
	PollClientSecret   string
}

func LoadConfig() (*Config, error) {
	// Best effort: a missing .env just means plain environment variables.
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		Env:      GetEnv("ENV", "development"),
		LogLevel: GetEnv("LOG_LEVEL", "info"),
		LogPath:  GetEnv("LOG_PATH", filepath.Join(home, ".crosstalk.log")),

		AuthPort: GetEnv("AUTH_PORT", "8090"),

		TokenPath: GetEnv("TOKEN_PATH", filepath.Join(home, ".crosstalk-tokens")),
		PrefsPath: GetEnv("PREFS_PATH", filepath.Join(home, ".crosstalk-prefs.yaml")),

		StreamClientID:     GetEnv("STREAM_CLIENT_ID", ""),
		StreamClientSecret: GetEnv("STREAM_CLIENT_SECRET", ""),
		PollClientID:       GetEnv("POLL_CLIENT_ID", ""),
		PollClientSecret:   GetEnv("POLL_CLIENT_SECRET", ""),
	}, nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
