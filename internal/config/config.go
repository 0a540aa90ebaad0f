package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	DatabaseURL   string
	JWTSecret     string
	AdminPassword string

	BindAddress  string
	SplitterBin  string
	MonitorBin   string
	WorkerLogDir string
	SettleDelay  time.Duration

	StandaloneEngine    bool
	EnginePort          string
	EngineKeyFile       string
	EngineResultTimeout time.Duration

	LogLevel    string
	LogPath     string
	LogPretty   bool
	LogDiodeBuf int
}

func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "3000"),
		DatabaseURL:   getEnv("DATABASE_URL", "sqlite://p2psp_rest_server.db"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		BindAddress:  getEnv("BIND_ADDRESS", "127.0.0.1"),
		SplitterBin:  getEnv("SPLITTER_BIN", "."),
		MonitorBin:   getEnv("MONITOR_BIN", "."),
		WorkerLogDir: getEnv("WORKER_LOG_DIR", os.TempDir()),
		SettleDelay:  time.Duration(getEnvInt("WORKER_SETTLE_MS", 50)) * time.Millisecond,

		StandaloneEngine:    getEnvBool("STANDALONE_ENGINE", false),
		EnginePort:          getEnv("ENGINE_PORT", "8000"),
		EngineKeyFile:       getEnv("ENGINE_KEY_FILE", "crossroads.key"),
		EngineResultTimeout: time.Duration(getEnvInt("ENGINE_RESULT_TIMEOUT", 30)) * time.Second,

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPath:     getEnv("LOG_PATH", "stderr"),
		LogPretty:   getEnvBool("LOG_PRETTY", false),
		LogDiodeBuf: getEnvInt("LOG_DIODE_BUF", 0),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
