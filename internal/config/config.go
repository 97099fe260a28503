package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults holds the env-var-driven baseline a CLI invocation falls
// back to when a flag isn't set explicitly. Load never fails when no
// .env is present — it's an optional override layer, not a required
// config file.
type Defaults struct {
	Connections   int
	SpeedLimit    int64 // bytes/second per chunk, 0 = unlimited
	TempDirectory string
	BufferSize    int
	Timeout       time.Duration
}

// Load reads a .env file in the working directory if present, then
// resolves each default from the environment, falling back to the
// given baseline values.
func Load(baseline Defaults) Defaults {
	_ = godotenv.Load() // optional; absence isn't an error

	return Defaults{
		Connections:   getEnvInt("DANZOENGINE_CONNECTIONS", baseline.Connections),
		SpeedLimit:    getEnvInt64("DANZOENGINE_SPEED_LIMIT", baseline.SpeedLimit),
		TempDirectory: getEnvString("DANZOENGINE_TEMP_DIR", baseline.TempDirectory),
		BufferSize:    getEnvInt("DANZOENGINE_BUFFER_SIZE", baseline.BufferSize),
		Timeout:       getEnvDuration("DANZOENGINE_TIMEOUT", baseline.Timeout),
	}
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
