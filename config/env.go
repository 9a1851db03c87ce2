package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvConfigFile = "FLASHLENDER_CONFIG"
	EnvDebug      = "FLASHLENDER_DEBUG"
	EnvLogDir     = "FLASHLENDER_LOG_DIR"
)

// LoadEnv loads environment variables from a .env file when there is one.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ConfigFile picks the scenario path: the flag value, then FLASHLENDER_CONFIG.
func ConfigFile(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvConfigFile)
}

// DebugEnabled reports whether FLASHLENDER_DEBUG is set to a true value.
func DebugEnabled() bool {
	debug, _ := strconv.ParseBool(os.Getenv(EnvDebug))
	return debug
}
