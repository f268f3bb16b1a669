package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads the .env file for the given mode. Mode-specific files
// (.env.development, .env.production) win over the plain .env.
func LoadEnv(mode string) error {
	candidates := []string{fmt.Sprintf(".env.%s", mode), ".env"}
	for _, name := range candidates {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		return godotenv.Load(name)
	}
	return fmt.Errorf("no .env file found")
}

// GetEnv returns the raw environment value, empty when unset.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetStringOrDefault returns the environment value or def when unset.
func GetStringOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// GetIntOrDefault parses the environment value as int, falling back to def.
func GetIntOrDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// GetBoolOrDefault parses the environment value as bool, falling back to def.
func GetBoolOrDefault(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// GetDurationOrDefault parses the environment value as a duration ("15s",
// "2m"), falling back to def.
func GetDurationOrDefault(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}
