package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses the named variable and falls back when it is unset or malformed.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnv(key, defaultVal string) string {
	return lookup(key, defaultVal, func(s string) (string, error) { return s, nil })
}

func getEnvAsInt(key string, defaultVal int) int {
	return lookup(key, defaultVal, strconv.Atoi)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	return lookup(key, defaultVal, strconv.ParseBool)
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	return lookup(key, defaultVal, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	return lookup(key, defaultVal, time.ParseDuration)
}

func getEnvAsStringSlice(key string, defaults []string) []string {
	parts := strings.Split(getEnv(key, ""), ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}
