package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every variable the service reads.
const EnvPrefix = "ESTATE_"

// EnvKey returns the full variable name for name, adding EnvPrefix when it is
// missing: EnvKey("HTTP_ADDR") and EnvKey("ESTATE_HTTP_ADDR") are the same.
func EnvKey(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if strings.HasPrefix(name, EnvPrefix) {
		return name
	}
	return EnvPrefix + name
}

// envValue is the trimmed value of the prefixed variable, "" when unset.
func envValue(name string) string {
	return strings.TrimSpace(os.Getenv(EnvKey(name)))
}

// EnvString reads a string setting with a default.
func EnvString(name, def string) string {
	if v := envValue(name); v != "" {
		return v
	}
	return def
}

// EnvBool reads a bool setting with a default. Unparseable values fall back
// to def.
func EnvBool(name string, def bool) bool {
	b, err := strconv.ParseBool(envValue(name))
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads a positive int setting with a default.
func EnvInt(name string, def int) int {
	n, err := strconv.Atoi(envValue(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvInt32 reads a non-negative int32 setting (pool sizes) with a default.
func EnvInt32(name string, def int32) int32 {
	n, err := strconv.ParseInt(envValue(name), 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// EnvDuration reads a positive duration setting with a default.
func EnvDuration(name string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(envValue(name))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
