// Package config loads the layered gateway configuration: process
// environment helpers plus the YAML hierarchy
// (global → platform defaults → source file) with ${ENV_VAR} expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// LoadEnvString returns the value of envKey, or defaultValue when unset.
func LoadEnvString(envKey, defaultValue string) string {
	if v, ok := os.LookupEnv(envKey); ok {
		return v
	}
	return defaultValue
}

// LoadEnvInt returns envKey parsed as an int, or defaultValue when unset
// or unparseable. A parse failure is reported through the returned
// warning so callers can log it without failing startup.
func LoadEnvInt(envKey string, defaultValue int) (int, string) {
	v, ok := os.LookupEnv(envKey)
	if !ok {
		return defaultValue, ""
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, fmt.Sprintf("%s=%q is not an integer, using default %d", envKey, v, defaultValue)
	}
	return n, ""
}

// LoadEnvDuration returns envKey parsed as a time.Duration, or
// defaultValue when unset or unparseable.
func LoadEnvDuration(envKey string, defaultValue time.Duration) (time.Duration, string) {
	v, ok := os.LookupEnv(envKey)
	if !ok {
		return defaultValue, ""
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue, fmt.Sprintf("%s=%q is not a duration, using default %s", envKey, v, defaultValue)
	}
	return d, ""
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv resolves ${VAR} placeholders against the process environment.
// Unset variables expand to the empty string.
func ExpandEnv(raw []byte) []byte {
	return envPlaceholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPlaceholder.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
