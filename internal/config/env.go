package config

import (
	"os"
	"strings"
)

// EnvBool reads a boolean-like environment variable. It accepts the usual
// spellings in either case (1/true/yes/on/y, 0/false/no/off/n); an unset
// variable or anything else yields fallback.
func EnvBool(name string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on", "y":
		return true
	case "0", "false", "no", "off", "n":
		return false
	default:
		return fallback
	}
}
