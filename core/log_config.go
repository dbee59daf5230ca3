package core

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// init initializes the logging configuration for the application based on the CBIR_LOG environment variable.
func init() {
	SetLogLevel(os.Getenv("CBIR_LOG"))
}

// SetLogLevel sets the global logging level from a mode string:
// "off" or "0" disables logging, "full" or "debug" enables debug logging,
// "warn" and "error" raise the threshold, anything else means info.
func SetLogLevel(mode string) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "off", "0", "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case "full", "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
