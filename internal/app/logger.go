package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/tandem/pkg/logger"
)

// ConfigureLogging installs the global logger for the server. Every entry carries the service
// name so shipped logs from the API and its maintenance jobs can be told apart from other
// club services.
func (s ServerConfig) ConfigureLogging() error {
	level := strings.TrimSpace(s.LogLevel)
	if level == "" {
		level = "info"
	}

	opts := logger.Options{InitialFields: map[string]any{"service": "tandem"}}
	switch strings.ToLower(strings.TrimSpace(s.LogFormat)) {
	case "", "json":
	case "console":
		opts.Development = true
	default:
		return fmt.Errorf("config: server.log_format %q must be json or console", s.LogFormat)
	}
	return logger.InitWithOptions(level, opts)
}
