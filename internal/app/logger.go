package app

import (
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/sponsor/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info.
// service is attached to every entry so registry and relay logs can share a sink.
func ConfigureLogging(level, service string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}

	var opts logger.Options
	if service = strings.TrimSpace(service); service != "" {
		opts.Fields = []zap.Field{zap.String("service", service)}
	}
	return logger.Init(level, opts)
}
