package main

import (
	"os"
	"strings"

	"github.com/op/go-logging"
)

var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{module} %{level:.4s} ▶ %{message}%{color:reset}`,
)

// setupLogging sends every module's log output to stderr. NBFXVIEW_LOG_LEVEL
// overrides defaultLevel.
func setupLogging(defaultLevel logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, stderrFormat)
	leveled := logging.AddModuleLevel(formatted)

	level := defaultLevel
	if env := strings.TrimSpace(os.Getenv("NBFXVIEW_LOG_LEVEL")); env != "" {
		if l, err := logging.LogLevel(strings.ToUpper(env)); err == nil {
			level = l
		}
	}
	leveled.SetLevel(level, "")

	logging.SetBackend(leveled)
	return log
}

var log = logging.MustGetLogger("nbfxview")
