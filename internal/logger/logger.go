package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"github.com/user/markhub/internal/config"
)

const timeFormat = "15:04:05"

// New builds the arbor logger described by cfg. Output is "console", "file"
// or a comma separated combination; file logs go under logDir.
func New(cfg config.LoggingConfig, logDir string) arbor.ILogger {
	log := arbor.NewLogger()

	hasFile, hasConsole := false, false
	for _, output := range strings.Split(cfg.Output, ",") {
		switch strings.TrimSpace(output) {
		case "file":
			hasFile = true
		case "console", "stdout":
			hasConsole = true
		case "both":
			hasFile, hasConsole = true, true
		}
	}
	if !hasFile && !hasConsole {
		hasConsole = true
	}

	if hasFile {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
			hasConsole = true
		} else {
			log = log.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(logDir, "markhub.log"),
				TimeFormat: timeFormat,
				MaxSize:    10 * 1024 * 1024,
				MaxBackups: 3,
				TextOutput: true,
			})
		}
	}

	if hasConsole {
		log = log.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: timeFormat,
			TextOutput: true,
		})
	}

	return log.WithLevelFromString(nonEmpty(cfg.Level, "info"))
}

// ForDashboard logs to file only so log lines do not tear the TUI.
func ForDashboard(cfg config.LoggingConfig, logDir string) arbor.ILogger {
	cfg.Output = "file"
	return New(cfg, logDir)
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
