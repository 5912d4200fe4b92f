package ogm

import (
	"io"
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler
// and configures the log level based on the OGM_LOG_LEVEL environment variable.
// It defaults to Info level if not specified.
//
// Applications call this at startup if they want the default OGM logging configuration;
// dialects log through slog's default logger either way.
func ConfigureLogging() {
	ConfigureLoggingTo(os.Stdout)
}

// ConfigureLoggingTo is ConfigureLogging writing to w, e.g. os.Stderr for tools printing data on stdout.
func ConfigureLoggingTo(w io.Writer) {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("OGM_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel sets the logging level for the logger configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
