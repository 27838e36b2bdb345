package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	InfoLogger  *logrus.Logger
	ErrorLogger *logrus.Logger
)

func init() {
	// Keep packages usable (and tests quiet-safe) before InitLogger runs.
	InitLogger("info", "text")
}

// InitLogger builds the two process loggers. format is "text" or "json".
func InitLogger(level, format string) {
	InfoLogger = logrus.New()
	ErrorLogger = logrus.New()

	// Set output untuk InfoLogger ke stdout, ErrorLogger ke stderr
	InfoLogger.SetOutput(os.Stdout)
	ErrorLogger.SetOutput(os.Stderr)

	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if format == "json" {
		formatter = &logrus.JSONFormatter{}
	}
	InfoLogger.SetFormatter(formatter)
	ErrorLogger.SetFormatter(formatter)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	InfoLogger.SetLevel(lvl)
	ErrorLogger.SetLevel(logrus.WarnLevel)
}
