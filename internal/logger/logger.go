// Package logger builds the shared logrus logger used across the client.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	log.SetLevel(logrus.InfoLevel)
	return log
}

// NewLoggerWithLevel parses level strings from config ("debug", "info", ...).
// Unknown levels fall back to info.
func NewLoggerWithLevel(level string) *logrus.Logger {
	log := NewLogger()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", level)
		return log
	}
	log.SetLevel(parsed)
	return log
}
