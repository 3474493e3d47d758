package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the shared structured logger: JSON to stdout, level from
// LOG_LEVEL (info by default).
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
