package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. The level comes from the
// BANDLINK_LOG_LEVEL environment variable and defaults to info.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	log.SetLevel(logrus.InfoLevel)
	if raw := os.Getenv("BANDLINK_LOG_LEVEL"); raw != "" {
		if level, err := logrus.ParseLevel(raw); err == nil {
			log.SetLevel(level)
		}
	}
	return log
}
