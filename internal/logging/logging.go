package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the application logger. Output is JSON on stdout so log
// collectors can ingest it without a parsing stage.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
