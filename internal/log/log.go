package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger configured from the environment. LOG_LEVEL
// accepts DEBUG, INFO and WARN; LOG_FORMAT=json switches to the JSON
// formatter. Callers own the instance; nothing here is shared.
func New() *logrus.Logger {
	logger := logrus.New()
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		logger.SetLevel(logrus.DebugLevel)
	case "WARN":
		logger.SetLevel(logrus.WarnLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return logger
}
