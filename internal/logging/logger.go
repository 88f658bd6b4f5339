package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger
var allocatorLogger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)

	// per-frame allocation decisions, quiet unless asked for
	allocatorLogger = logrus.New()
	allocatorLogger.SetOutput(os.Stdout)
	allocatorLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "allocator_msg",
		},
	})
	allocatorLogger.SetLevel(logrus.WarnLevel)
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetAllocatorLogger() *logrus.Logger {
	return allocatorLogger
}

// ForDisplay returns the allocator logger scoped to one display.
func ForDisplay(name string, index int) logrus.FieldLogger {
	return allocatorLogger.WithFields(logrus.Fields{
		"display":       name,
		"display_index": index,
	})
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetAllocatorLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	allocatorLogger.SetLevel(logLevel)
	return nil
}

func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
	allocatorLogger.SetFormatter(formatter)
}
