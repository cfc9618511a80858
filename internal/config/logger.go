package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the root logger from the [app] settings
func (c *Config) NewLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.App.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	entry := logrus.NewEntry(logger).WithField("app", "certagent")
	if err != nil {
		entry.WithField("log_level", c.App.LogLevel).Warn("[Config] Unknown log level, using info")
	}
	return entry
}
