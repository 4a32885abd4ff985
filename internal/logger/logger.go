// Package logger builds the logrus logger shared by the dropwire
// binaries. Components receive it through their Config structs.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// envLevel overrides the default log level, e.g. DROPWIRE_LOG=debug.
const envLevel = "DROPWIRE_LOG"

func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	log.SetLevel(logrus.InfoLevel)
	if raw := os.Getenv(envLevel); raw != "" {
		if level, err := logrus.ParseLevel(raw); err == nil {
			log.SetLevel(level)
		} else {
			log.Warnf("invalid %s value %q, using info", envLevel, raw)
		}
	}

	return log
}
