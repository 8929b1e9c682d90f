// Package log builds the process-wide logger, adapted from the teacher's
// pkg/log: a JSON-formatted logrus.Entry carrying version/commit fields,
// split between a development and a production logger.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// BuildInfo is the set of fields stamped onto every log line, mirroring the
// teacher's Config.Version/Commit/BuildDate triple.
type BuildInfo struct {
	Version string
	Commit  string
	ModeID  string
}

// New returns a logger. debug (or DEBUG=TRUE) selects the development
// logger (level from LOG_LEVEL, stderr output); otherwise the production
// logger (info level, stdout) is used. Both use the JSON formatter.
func New(debug bool, info BuildInfo) *logrus.Entry {
	var l *logrus.Logger
	if debug || os.Getenv("DEBUG") == "TRUE" {
		l = newDevelopmentLogger()
	} else {
		l = newProductionLogger()
	}

	l.SetFormatter(&logrus.JSONFormatter{})

	return l.WithFields(logrus.Fields{
		"version": info.Version,
		"commit":  info.Commit,
		"mode_id": info.ModeID,
	})
}

func getLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(getLogLevel())
	l.SetOutput(os.Stderr)
	return l
}

func newProductionLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stdout)
	return l
}

// Discard returns a logger that writes nowhere, for tests — the teacher's
// NewDummyLog pattern.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return l.WithField("test", "true")
}
