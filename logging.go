package flowsniffer

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func parseLogLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return lvl, nil
}

// NewLogger opens the log file, truncating any previous session, and returns
// a logger writing timestamped text lines to it. The returned closer must be
// closed at shutdown.
func NewLogger(opts Options) (*logrus.Logger, io.Closer, error) {
	lvl, err := parseLogLevel(opts.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", opts.LogFile)
	}

	return newLogger(f, lvl), f, nil
}

func newLogger(w io.Writer, lvl logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		DisableColors:    true,
		QuoteEmptyFields: true,
	})
	return logger
}
