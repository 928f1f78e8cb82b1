package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	log  = logrus.New()
	file *os.File // log file opened by the last Init, if any
)

// Init initializes the logger with the given configuration
func Init(level, logFile string, console bool) error {
	if file != nil {
		file.Close()
		file = nil
	}
	log = logrus.New()

	// Set log level
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	// Colors only when a human is watching stderr and nothing is teed to a file
	colors := console && logFile == "" && term.IsTerminal(int(os.Stderr.Fd()))
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     colors,
		DisableColors:   !colors,
	})

	// Set output
	var writers []io.Writer

	if console {
		writers = append(writers, os.Stderr)
	}

	if logFile != "" {
		// Ensure directory exists
		dir := filepath.Dir(logFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}

		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		file = f
		writers = append(writers, f)
	}

	if len(writers) > 0 {
		log.SetOutput(io.MultiWriter(writers...))
	} else {
		log.SetOutput(io.Discard)
	}

	return nil
}

// Get returns the logger instance
func Get() *logrus.Logger {
	return log
}

// WithTensor returns an entry tagged with the tensor being processed.
func WithTensor(name string) *logrus.Entry {
	return log.WithField("tensor", name)
}
