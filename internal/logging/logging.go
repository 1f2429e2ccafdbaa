package logging

import (
	"io"
	"os"
	"strings"

	logger "github.com/apsdehal/go-logger"
)

const (
	AppName = "KWIKPESA"
	Format  = "%{time} [%{module}] [%{level}] %{message}"
)

// LOGGER is the process-wide leveled logger
var LOGGER *logger.Logger

func init() {
	Setup("INFO", os.Stdout)
}

// Setup replaces the process logger. level is DEBUG or anything else for INFO.
func Setup(level string, out io.Writer) *logger.Logger {
	l, err := logger.New(AppName, 0, out)
	if err != nil {
		panic(err)
	}
	l.SetFormat(Format)

	if strings.EqualFold(level, "DEBUG") {
		l.SetLogLevel(logger.DebugLevel)
	} else {
		l.SetLogLevel(logger.InfoLevel)
	}

	LOGGER = l
	return l
}
