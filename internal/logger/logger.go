package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var globalLogger zerolog.Logger

func init() {
	globalLogger = New(os.Stderr).Level(zerolog.InfoLevel)
}

// New builds the console logger used by every command, writing to out.
func New(out io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05.99",
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("| %s |", i)
		},
		FormatCaller: func(i interface{}) string {
			return filepath.Base(fmt.Sprintf("%s", i))
		},
	}).With().
		Timestamp().
		Caller().
		Logger()
}

// GetLogger retrieves the global zerolog logger
func GetLogger() zerolog.Logger {
	return globalLogger
}

// SetDebug switches the global logger between info and debug level.
func SetDebug(debug bool) {
	if debug {
		globalLogger = globalLogger.Level(zerolog.DebugLevel)
		return
	}
	globalLogger = globalLogger.Level(zerolog.InfoLevel)
}
