// Package logging provides the connection-level diagnostic logger used
// by the application facade and, transitively, by infrastructure/conn's
// event and error paths. It wraps the standard library logger rather
// than a structured logging library: the teacher repo itself never
// reaches past stdlib log for its own diagnostics, and this module
// carries that choice forward for its one remaining ambient log sink.
package logging

import "log"

// Logger is the narrow contract callers depend on instead of the
// concrete standard-library logger, so tests can substitute a recording
// implementation.
type Logger interface {
	Printf(format string, v ...any)
}

type LogLogger struct {
}

func NewLogLogger() Logger {
	return &LogLogger{}
}

func (l LogLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
