package monitoring

import "log"

// Logf is the package-level logger for operational messages. It defaults to
// log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Diagf is used for per-sample diagnostics (rejected coordinates, fusion
// decisions). It is silent until SetDiagnostics enables it.
var Diagf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDiagnostics routes diagnostic lines through Logf when enabled and
// discards them otherwise.
func SetDiagnostics(enabled bool) {
	if !enabled {
		Diagf = func(string, ...interface{}) {}
		return
	}
	Diagf = func(format string, v ...interface{}) { Logf("[diag] "+format, v...) }
}
