package main

import "log"

// logPrintf renders a bracketed subsystem tag the same way the upstream
// proxy prefixes its own log lines, e.g. "<supervisor> starting session".
func logPrintf(subsystem, format string, args ...any) {
	log.Printf("<%s> "+format, append([]any{subsystem}, args...)...)
}
