package debug

import (
	"fmt"
	"log"
	"time"
)

// Output prints a debug line if debugging is enabled for this call site.
func Output(enabled bool, format string, args ...interface{}) {
	if enabled {
		message := fmt.Sprintf(format, args...)
		log.Printf("[%s] %s", time.Now().Format("15:04:05.000"), message)
	}
}

// Timing measures and logs the duration of an operation if debugging is
// enabled. Use as: defer debug.Timing(enabled, "similarity matching")()
func Timing(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	Output(enabled, "starting: %s", operation)

	return func() {
		Output(enabled, "completed: %s (took %v)", operation, time.Since(start))
	}
}
