package pinnedsync

import (
	"fmt"
	"sync"
)

var (
	// Global map to track printed messages
	printedMessages sync.Map
)

// PrintOnce reports whether msg is seen for the first time in the process
// lifetime. Callers log only when it returns true.
func PrintOnce(msg string) bool {
	_, loaded := printedMessages.LoadOrStore(msg, struct{}{})
	return !loaded
}

// PrintOncef is PrintOnce over a formatted message.
func PrintOncef(format string, args ...interface{}) bool {
	return PrintOnce(fmt.Sprintf(format, args...))
}

// ResetPrintOnce forgets all messages (mainly for testing)
func ResetPrintOnce() {
	printedMessages.Range(func(key, _ interface{}) bool {
		printedMessages.Delete(key)
		return true
	})
}
