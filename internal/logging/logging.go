// package logging provides scoped, structured loggers shared across
// the module, backed by charmbracelet/log.
package logging

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu   sync.Mutex
	base = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	scoped []*log.Logger
)

// For returns a logger prefixed with component, e.g. "watch", "ddcio",
// "core". Every call site logs key-value pairs rather than formatted
// strings.
func For(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := base.WithPrefix(component)
	scoped = append(scoped, l)
	return l
}

// SetLevel adjusts the shared base logger's minimum level; it affects
// every logger previously or subsequently returned by For.
func SetLevel(level log.Level) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(level)
	for _, l := range scoped {
		l.SetLevel(level)
	}
}
