package detour

import (
	"log"
	"os"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
)

var (
	debug  atomic.Bool
	logger atomic.Pointer[log.Logger]
)

func init() {
	logger.Store(log.New(os.Stderr, "detour: ", log.LstdFlags))
}

// SetDebug turns debug output on or off. When on, construction logs the
// prologue and trampoline disassembly.
func SetDebug(on bool) {
	debug.Store(on)
}

// SetLogger replaces the logger used for debug output.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(os.Stderr, "detour: ", log.LstdFlags)
	}
	logger.Store(l)
}

func debugf(format string, args ...any) {
	if !debug.Load() {
		return
	}
	logger.Load().Printf(format, args...)
}

func debugDump(label string, v any) {
	if !debug.Load() {
		return
	}
	logger.Load().Printf("%s:\n%s", label, spew.Sdump(v))
}
