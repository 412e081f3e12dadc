package async

import (
	"github.com/tryfix/log"
	"runtime/debug"
)

// LogPanicTrace recovers a panic on the calling goroutine and logs it with
// its stack trace, rather than letting it crash the whole process. Meant
// to be deferred at the top of each Fn's goroutine in Run.
func LogPanicTrace(logger log.Logger) {
	if r := recover(); r != nil {
		logger.Fatal(r, string(debug.Stack()))
	}
}
