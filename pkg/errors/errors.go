package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// New builds an error carrying msg and the call site that raised it.
func New(msg string) error {
	return fmt.Errorf("%s %s ", msg, filePath(2))
}

// NewWithFrameSkip is New with the stack frame to attribute the error to
// chosen explicitly, for helpers that build errors on another's behalf.
func NewWithFrameSkip(msg string, skipFrames int) error {
	return fmt.Errorf("%s %s ", msg, filePath(skipFrames))
}

// Errorf is New with fmt.Sprintf-style formatting.
func Errorf(format string, a ...interface{}) error {
	return fmt.Errorf(format+" %s", append(a, filePath(2))...)
}

// Wrap attaches msg and the call site to err, preserving err in the chain
// so errors.Is/errors.As still see through it.
func Wrap(err error, msg string) error {
	return fmt.Errorf("%s %s \ncaused by: %w ", msg, filePath(2), err)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting on msg.
func Wrapf(err error, msg string, a ...interface{}) error {
	return fmt.Errorf("%s %s \ncaused by: %w ", fmt.Sprintf(msg, a...), filePath(2), err)
}

// UnWrapRecursivelyUntil walks err's Unwrap chain and returns the first
// error asserter accepts, or nil if the chain is exhausted first.
func UnWrapRecursivelyUntil(err error, asserter func(unWrapped error) bool) error {
	if err == nil {
		return nil
	}

	unWrapped := errors.Unwrap(err)
	if asserter(unWrapped) {
		return unWrapped
	}

	return UnWrapRecursivelyUntil(unWrapped, asserter)
}

// WrapWithFrameSkip is Wrap with the stack frame to attribute chosen
// explicitly, for helpers that wrap errors on another's behalf.
func WrapWithFrameSkip(err error, msg string, skipFrames int) error {
	return fmt.Errorf("%s %s \ncaused by: %w ", msg, filePath(skipFrames), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// filePath formats the function, file and line a given number of stack
// frames above the caller.
func filePath(frameSkip int) string {
	pc, f, l, ok := runtime.Caller(frameSkip) // nolint
	fn := `unknown`
	if ok {
		fn = runtime.FuncForPC(pc).Name()
	}

	return fmt.Sprintf("at %s\n\t%s:%d", fn, f, l)
}
