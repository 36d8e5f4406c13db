// Package skerr provides functions for creating and wrapping errors that
// record the call stack at the point where the error passed through.
package skerr

import (
	"fmt"
	"runtime"
	"strings"
)

// StackContext identifies a line of source code.
type StackContext struct {
	File string
	Line int
}

// String returns the StackContext as "file:line".
func (sc StackContext) String() string {
	return fmt.Sprintf("%s:%d", sc.File, sc.Line)
}

// ErrorWithContext is an error that carries the call stack of every point it
// was wrapped at, plus an optional message added at the outermost wrap.
type ErrorWithContext struct {
	// Wrapped is the original error being annotated.
	Wrapped error

	// CallStack is the stack at the point Wrap was first called. Element 0 is
	// the immediate caller of Wrap.
	CallStack []StackContext

	// Message, if non-empty, is prepended to the wrapped error's message.
	Message string
}

// Error implements the error interface.
func (err *ErrorWithContext) Error() string {
	var sb strings.Builder
	if err.Message != "" {
		sb.WriteString(err.Message)
		sb.WriteString(": ")
	}
	if err.Wrapped != nil {
		sb.WriteString(err.Wrapped.Error())
	}
	if len(err.CallStack) > 0 {
		contexts := make([]string, 0, len(err.CallStack))
		for _, sc := range err.CallStack {
			contexts = append(contexts, sc.String())
		}
		sb.WriteString(" At ")
		sb.WriteString(strings.Join(contexts, " "))
	}
	return sb.String()
}

// Unwrap supports errors.Is and errors.As.
func (err *ErrorWithContext) Unwrap() error {
	return err.Wrapped
}

const maxStackDepth = 16

func callStack(skip int) []StackContext {
	ret := []StackContext{}
	for i := skip; i < skip+maxStackDepth; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		// Trim the file down to the last two path segments to keep messages
		// readable.
		split := strings.Split(file, "/")
		if len(split) > 2 {
			file = strings.Join(split[len(split)-2:], "/")
		}
		ret = append(ret, StackContext{File: file, Line: line})
	}
	return ret
}

// Wrap adds the current call stack to err. If err is already an
// *ErrorWithContext it is returned unchanged so the original stack is
// preserved.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ErrorWithContext); ok {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
	}
}

// Wrapf annotates err with a formatted message and the current call stack.
// Unlike Wrap, Wrapf always adds a new layer so the message is retained.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
		Message:   fmt.Sprintf(format, args...),
	}
}

// Fmt creates a new error with a formatted message and the current call
// stack.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		Wrapped:   fmt.Errorf(format, args...),
		CallStack: callStack(2),
	}
}

// Unwrap returns the innermost error if err is an *ErrorWithContext,
// otherwise err itself.
func Unwrap(err error) error {
	for {
		ewc, ok := err.(*ErrorWithContext)
		if !ok || ewc.Wrapped == nil {
			return err
		}
		err = ewc.Wrapped
	}
}
