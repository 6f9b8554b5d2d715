package assert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// backtraceDepth is the number of frames included in a report.
const backtraceDepth = 6

const cutHere = "-----8<----- Cut Here -----8<-----"

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// Violation is the panic value raised by Arg and Argf.
type Violation struct {
	File string
	Line int
	Msg  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("precondition violated: %s (%s:%d)", v.Msg, v.File, v.Line)
}

// SetOutput redirects reports and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

// Arg panics with a *Violation when cond is false.
func Arg(cond bool, msg string) {
	if cond {
		return
	}
	fail(msg)
}

// Argf is Arg with a formatted message. The message is only formatted on failure.
func Argf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	fail(fmt.Sprintf(format, args...))
}

// Failf panics with a *Violation unconditionally.
func Failf(format string, args ...any) {
	fail(fmt.Sprintf(format, args...))
}

// Warn writes a report for msg without panicking.
func Warn(msg string) {
	report(2, msg)
}

func fail(msg string) {
	v := report(3, msg)
	panic(v)
}

// report writes msg and a backtrace starting skip frames above report itself.
func report(skip int, msg string) *Violation {
	v := &Violation{File: "???", Msg: msg}
	if _, file, line, ok := runtime.Caller(skip); ok {
		v.File = filepath.Base(file)
		v.Line = line
	}

	pcs := make([]uintptr, backtraceDepth)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	mu.Lock()
	defer mu.Unlock()

	fmt.Fprintf(out, "%s (%s:%d)\n", v.Msg, v.File, v.Line)
	for {
		f, more := frames.Next()
		fmt.Fprintf(out, "\t%s\n\t\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	fmt.Fprintln(out, cutHere)

	return v
}
