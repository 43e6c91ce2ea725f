package script

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// GoInterpreter implements Interpreter by treating the agent's own Go
// runtime as the "host interpreter": backtraces come from
// runtime.Stack goroutine dumps (the nearest Go equivalent of walking
// an interpreted call stack) and Eval runs snippets through an
// embedded yaegi interpreter.
//
// This is the concrete implementation of the narrow Interpreter
// contract; a deployment against a scripting-language host would
// implement the same interface without touching the rest of the
// bridge.
type GoInterpreter struct {
	mu     sync.Mutex
	subs   []func(Notification)
	subsMu sync.RWMutex
}

// NewGoInterpreter constructs the Go-runtime-backed interpreter
// adapter.
func NewGoInterpreter() *GoInterpreter {
	return &GoInterpreter{}
}

var goroutineHeaderRE = regexp.MustCompile(`^goroutine (\d+) \[([^\]]+)\]:$`)

// frameLocRE matches the second line of a stack-dump frame pair, e.g.
// "\t/path/to/file.go:42 +0x1a2".
var frameLocRE = regexp.MustCompile(`^\t(.+):(\d+)(?: \+0x[0-9a-f]+)?$`)

// Threads returns every goroutine id currently visible in a full
// stack dump.
func (g *GoInterpreter) Threads(ctx context.Context) ([]int64, error) {
	dump := captureAllStacks()
	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(dump))
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if m := goroutineHeaderRE.FindStringSubmatch(sc.Text()); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Backtrace captures the call stack of tid. tid 0 stands for "the main
// thread": it selects goroutine 1, the goroutine that runs main.main,
// and captures the calling goroutine instead when the dump holds no
// goroutine 1. Locals are never populated here: Go's
// runtime does not expose stack-local values without DWARF-level
// introspection, so withLocals is accepted but yields frames with a
// nil Locals slice; script.variables is populated separately via
// RecordVariable, not derived from this capture.
func (g *GoInterpreter) Backtrace(ctx context.Context, tid int64, withLocals bool) ([]StackFrame, error) {
	if tid == 0 {
		if frames, ok := parseGoroutineBlock(captureAllStacks(), 1); ok {
			return frames, nil
		}
		return currentGoroutineFrames(), nil
	}
	dump := captureAllStacks()
	frames, ok := parseGoroutineBlock(dump, tid)
	if !ok {
		return nil, fmt.Errorf("script: goroutine %d not found", tid)
	}
	return frames, nil
}

func captureAllStacks() []byte {
	size := 64 * 1024
	for {
		buf := make([]byte, size)
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		size *= 2
	}
}

// currentGoroutineFrames walks the calling goroutine's stack via
// runtime.Callers, skipping runtime.Callers itself, this function and
// its caller (Backtrace).
func currentGoroutineFrames() []StackFrame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs) // skip Callers, currentGoroutineFrames, Backtrace
	frames := runtime.CallersFrames(pcs[:n])
	var out []StackFrame
	depth := 0
	for {
		fr, more := frames.Next()
		out = append(out, StackFrame{
			Depth: depth,
			Func:  fr.Function,
			File:  fr.File,
			Line:  fr.Line,
			Kind:  FrameNative,
			HasIP: true,
			IP:    uint64(fr.PC),
		})
		depth++
		if !more {
			break
		}
	}
	return out
}

// parseGoroutineBlock extracts the frames belonging to goroutine tid
// from a full runtime.Stack(..., true) dump.
func parseGoroutineBlock(dump []byte, tid int64) ([]StackFrame, bool) {
	lines := strings.Split(string(dump), "\n")
	start := -1
	for i, ln := range lines {
		if m := goroutineHeaderRE.FindStringSubmatch(ln); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil && id == tid {
				start = i + 1
				break
			}
		}
	}
	if start < 0 {
		return nil, false
	}
	var frames []StackFrame
	depth := 0
	for i := start; i+1 < len(lines); i += 2 {
		funcLine := strings.TrimSpace(lines[i])
		if funcLine == "" || goroutineHeaderRE.MatchString(funcLine) {
			break
		}
		locMatch := frameLocRE.FindStringSubmatch(lines[i+1])
		if locMatch == nil {
			break
		}
		lineNo, _ := strconv.Atoi(locMatch[2])
		frames = append(frames, StackFrame{
			Depth: depth,
			Func:  funcName(funcLine),
			File:  locMatch[1],
			Line:  lineNo,
			Kind:  FrameNative,
		})
		depth++
	}
	return frames, true
}

func funcName(declLine string) string {
	if i := strings.IndexByte(declLine, '('); i >= 0 {
		return declLine[:i]
	}
	return declLine
}

// Eval runs code through a fresh yaegi interpreter loaded with the Go
// stdlib symbol table: fresh interpreter per call, stdout captured via
// redirection, panics recovered and reported as EvalResult.Err rather
// than propagated.
func (g *GoInterpreter) Eval(ctx context.Context, code string, opts EvalOptions) EvalResult {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return EvalResult{Err: fmt.Errorf("script: load stdlib: %w", err)}
	}

	type outcome struct {
		stdout []byte
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var out []byte
		var evalErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					evalErr = fmt.Errorf("panic: %v", r)
				}
			}()
			if opts.CaptureStdout {
				g.mu.Lock()
				defer g.mu.Unlock()
				out, evalErr = evalCapturingStdout(i, code)
			} else {
				_, evalErr = i.Eval(code)
			}
		}()
		done <- outcome{stdout: out, err: evalErr}
	}()

	select {
	case o := <-done:
		return EvalResult{Stdout: o.stdout, Err: o.err}
	case <-ctx.Done():
		return EvalResult{Err: ctx.Err()}
	}
}

// evalCapturingStdout redirects the process's os.Stdout to a pipe for
// the duration of one Eval call so that interpreted code calling
// fmt.Println (which writes to the real os.Stdout, not yaegi's own
// Options.Stdout hook) is captured too. Callers hold GoInterpreter.mu,
// so two redirections never overlap, even when an eval that Eval gave
// up on at its deadline is still running.
func evalCapturingStdout(i *interp.Interpreter, code string) ([]byte, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	orig := os.Stdout
	os.Stdout = w

	outCh := make(chan []byte, 1)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		outCh <- buf.Bytes()
	}()

	_, evalErr := i.Eval(code)

	os.Stdout = orig
	w.Close()
	out := <-outCh
	r.Close()
	return out, evalErr
}

// Subscribe registers a notification callback. The Go-runtime backend
// never calls fn: it has no instrumentation hook into arbitrary Go
// code execution (unlike a bytecode-stepping interpreter), so this
// exists solely to satisfy the Interpreter contract, which treats the
// notification events as optional.
func (g *GoInterpreter) Subscribe(fn func(Notification)) (unsubscribe func()) {
	g.subsMu.Lock()
	idx := len(g.subs)
	g.subs = append(g.subs, fn)
	g.subsMu.Unlock()
	return func() {
		g.subsMu.Lock()
		defer g.subsMu.Unlock()
		if idx < len(g.subs) {
			g.subs[idx] = nil
		}
	}
}
