// Package script implements the agent's script bridge: the narrow
// contract the agent needs from whatever host interpreter embeds it,
// a concrete adapter over Go's own runtime plus an embedded yaegi
// interpreter for eval, and the built-in tables (script.backtrace,
// script.variables, script.sampled_trace) the bridge exposes through
// the query engine.
package script

import "context"

// FrameKind distinguishes an interpreted stack frame (running inside
// the embedded script interpreter) from a native one (a call into
// compiled code the interpreter cannot see through).
type FrameKind uint8

const (
	FrameInterpreted FrameKind = iota
	FrameNative
)

// StackFrame is one immutable record of a point-in-time backtrace
// capture.
type StackFrame struct {
	Depth     int // 0 = deepest
	Func      string
	File      string
	Line      int
	Kind      FrameKind
	HasIP     bool
	IP        uint64
	Locals    []Local // optional captured locals, nil if not requested
}

// Local is one captured local variable, already reduced to a printable
// string by the interpreter adapter.
type Local struct {
	Name  string
	Value string
}

// EvalResult is the outcome of evaluating a code snippet.
type EvalResult struct {
	Stdout []byte
	Err    error // non-nil on a raised/panicking evaluation
}

// EvalOptions controls one Eval call.
type EvalOptions struct {
	CaptureStdout bool
}

// TableBuilder is the registration hook §9 "Dynamic table registration"
// describes: user code supplies a schema and an append callback; the
// bridge assigns the table to `script.<name>` after a collision check.
type TableBuilder interface {
	// Declare registers a new dynamic table. Rows appended to it via
	// the returned Appender become visible to the next query.
	Declare(name string, schema RecordSchema) (Appender, error)
}

// RecordSchema names the columns of a user-declared table.
type RecordSchema struct {
	Columns []RecordColumn
}

// RecordColumn is one column of a user-declared record type.
type RecordColumn struct {
	Name string
	Type RecordColumnType
}

// RecordColumnType mirrors proto.ColumnType without importing proto
// from this narrow interpreter-facing file, keeping the contract
// decoupled from the wire format; the table adapter (tables.go) maps
// between the two.
type RecordColumnType uint8

const (
	RecBool RecordColumnType = iota
	RecInt
	RecFloat
	RecString
)

// Appender appends one record (positional values matching the declared
// schema) to a dynamic table.
type Appender interface {
	Append(values []any) error
}

// NotifyEvent enumerates interpreter lifecycle notifications the bridge
// may receive. Not every host interpreter can supply every event;
// Interpreter implementations that cannot simply never call the
// corresponding hook.
type NotifyEvent uint8

const (
	NotifyStart NotifyEvent = iota
	NotifyCall
	NotifyLine
	NotifyReturn
	NotifyException
)

// Notification carries the minimal detail an instrumentation consumer
// needs: which event fired, and in which function/file/line, if known.
type Notification struct {
	Event NotifyEvent
	Func  string
	File  string
	Line  int
}

// Interpreter is the abstract contract the script bridge needs from
// whatever embeds it. Any future re-targeting (e.g.
// to a real Python-embedding host) substitutes a different
// implementation of this interface; the rest of the bridge is
// interpreter-agnostic.
type Interpreter interface {
	// Backtrace walks the call stack of one thread/goroutine (tid==0
	// means the main thread). withLocals requests captured locals per
	// frame when the interpreter can supply them.
	Backtrace(ctx context.Context, tid int64, withLocals bool) ([]StackFrame, error)

	// Threads lists the tids this interpreter currently knows about.
	Threads(ctx context.Context) ([]int64, error)

	// Eval runs code inside the host interpreter and returns captured
	// output. Any panic/exception raised by code is caught here and
	// surfaced as EvalResult.Err — it must never escape into the
	// agent's own goroutines.
	Eval(ctx context.Context, code string, opts EvalOptions) EvalResult

	// Subscribe registers fn to receive interpreter notifications.
	// Implementations that cannot generate a given NotifyEvent simply
	// never invoke fn with it. Returns an unsubscribe function.
	Subscribe(fn func(Notification)) (unsubscribe func())
}
