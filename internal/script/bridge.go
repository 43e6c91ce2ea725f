package script

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/reiase/probing/internal/extension"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/internal/query"
)

const (
	defaultVariablesCapacity    = 10000
	defaultSampledTraceCapacity = 20000
)

var variablesSchema = proto.Schema{
	{Name: "step", Type: proto.TypeInt64},
	{Name: "func", Type: proto.TypeString},
	{Name: "name", Type: proto.TypeString},
	{Name: "value", Type: proto.TypeString},
}

var sampledTraceSchema = proto.Schema{
	{Name: "step", Type: proto.TypeInt64},
	{Name: "seq", Type: proto.TypeInt64},
	{Name: "module", Type: proto.TypeString},
	{Name: "stage", Type: proto.TypeString},
	{Name: "allocated", Type: proto.TypeInt64},
	{Name: "max_allocated", Type: proto.TypeInt64},
	{Name: "cached", Type: proto.TypeInt64},
	{Name: "max_cached", Type: proto.TypeInt64},
	{Name: "time_offset", Type: proto.TypeFloat64},
	{Name: "duration", Type: proto.TypeFloat64},
}

// Bridge is the script-bridge extension: it owns the embedded
// Interpreter, the three built-in tables, and the registry of
// user-declared dynamic tables.
type Bridge struct {
	interp Interpreter

	backtraceWithLocals bool
	evalTimeoutMS       int

	variables    *ringTable
	sampledTrace *ringTable

	mu      sync.RWMutex
	dynamic map[string]*dynamicTable

	evalOnce sync.Once
	evalCh   chan evalJob
}

// evalJob is one queued evaluation for the bridge's dedicated eval
// worker.
type evalJob struct {
	ctx     context.Context
	code    string
	capture bool
	reply   chan EvalResult
}

// NewBridge constructs a Bridge around interp.
func NewBridge(interp Interpreter) *Bridge {
	return &Bridge{
		interp:        interp,
		evalTimeoutMS: 5000,
		variables:     newRingTable(variablesSchema, defaultVariablesCapacity),
		sampledTrace:  newRingTable(sampledTraceSchema, defaultSampledTraceCapacity),
		dynamic:       make(map[string]*dynamicTable),
	}
}

// --- extension.Extension ---

func (b *Bridge) Name() string { return "script" }

func (b *Bridge) Options() []extension.Option {
	return []extension.Option{
		{Key: "script.backtrace.with_locals", Default: "false",
			HelpText: "capture locals with each backtrace frame when the interpreter supports it"},
		{Key: "script.eval.timeout_ms", Default: "5000",
			HelpText: "evaluation timeout in milliseconds"},
	}
}

func (b *Bridge) SetOption(key, value string) error {
	switch key {
	case "script.backtrace.with_locals":
		b.backtraceWithLocals = value == "true" || value == "1"
		return nil
	case "script.eval.timeout_ms":
		ms, err := parsePositiveInt(value)
		if err != nil {
			return proto.NewError(proto.ErrBadRequest, "script.eval.timeout_ms: %v", err)
		}
		b.evalTimeoutMS = ms
		return nil
	default:
		return proto.NewError(proto.ErrNotFound, "script: unknown option %q", key)
	}
}

func (b *Bridge) GetOption(key string) (string, error) {
	switch key {
	case "script.backtrace.with_locals":
		return boolString(b.backtraceWithLocals), nil
	case "script.eval.timeout_ms":
		return intString(b.evalTimeoutMS), nil
	default:
		return "", proto.NewError(proto.ErrNotFound, "script: unknown option %q", key)
	}
}

// --- extension.DataSourceExtension ---

func (b *Bridge) Namespaces() []string { return []string{"script"} }

func (b *Bridge) Namespace(name string) (extension.Namespace, bool) {
	if name != "script" {
		return nil, false
	}
	return (*bridgeNamespace)(b), true
}

// bridgeNamespace adapts Bridge to query.Namespace without exposing the
// extension methods as part of the table-lookup surface.
type bridgeNamespace Bridge

func (n *bridgeNamespace) Tables() []string {
	b := (*Bridge)(n)
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := []string{"backtrace", "variables", "sampled_trace"}
	for name := range b.dynamic {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveInline implements the inline-external-table mechanism: a
// reference `script."<expression>"` evaluates the quoted expression
// through the embedded interpreter and exposes its captured output as
// a one-column table, one row per output line.
func (n *bridgeNamespace) ResolveInline(text string) (query.Table, error) {
	b := (*Bridge)(n)
	res := b.Eval(context.Background(), text, true)
	if res.Err != nil {
		return nil, proto.NewError(proto.ErrRuntimeFault, "inline table %q: %v", text, res.Err)
	}
	var lines []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	schema := proto.Schema{{Name: "output", Type: proto.TypeString}}
	ring := newRingTable(schema, 0)
	for _, line := range lines {
		ring.Append([]proto.Value{proto.StringValue(line)})
	}
	return ring, nil
}

func (n *bridgeNamespace) Table(name string) (query.Table, bool) {
	b := (*Bridge)(n)
	switch name {
	case "backtrace":
		return &backtraceTable{interp: b.interp, withLocals: b.backtraceWithLocals}, true
	case "variables":
		return b.variables, true
	case "sampled_trace":
		return b.sampledTrace, true
	default:
		b.mu.RLock()
		defer b.mu.RUnlock()
		t, ok := b.dynamic[name]
		return t, ok
	}
}

// --- command-server entry points ---

// Eval runs code through the embedded interpreter, honoring the
// configured timeout. Evaluations are serialized onto one dedicated
// worker goroutine — a queued evaluation still observes cancellation
// while waiting its turn. A snippet abandoned on timeout or
// cancellation keeps running in the background, so the worker can
// start the next one before it ends.
func (b *Bridge) Eval(ctx context.Context, code string, capture bool) EvalResult {
	b.evalOnce.Do(func() {
		b.evalCh = make(chan evalJob)
		go b.evalWorker()
	})

	ctx, cancel := context.WithTimeout(ctx, msDuration(b.evalTimeoutMS))
	defer cancel()

	job := evalJob{ctx: ctx, code: code, capture: capture, reply: make(chan EvalResult, 1)}
	select {
	case b.evalCh <- job:
	case <-ctx.Done():
		return EvalResult{Err: ctx.Err()}
	}
	select {
	case res := <-job.reply:
		return res
	case <-ctx.Done():
		return EvalResult{Err: ctx.Err()}
	}
}

// evalWorker lives for the bridge's (and therefore the agent's)
// lifetime.
func (b *Bridge) evalWorker() {
	for job := range b.evalCh {
		job.reply <- b.interp.Eval(job.ctx, job.code, EvalOptions{CaptureStdout: job.capture})
	}
}

// Backtrace captures a point-in-time stack for tid (0 = main thread).
func (b *Bridge) Backtrace(ctx context.Context, tid int64) ([]StackFrame, error) {
	return b.interp.Backtrace(ctx, tid, b.backtraceWithLocals)
}

// RecordVariable appends one captured-local observation to
// script.variables on behalf of a running instrumentation session.
func (b *Bridge) RecordVariable(step int64, function, name, value string) {
	b.variables.Append([]proto.Value{
		proto.IntValue(step),
		proto.StringValue(function),
		proto.StringValue(name),
		proto.StringValue(value),
	})
}

// SampledTraceEntry is one row appended to script.sampled_trace.
type SampledTraceEntry struct {
	Step         int64
	Seq          int64
	Module       string
	Stage        string
	Allocated    int64
	MaxAllocated int64
	Cached       int64
	MaxCached    int64
	TimeOffset   float64
	Duration     float64
}

// RecordSample appends e to script.sampled_trace.
func (b *Bridge) RecordSample(e SampledTraceEntry) {
	b.sampledTrace.Append([]proto.Value{
		proto.IntValue(e.Step),
		proto.IntValue(e.Seq),
		proto.StringValue(e.Module),
		proto.StringValue(e.Stage),
		proto.IntValue(e.Allocated),
		proto.IntValue(e.MaxAllocated),
		proto.IntValue(e.Cached),
		proto.IntValue(e.MaxCached),
		proto.FloatValue(e.TimeOffset),
		proto.FloatValue(e.Duration),
	})
}

// --- TableBuilder: dynamic table registration ---

// Declare registers a new user-defined table under script.<name>,
// failing if that name collides with a built-in or previously declared
// table.
func (b *Bridge) Declare(name string, schema RecordSchema) (Appender, error) {
	if name == "backtrace" || name == "variables" || name == "sampled_trace" {
		return nil, proto.NewError(proto.ErrConflict, "script: %q is a built-in table name", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.dynamic[name]; exists {
		return nil, proto.NewError(proto.ErrConflict, "script: table %q already declared", name)
	}

	wireSchema := make(proto.Schema, len(schema.Columns))
	for i, c := range schema.Columns {
		wireSchema[i] = proto.ColumnDescriptor{Name: c.Name, Type: toProtoType(c.Type)}
	}
	ring := newRingTable(wireSchema, 0)
	b.dynamic[name] = &dynamicTable{ring: ring}
	return &dynamicAppender{ring: ring, schema: schema}, nil
}
