package injector

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/reiase/probing/internal/log"
	"github.com/reiase/probing/internal/proto"
)

// attachState tracks the injection state machine:
//
//	Detached ──attach──▶ Stopped ──save_regs──▶ Patched ──resume──▶ Running
//	                                                              │
//	Detached ◀──detach──── Restored ◀──restore── Trapped ◀────────┘
//
// Once the text window is patched, AttachAndInject runs rollback before
// detach on every path, success included. If a restore write itself
// fails, detach still runs and the restore error is returned.
type attachState uint8

const (
	stateDetached attachState = iota
	stateStopped
	statePatched
	stateRunning
	stateTrapped
	stateRestored
)

// Result reports a successful injection. AlreadyLoaded distinguishes
// the idempotent path: the agent was present, so the target's text was
// never touched and only options were forwarded.
type Result struct {
	AlreadyLoaded bool
}

// OptionSender forwards initial option key=value pairs to an agent
// that is (or was already) loaded in pid, over its command endpoint.
type OptionSender func(pid int, options map[string]string) error

// Injector performs attach_and_inject against live processes.
type Injector struct {
	tracer   Tracer
	arch     *Arch
	resolver Resolver
	sendOpts OptionSender
}

// New builds an Injector for the current platform.
func New() (*Injector, error) {
	arch, err := ArchFor(runtime.GOARCH)
	if err != nil {
		return nil, proto.NewError(proto.ErrUnsupported, "%v", err)
	}
	return &Injector{
		tracer:   newPlatformTracer(arch),
		arch:     arch,
		resolver: newProcResolver(),
		sendOpts: sendOptionsViaEndpoint,
	}, nil
}

// NewWith builds an Injector over explicit backends, for tests and
// alternative platforms.
func NewWith(t Tracer, a *Arch, r Resolver, send OptionSender) *Injector {
	return &Injector{tracer: t, arch: a, resolver: r, sendOpts: send}
}

// session is the per-attempt mutable state: everything that must be
// rolled back before detaching.
type session struct {
	pid   int
	state attachState

	savedRegs RegState

	patchAddr uint64
	savedText []byte

	scratchAddr  uint64
	savedScratch []byte
}

// AttachAndInject causes pid to map and initialize the agent shared
// library at libPath, forwarding options to it. If the agent is
// already loaded it only updates options and reports AlreadyLoaded.
func (inj *Injector) AttachAndInject(pid int, libPath string, options map[string]string) (Result, error) {
	loaded, err := inj.resolver.AgentLoaded(pid, libPath)
	if err != nil {
		return Result{}, proto.NewError(proto.ErrTargetUnreachable, "inspect target %d: %v", pid, err)
	}
	if loaded {
		log.Info("agent already loaded, updating options", zap.Int("pid", pid))
		if len(options) > 0 && inj.sendOpts != nil {
			if err := inj.sendOpts(pid, options); err != nil {
				return Result{AlreadyLoaded: true}, err
			}
		}
		return Result{AlreadyLoaded: true}, nil
	}

	s := &session{pid: pid}
	if err := inj.attach(s); err != nil {
		return Result{}, err
	}

	injectErr := inj.inject(s, libPath)

	// Any failure after the text patch rolls back before detaching; the
	// target must never be left with a corrupted text window.
	if rbErr := inj.rollback(s); rbErr != nil && injectErr == nil {
		injectErr = rbErr
	}
	if detErr := inj.detach(s); detErr != nil && injectErr == nil {
		injectErr = detErr
	}
	if injectErr != nil {
		return Result{}, injectErr
	}

	log.Info("agent injected", zap.Int("pid", pid), zap.String("library", libPath))
	if len(options) > 0 && inj.sendOpts != nil {
		if err := inj.sendOpts(pid, options); err != nil {
			return Result{}, err
		}
	}
	return Result{}, nil
}

func (inj *Injector) attach(s *session) error {
	if err := inj.tracer.Attach(s.pid); err != nil {
		return classifyAttachError(s.pid, err)
	}
	if err := inj.tracer.WaitStop(s.pid); err != nil {
		inj.tracer.Detach(s.pid)
		return proto.NewError(proto.ErrTargetUnreachable, "target %d did not stop: %v", s.pid, err)
	}
	s.state = stateStopped

	regs, err := inj.tracer.SaveRegs(s.pid)
	if err != nil {
		inj.tracer.Detach(s.pid)
		return proto.NewError(proto.ErrTargetUnreachable, "save registers of %d: %v", s.pid, err)
	}
	s.savedRegs = regs
	return nil
}

// inject runs steps 3-9 of the algorithm: patch the trampoline, stage
// the path string, make the loader call, and check its result. The
// caller owns rollback and detach regardless of the outcome.
func (inj *Injector) inject(s *session, libPath string) error {
	patchAddr, err := inj.resolver.ExecTextBase(s.pid)
	if err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "locate text window in %d: %v", s.pid, err)
	}

	path := append([]byte(libPath), 0)
	scratchAddr, err := inj.resolver.ScratchAddr(s.pid, len(path))
	if err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "locate scratch memory in %d: %v", s.pid, err)
	}

	dlopen, err := inj.resolver.DlopenAddr(s.pid)
	if err != nil {
		return proto.NewError(proto.ErrNotFound, "resolve loader in %d: %v", s.pid, err)
	}

	// Save originals before the first write; from here on the session
	// carries rollback obligations.
	savedText := make([]byte, trampolineLen)
	if err := inj.tracer.ReadMem(s.pid, patchAddr, savedText); err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "read text window: %v", err)
	}
	savedScratch := make([]byte, len(path))
	if err := inj.tracer.ReadMem(s.pid, scratchAddr, savedScratch); err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "read scratch window: %v", err)
	}

	s.patchAddr = patchAddr
	s.savedText = savedText
	s.state = statePatched
	if err := inj.tracer.WriteMem(s.pid, patchAddr, inj.arch.Shellcode[:]); err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "write trampoline: %v", err)
	}

	s.scratchAddr = scratchAddr
	s.savedScratch = savedScratch
	if err := inj.tracer.WriteMem(s.pid, scratchAddr, path); err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "write library path: %v", err)
	}

	handle, err := inj.callRemote(s, dlopen, scratchAddr, rtldLazyGlobal)
	if err != nil {
		return err
	}
	if handle == 0 {
		msg := inj.loaderError(s)
		return proto.NewError(proto.ErrNotFound, "loader call failed in %d: %s", s.pid, msg)
	}
	return nil
}

// callRemote drives one trampoline round trip: set registers so the
// trampoline calls fn(a0, a1), resume, wait for the tail trap, and read
// the result register.
func (inj *Injector) callRemote(s *session, fn, a0, a1 uint64) (uint64, error) {
	regs, err := inj.tracer.Regs(s.pid)
	if err != nil {
		return 0, proto.NewError(proto.ErrTargetUnreachable, "read registers: %v", err)
	}
	sp := inj.arch.AlignStack(regs[inj.arch.SP])
	if err := inj.tracer.SetRegs(s.pid, Regs{
		inj.arch.PC:    s.patchAddr,
		inj.arch.SP:    sp,
		inj.arch.Arg0:  a0,
		inj.arch.Arg1:  a1,
		inj.arch.FnReg: fn,
	}); err != nil {
		return 0, proto.NewError(proto.ErrTargetUnreachable, "set registers: %v", err)
	}

	if err := inj.tracer.Cont(s.pid); err != nil {
		return 0, proto.NewError(proto.ErrTargetUnreachable, "resume target: %v", err)
	}
	s.state = stateRunning
	if err := inj.tracer.WaitTrap(s.pid); err != nil {
		return 0, proto.NewError(proto.ErrTargetUnreachable, "wait for trampoline trap: %v", err)
	}
	s.state = stateTrapped

	after, err := inj.tracer.Regs(s.pid)
	if err != nil {
		return 0, proto.NewError(proto.ErrTargetUnreachable, "read result register: %v", err)
	}
	return after[inj.arch.RetReg], nil
}

// loaderError makes the second helper call to the loader's error
// routine and reads the NUL-terminated message it returns. Failures
// here degrade to a generic message; the primary error is already
// decided.
func (inj *Injector) loaderError(s *session) string {
	dlerror, err := inj.resolver.DlerrorAddr(s.pid)
	if err != nil {
		return "unknown loader error"
	}
	strAddr, err := inj.callRemote(s, dlerror, 0, 0)
	if err != nil || strAddr == 0 {
		return "unknown loader error"
	}
	return inj.readCString(s.pid, strAddr)
}

func (inj *Injector) readCString(pid int, addr uint64) string {
	var out []byte
	buf := make([]byte, 64)
	for len(out) < 4096 {
		if err := inj.tracer.ReadMem(pid, addr+uint64(len(out)), buf); err != nil {
			break
		}
		for _, b := range buf {
			if b == 0 {
				return string(out)
			}
			out = append(out, b)
		}
	}
	return string(out)
}

// rollback restores, in reverse patch order, everything the session
// wrote: scratch bytes, text window, register file. It runs on every
// path — success restores the same state failure does.
func (inj *Injector) rollback(s *session) error {
	if s.state == stateDetached || s.state == stateStopped {
		s.state = stateRestored
		return nil
	}

	var firstErr error
	if s.savedScratch != nil {
		if err := inj.tracer.WriteMem(s.pid, s.scratchAddr, s.savedScratch); err != nil && firstErr == nil {
			firstErr = proto.NewError(proto.ErrTargetUnreachable, "restore scratch window: %v", err)
		}
	}
	if s.savedText != nil {
		if err := inj.tracer.WriteMem(s.pid, s.patchAddr, s.savedText); err != nil && firstErr == nil {
			firstErr = proto.NewError(proto.ErrTargetUnreachable, "restore text window: %v", err)
		}
	}
	if s.savedRegs != nil {
		if err := inj.tracer.RestoreRegs(s.pid, s.savedRegs); err != nil && firstErr == nil {
			firstErr = proto.NewError(proto.ErrTargetUnreachable, "restore registers: %v", err)
		}
	}
	if firstErr == nil {
		s.state = stateRestored
	}
	return firstErr
}

func (inj *Injector) detach(s *session) error {
	err := inj.tracer.Detach(s.pid)
	if err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "detach from %d: %v", s.pid, err)
	}
	s.state = stateDetached
	return nil
}
