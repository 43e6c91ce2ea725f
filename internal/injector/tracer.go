// Package injector attaches to a running target process, writes a
// small architecture-specific trampoline into its text, calls the
// dynamic loader to map the agent library, restores every byte and
// register it touched, and detaches. The core is architecture- and
// backend-neutral: the ptrace syscall surface sits behind Tracer, the
// per-CPU trampoline and register conventions behind Arch, and target
// introspection (/proc walking, symbol resolution) behind Resolver, so
// the rollback state machine is testable without tracer privileges.
package injector

// Regs is an architecture-neutral view of the register file, keyed by
// register name ("pc", "sp", and the Arch's argument/function/return
// slots). SetRegs applies only the named registers it is given; the
// full-fidelity snapshot used for restore is the opaque RegState.
type Regs map[string]uint64

// RegState is a backend-specific full register snapshot. The injector
// treats it as opaque: whatever SaveRegs returns, RestoreRegs must
// reinstate bit-for-bit, every register included.
type RegState []byte

// Tracer is the debugger-style control surface over a target process.
// The production implementation issues ptrace syscalls; tests supply a
// fake operating on an in-memory target image.
type Tracer interface {
	// Attach acquires tracer privilege over pid. The target is not yet
	// stopped when Attach returns; WaitStop blocks until it is.
	Attach(pid int) error
	Detach(pid int) error

	// Cont resumes the stopped tracee.
	Cont(pid int) error
	// WaitStop blocks until the tracee stops after Attach.
	WaitStop(pid int) error
	// WaitTrap blocks until the tracee hits the trampoline's trap
	// instruction.
	WaitTrap(pid int) error

	SaveRegs(pid int) (RegState, error)
	RestoreRegs(pid int, st RegState) error
	Regs(pid int) (Regs, error)
	SetRegs(pid int, regs Regs) error

	ReadMem(pid int, addr uint64, buf []byte) error
	WriteMem(pid int, addr uint64, data []byte) error
}

// Resolver answers the questions about the target's address space the
// injection algorithm needs: where to patch, where the loader lives,
// where a path string can be staged, and whether the agent is already
// mapped.
type Resolver interface {
	// AgentLoaded reports whether the agent library is already mapped
	// into pid (the data model's "loaded at most once" invariant).
	AgentLoaded(pid int, libPath string) (bool, error)

	// ExecTextBase returns the address of an executable code window at
	// least trampolineLen bytes long (the start of the main module's
	// text).
	ExecTextBase(pid int) (uint64, error)

	// DlopenAddr resolves the dynamic loader's "open library" routine
	// inside the target.
	DlopenAddr(pid int) (uint64, error)

	// DlerrorAddr resolves the loader's error-string routine, consulted
	// when the open call returns null.
	DlerrorAddr(pid int) (uint64, error)

	// ScratchAddr returns a writable address able to hold size bytes
	// (the NUL-terminated library path).
	ScratchAddr(pid int, size int) (uint64, error)
}
