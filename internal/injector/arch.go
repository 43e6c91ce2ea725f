package injector

import "fmt"

// trampolineLen is the size of the text window the injector patches and
// restores. Both supported shellcodes pad to exactly this length.
const trampolineLen = 16

// rtldLazyGlobal is the dlopen mode constant (RTLD_LAZY | RTLD_GLOBAL)
// passed in the second argument register.
const rtldLazyGlobal = 0x001 | 0x100

// Arch parameterizes the injector over a CPU family: the trampoline
// bytes and the mapping from the algorithm's argument slots to register
// names. Adding an architecture means supplying exactly this data plus
// a register save/restore shape in the tracer backend.
type Arch struct {
	Name string

	// Shellcode is the trampoline: an aligned NOP prologue, an indirect
	// call through FnReg, and a trap instruction the tracer catches.
	Shellcode [trampolineLen]byte

	// Register names, as exposed through Regs.
	PC   string
	SP   string
	Arg0 string
	Arg1 string
	// FnReg is the designated "function pointer register" the indirect
	// call goes through.
	FnReg string
	// RetReg carries the loader call's result after the trap.
	RetReg string

	// SPAlign is the stack alignment the platform ABI requires before
	// the call instruction executes. Aligning here gives the callee the
	// entry alignment it expects on both supported ABIs: AAPCS64 keeps
	// sp 16-aligned at entry, and System V sees the 8-byte phase shift
	// from the return address the call pushes.
	SPAlign uint64
}

// AlignStack returns sp adjusted to satisfy the ABI at the trampoline's
// call instruction.
func (a *Arch) AlignStack(sp uint64) uint64 {
	return sp &^ (a.SPAlign - 1)
}

// AMD64 is the x86_64 trampoline: four NOP landing bytes, `call *%rax`
// (System V: args in rdi/rsi, rax caller-saved), then the single-byte
// `int3` trap, NOP-padded to the window length.
var AMD64 = &Arch{
	Name: "amd64",
	Shellcode: [trampolineLen]byte{
		0x90, 0x90, 0x90, 0x90, // nop prologue
		0xff, 0xd0, // call *%rax
		0xcc,                                                 // int3
		0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, // pad
	},
	PC:      "pc",
	SP:      "sp",
	Arg0:    "rdi",
	Arg1:    "rsi",
	FnReg:   "rax",
	RetReg:  "rax",
	SPAlign: 16,
}

// ARM64 is the AArch64 trampoline: a NOP landing instruction, `blr x8`
// (AAPCS64: args in x0/x1, x8 as the indirect-call scratch register),
// then `brk #0`, NOP-padded. Instructions are little-endian A64 words.
var ARM64 = &Arch{
	Name: "arm64",
	Shellcode: [trampolineLen]byte{
		0x1f, 0x20, 0x03, 0xd5, // nop
		0x00, 0x01, 0x3f, 0xd6, // blr x8
		0x00, 0x00, 0x20, 0xd4, // brk #0
		0x1f, 0x20, 0x03, 0xd5, // nop pad
	},
	PC:      "pc",
	SP:      "sp",
	Arg0:    "x0",
	Arg1:    "x1",
	FnReg:   "x8",
	RetReg:  "x0",
	SPAlign: 16,
}

// ArchFor selects the Arch for a GOARCH string.
func ArchFor(goarch string) (*Arch, error) {
	switch goarch {
	case "amd64":
		return AMD64, nil
	case "arm64":
		return ARM64, nil
	default:
		return nil, fmt.Errorf("injector: unsupported architecture %q", goarch)
	}
}
