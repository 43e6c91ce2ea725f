//go:build linux && amd64

package injector

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// marshalRegs snapshots the full user_regs_struct so RestoreRegs can
// reinstate every register, not just the ones the trampoline touches.
func marshalRegs(regs *unix.PtraceRegs) RegState {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, regs)
	return buf.Bytes()
}

func unmarshalRegs(st RegState) (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := binary.Read(bytes.NewReader(st), binary.LittleEndian, &regs); err != nil {
		return nil, fmt.Errorf("decode register snapshot: %w", err)
	}
	return &regs, nil
}

// regsToMap exposes the registers the injection algorithm names.
func regsToMap(regs *unix.PtraceRegs) Regs {
	return Regs{
		"pc":  regs.Rip,
		"sp":  regs.Rsp,
		"rdi": regs.Rdi,
		"rsi": regs.Rsi,
		"rax": regs.Rax,
	}
}

func applyRegMap(regs *unix.PtraceRegs, named Regs) error {
	for name, value := range named {
		switch name {
		case "pc":
			regs.Rip = value
		case "sp":
			regs.Rsp = value
		case "rdi":
			regs.Rdi = value
		case "rsi":
			regs.Rsi = value
		case "rax":
			regs.Rax = value
		default:
			return fmt.Errorf("unknown amd64 register %q", name)
		}
	}
	return nil
}
