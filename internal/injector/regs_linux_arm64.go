//go:build linux && arm64

package injector

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

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

func regsToMap(regs *unix.PtraceRegs) Regs {
	return Regs{
		"pc": regs.Pc,
		"sp": regs.Sp,
		"x0": regs.Regs[0],
		"x1": regs.Regs[1],
		"x8": regs.Regs[8],
	}
}

func applyRegMap(regs *unix.PtraceRegs, named Regs) error {
	for name, value := range named {
		switch name {
		case "pc":
			regs.Pc = value
		case "sp":
			regs.Sp = value
		case "x0":
			regs.Regs[0] = value
		case "x1":
			regs.Regs[1] = value
		case "x8":
			regs.Regs[8] = value
		default:
			return fmt.Errorf("unknown arm64 register %q", name)
		}
	}
	return nil
}
