//go:build !linux || (!amd64 && !arm64)

package injector

import "github.com/reiase/probing/internal/proto"

// unsupportedTracer stands in on platforms without a ptrace-style debug
// interface wired up; every operation reports Unsupported.
type unsupportedTracer struct{}

func newPlatformTracer(*Arch) Tracer { return unsupportedTracer{} }

func (unsupportedTracer) err() error {
	return proto.NewError(proto.ErrUnsupported, "injector: no tracer backend on this platform")
}

func (t unsupportedTracer) Attach(int) error                   { return t.err() }
func (t unsupportedTracer) Detach(int) error                   { return t.err() }
func (t unsupportedTracer) Cont(int) error                     { return t.err() }
func (t unsupportedTracer) WaitStop(int) error                 { return t.err() }
func (t unsupportedTracer) WaitTrap(int) error                 { return t.err() }
func (t unsupportedTracer) SaveRegs(int) (RegState, error)     { return nil, t.err() }
func (t unsupportedTracer) RestoreRegs(int, RegState) error    { return t.err() }
func (t unsupportedTracer) Regs(int) (Regs, error)             { return nil, t.err() }
func (t unsupportedTracer) SetRegs(int, Regs) error            { return t.err() }
func (t unsupportedTracer) ReadMem(int, uint64, []byte) error  { return t.err() }
func (t unsupportedTracer) WriteMem(int, uint64, []byte) error { return t.err() }
