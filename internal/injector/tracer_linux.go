//go:build linux && (amd64 || arm64)

package injector

import (
	"fmt"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// linuxTracer is the production Tracer over the ptrace debug interface.
// All ptrace requests against one tracee must come from the thread that
// attached, so every call is funneled through a single locked OS thread
// worker.
type linuxTracer struct {
	arch *Arch
	ops  chan func()
	done chan struct{}
}

func newPlatformTracer(arch *Arch) Tracer {
	t := &linuxTracer{
		arch: arch,
		ops:  make(chan func()),
		done: make(chan struct{}),
	}
	go t.loop()
	return t
}

// loop pins a goroutine to one OS thread for the lifetime of the
// tracer, so the kernel sees a consistent tracer thread.
func (t *linuxTracer) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for op := range t.ops {
		op()
	}
	close(t.done)
}

// run executes fn on the tracer thread and waits for it.
func (t *linuxTracer) run(fn func() error) error {
	errCh := make(chan error, 1)
	t.ops <- func() { errCh <- fn() }
	return <-errCh
}

func (t *linuxTracer) Attach(pid int) error {
	return t.run(func() error { return unix.PtraceAttach(pid) })
}

func (t *linuxTracer) Detach(pid int) error {
	return t.run(func() error { return unix.PtraceDetach(pid) })
}

func (t *linuxTracer) Cont(pid int) error {
	return t.run(func() error { return unix.PtraceCont(pid, 0) })
}

func (t *linuxTracer) WaitStop(pid int) error {
	return t.waitSignal(pid, unix.SIGSTOP)
}

func (t *linuxTracer) WaitTrap(pid int) error {
	return t.waitSignal(pid, unix.SIGTRAP)
}

func (t *linuxTracer) waitSignal(pid int, want syscall.Signal) error {
	return t.run(func() error {
		var ws unix.WaitStatus
		for {
			if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
				if err == unix.EINTR {
					continue
				}
				return err
			}
			if ws.Exited() || ws.Signaled() {
				return fmt.Errorf("target %d exited while traced", pid)
			}
			if ws.Stopped() {
				sig := ws.StopSignal()
				if sig == want {
					return nil
				}
				// Forward unrelated stop signals and keep waiting.
				if err := unix.PtraceCont(pid, int(sig)); err != nil {
					return err
				}
			}
		}
	})
}

func (t *linuxTracer) SaveRegs(pid int) (RegState, error) {
	var st RegState
	err := t.run(func() error {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(pid, &regs); err != nil {
			return err
		}
		st = marshalRegs(&regs)
		return nil
	})
	return st, err
}

func (t *linuxTracer) RestoreRegs(pid int, st RegState) error {
	return t.run(func() error {
		regs, err := unmarshalRegs(st)
		if err != nil {
			return err
		}
		return unix.PtraceSetRegs(pid, regs)
	})
}

func (t *linuxTracer) Regs(pid int) (Regs, error) {
	var out Regs
	err := t.run(func() error {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(pid, &regs); err != nil {
			return err
		}
		out = regsToMap(&regs)
		return nil
	})
	return out, err
}

func (t *linuxTracer) SetRegs(pid int, named Regs) error {
	return t.run(func() error {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(pid, &regs); err != nil {
			return err
		}
		if err := applyRegMap(&regs, named); err != nil {
			return err
		}
		return unix.PtraceSetRegs(pid, &regs)
	})
}

func (t *linuxTracer) ReadMem(pid int, addr uint64, buf []byte) error {
	return t.run(func() error {
		n, err := unix.PtracePeekData(pid, uintptr(addr), buf)
		if err != nil {
			return err
		}
		if n < len(buf) {
			return fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, len(buf))
		}
		return nil
	})
}

// WriteMem performs the large-block memory write of the algorithm's
// step 6 through the debug interface.
func (t *linuxTracer) WriteMem(pid int, addr uint64, data []byte) error {
	return t.run(func() error {
		n, err := unix.PtracePokeData(pid, uintptr(addr), data)
		if err != nil {
			return err
		}
		if n < len(data) {
			return fmt.Errorf("short write at %#x: %d of %d bytes", addr, n, len(data))
		}
		return nil
	})
}

