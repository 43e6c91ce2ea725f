package injector

import (
	"errors"
	"os"
	"syscall"

	"github.com/reiase/probing/internal/proto"
)

// classifyAttachError maps an attach failure onto the wire error
// taxonomy: tracer privilege denied is surfaced distinctly from a
// missing target.
func classifyAttachError(pid int, err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return proto.NewError(proto.ErrPermission, "attach to %d: %v", pid, err)
	case errors.Is(err, syscall.ESRCH):
		return proto.NewError(proto.ErrTargetUnreachable, "target %d not found", pid)
	default:
		return proto.NewError(proto.ErrTargetUnreachable, "attach to %d: %v", pid, err)
	}
}
