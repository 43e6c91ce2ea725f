package injector

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procResolver answers address-space questions by walking
// /proc/<pid>/maps and reading the mapped ELF files from disk. The
// "already loaded" check is a maps scan for the agent library's
// resolved path rather than a remote symbol-table walk, which would
// need peek loops over the whole text segment.
type procResolver struct{}

func newProcResolver() Resolver { return procResolver{} }

// mapping is one parsed line of /proc/<pid>/maps.
type mapping struct {
	start, end uint64
	perms      string
	offset     uint64
	path       string
}

func readMappings(pid int) ([]mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrs[0], 16, 64)
		end, err2 := strconv.ParseUint(addrs[1], 16, 64)
		offset, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		m := mapping{start: start, end: end, perms: fields[1], offset: offset}
		if len(fields) >= 6 {
			m.path = fields[5]
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

func (procResolver) AgentLoaded(pid int, libPath string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(libPath)
	if err != nil {
		resolved = libPath
	}
	maps, err := readMappings(pid)
	if err != nil {
		return false, err
	}
	base := filepath.Base(resolved)
	for _, m := range maps {
		if m.path == "" {
			continue
		}
		if m.path == resolved || filepath.Base(m.path) == base {
			return true, nil
		}
	}
	return false, nil
}

// ExecTextBase returns the start of the main executable's first
// executable mapping.
func (procResolver) ExecTextBase(pid int) (uint64, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return 0, err
	}
	maps, err := readMappings(pid)
	if err != nil {
		return 0, err
	}
	for _, m := range maps {
		if m.path == exe && strings.Contains(m.perms, "x") {
			return m.start, nil
		}
	}
	// Fall back to any executable mapping (static or unusual layouts).
	for _, m := range maps {
		if strings.Contains(m.perms, "x") && m.path != "" {
			return m.start, nil
		}
	}
	return 0, fmt.Errorf("no executable mapping in pid %d", pid)
}

func (procResolver) DlopenAddr(pid int) (uint64, error) {
	return resolveLibcSymbol(pid, "dlopen", "__libc_dlopen_mode")
}

func (procResolver) DlerrorAddr(pid int) (uint64, error) {
	return resolveLibcSymbol(pid, "dlerror")
}

// ScratchAddr returns the start of the main executable's first private
// writable mapping: large enough for a path string, saved and restored
// around the loader call, and not consulted by the loader itself while
// the call runs.
func (procResolver) ScratchAddr(pid int, size int) (uint64, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return 0, err
	}
	maps, err := readMappings(pid)
	if err != nil {
		return 0, err
	}
	for _, m := range maps {
		if m.path == exe && strings.HasPrefix(m.perms, "rw") && strings.HasSuffix(m.perms, "p") && m.end-m.start >= uint64(size) {
			return m.start, nil
		}
	}
	for _, m := range maps {
		if strings.HasPrefix(m.perms, "rw") && m.path != "" && m.end-m.start >= uint64(size) {
			return m.start, nil
		}
	}
	return 0, fmt.Errorf("no writable mapping of %d bytes in pid %d", size, pid)
}

// resolveLibcSymbol locates the libc image mapped into pid, parses it
// from disk, and returns the runtime address of the first of names
// found in its dynamic symbol table.
func resolveLibcSymbol(pid int, names ...string) (uint64, error) {
	maps, err := readMappings(pid)
	if err != nil {
		return 0, err
	}
	var libc string
	var base uint64
	for _, m := range maps {
		if m.path == "" {
			continue
		}
		b := filepath.Base(m.path)
		if strings.HasPrefix(b, "libc.so") || strings.HasPrefix(b, "libc-") {
			if libc == "" {
				libc = m.path
				base = m.start
			}
		}
	}
	if libc == "" {
		return 0, fmt.Errorf("no libc mapping in pid %d", pid)
	}

	f, err := elf.Open(libc)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", libc, err)
	}
	defer f.Close()

	// The mapping base corresponds to the image's lowest PT_LOAD vaddr.
	var minVaddr uint64 = ^uint64(0)
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr < minVaddr {
			minVaddr = p.Vaddr
		}
	}
	if minVaddr == ^uint64(0) {
		minVaddr = 0
	}

	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, fmt.Errorf("read dynamic symbols of %s: %w", libc, err)
	}
	for _, name := range names {
		for _, sym := range syms {
			if sym.Name == name && sym.Value != 0 {
				return base - minVaddr + sym.Value, nil
			}
		}
	}
	return 0, fmt.Errorf("none of %v found in %s", names, libc)
}
