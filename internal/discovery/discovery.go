// Package discovery publishes and enumerates the per-user directory of
// injected processes: one JSON file per pid recording the agent's bound
// endpoint, written at bootstrap and removed at teardown.
package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/reiase/probing/internal/config"
)

// Entry is the discovery record one agent publishes.
type Entry struct {
	PID        int    `json:"pid"`
	SocketPath string `json:"socket_path"`
	TCPPort    int    `json:"tcp_port,omitempty"`
}

// Endpoint returns the dialable endpoint address: the unix socket path,
// or "tcp:127.0.0.1:<port>" when only a TCP endpoint is bound.
func (e Entry) Endpoint() string {
	if e.SocketPath != "" {
		return e.SocketPath
	}
	return fmt.Sprintf("tcp:127.0.0.1:%d", e.TCPPort)
}

// Publish writes the discovery file for e, creating the per-user
// directory on first use.
func Publish(e Entry) error {
	dir := config.DiscoveryDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("discovery: create %s: %w", dir, err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("discovery: encode entry: %w", err)
	}
	path := config.DiscoveryFilePath(e.PID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("discovery: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Remove deletes pid's discovery file. A missing file is not an error;
// teardown may race an explicit removal.
func Remove(pid int) error {
	err := os.Remove(config.DiscoveryFilePath(pid))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Lookup reads pid's discovery entry.
func Lookup(pid int) (Entry, error) {
	data, err := os.ReadFile(config.DiscoveryFilePath(pid))
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("discovery: decode entry for pid %d: %w", pid, err)
	}
	return e, nil
}

// List enumerates every discovery entry, sorted by pid. Entries whose
// process is gone are pruned as they are encountered, so the listing
// self-heals after unclean process exits.
func List() ([]Entry, error) {
	dir := config.DiscoveryDir()
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		e, err := Lookup(pid)
		if err != nil {
			continue
		}
		if !processAlive(pid) {
			Remove(pid)
			os.Remove(filepath.Join(dir, strconv.Itoa(pid)+".sock"))
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

