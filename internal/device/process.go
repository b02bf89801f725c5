package device

import (
	"context"
	"fmt"
	"strings"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTable is the OS process view the lifecycles need.
type ProcessTable interface {
	PidsByName(ctx context.Context, name string) ([]int32, error)
	// ListeningPid returns the pid listening on the TCP port, or 0.
	ListeningPid(ctx context.Context, port uint32) (int32, error)
	// AncestorByName walks up from pid and returns the first ancestor whose
	// name starts with prefix, or 0.
	AncestorByName(ctx context.Context, pid int32, prefix string) (int32, error)
	Kill(ctx context.Context, pid int32) error
}

// SystemProcesses implements ProcessTable with gopsutil.
type SystemProcesses struct{}

func (SystemProcesses) PidsByName(ctx context.Context, name string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var pids []int32
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if matchesName(n, name) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

func (SystemProcesses) ListeningPid(ctx context.Context, port uint32) (int32, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, fmt.Errorf("list connections: %w", err)
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == port {
			return c.Pid, nil
		}
	}
	return 0, nil
}

func (SystemProcesses) AncestorByName(ctx context.Context, pid int32, prefix string) (int32, error) {
	seen := map[int32]bool{}
	for pid > 0 && !seen[pid] {
		seen[pid] = true
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			return 0, nil
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil || ppid <= 0 {
			return 0, nil
		}
		parent, err := process.NewProcessWithContext(ctx, ppid)
		if err != nil {
			return 0, nil
		}
		name, err := parent.NameWithContext(ctx)
		if err == nil && strings.HasPrefix(name, prefix) {
			return ppid, nil
		}
		pid = ppid
	}
	return 0, nil
}

func (SystemProcesses) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	return p.KillWithContext(ctx)
}

// matchesName compares names ignoring an ".exe" suffix and case.
func matchesName(actual, want string) bool {
	trim := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(s), ".exe")
	}
	return trim(actual) == trim(want)
}
