package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// PidLister returns the pids of worker processes alive on this host.
type PidLister func(ctx context.Context) ([]int, error)

// ProcessPids lists processes whose command line mentions this executable
// or "resque".
func ProcessPids(ctx context.Context) ([]int, error) {
	names := []string{"resque"}
	if exe, err := os.Executable(); err == nil {
		names = append(names, filepath.Base(exe))
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			// Gone or not ours to inspect
			continue
		}
		for _, name := range names {
			if strings.Contains(cmdline, name) {
				pids = append(pids, int(p.Pid))
				break
			}
		}
	}
	return pids, nil
}

// StaticPids returns a lister that always reports pids.
func StaticPids(pids ...int) PidLister {
	return func(context.Context) ([]int, error) { return pids, nil }
}
