//go:build !windows

package proc

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// getProcStartUnix returns the start time of pid as Unix seconds, or 0 when it
// cannot be determined. The value anchors the lock file so a recycled PID is
// not mistaken for a live supervisor.
func getProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return startUnixFromProc(pid)
	}
	// Darwin/BSD: gopsutil reads the kernel's process table via sysctl.
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// startUnixFromProc computes boot time + starttime ticks from /proc without
// spawning anything.
func startUnixFromProc(pid int) int64 {
	ticks := readStartTicks(pid)
	if ticks <= 0 {
		return 0
	}
	btime := readBootTime()
	if btime <= 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + ticks/int64(clk)
}

// readStartTicks extracts starttime (field 22) from /proc/[pid]/stat. The comm
// field may contain spaces, so fields are counted after the closing paren.
func readStartTicks(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat") // #nosec G304 fixed /proc path
	if err != nil {
		return 0
	}
	// comm itself may contain ") "; the real terminator is the last occurrence
	i := strings.LastIndex(string(b), ") ")
	if i < 0 {
		return 0
	}
	fields := strings.Fields(string(b)[i+2:])
	// rest starts at field 3 (state), so starttime sits at index 19
	if len(fields) < 20 {
		return 0
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0
	}
	return ticks
}

// readBootTime returns the btime line of /proc/stat as Unix seconds.
func readBootTime() int64 {
	b, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(b), "\n") {
		if v, ok := strings.CutPrefix(line, "btime "); ok {
			bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return 0
			}
			return bt
		}
	}
	return 0
}
