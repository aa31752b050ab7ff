package worker

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tuis-oj/judgenode/internal/dispatcher"
)

// memoryFootprint is the node-wide memory state sampled from /proc/meminfo.
// All sizes are in bytes.
type memoryFootprint struct {
	totalPhysical uint64
	freePhysical  uint64
	totalSwap     uint64
	freeSwap      uint64
	cachedSwap    uint64
}

// readMemInfo parses the labeled kB fields of /proc/meminfo.
func readMemInfo(path string) (memoryFootprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return memoryFootprint{}, fmt.Errorf("worker: open meminfo: %w", err)
	}
	defer f.Close()

	fields := map[string]*uint64{}
	var fp memoryFootprint
	fields["MemTotal"] = &fp.totalPhysical
	fields["MemFree"] = &fp.freePhysical
	fields["SwapTotal"] = &fp.totalSwap
	fields["SwapFree"] = &fp.freeSwap
	fields["SwapCached"] = &fp.cachedSwap

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		dest, wanted := fields[name]
		if !wanted {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) == 0 {
			continue
		}
		kb, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		*dest = kb * 1024
	}
	if err := scanner.Err(); err != nil {
		return memoryFootprint{}, fmt.Errorf("worker: read meminfo: %w", err)
	}
	return fp, nil
}

// newHeartbeat samples the node's current state into a heartbeat packet.
func newHeartbeat() (dispatcher.Heartbeat, error) {
	fp, err := readMemInfo("/proc/meminfo")
	if err != nil {
		return dispatcher.Heartbeat{}, err
	}
	return dispatcher.Heartbeat{
		Timestamp:           time.Now().Unix(),
		Cores:               uint32(runtime.NumCPU()),
		TotalPhysicalMemory: fp.totalPhysical,
		FreePhysicalMemory:  fp.freePhysical,
		TotalSwapSpace:      fp.totalSwap,
		FreeSwapSpace:       fp.freeSwap,
		CachedSwapSpace:     fp.cachedSwap,
	}, nil
}
