// Package hoststats reads CPU and memory usage of the machine running the
// monitor, shown next to the engine's own numbers.
package hoststats

import (
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host is one reading of the local machine.
type Host struct {
	CPU        float64 `json:"cpu"` // percent 0-100
	MemUsed    uint64  `json:"memUsed"`
	MemTotal   uint64  `json:"memTotal"`
	MemPercent float64 `json:"memPercent"`
}

// Reader computes CPU usage from the delta between successive calls.
type Reader struct {
	mu        sync.Mutex
	prevTotal float64
	prevIdle  float64

	times  func(percpu bool) ([]cpu.TimesStat, error)
	memory func() (*mem.VirtualMemoryStat, error)
}

func NewReader() *Reader {
	return &Reader{times: cpu.Times, memory: mem.VirtualMemory}
}

// Read returns the current reading. CPU is zero on the first call.
func (r *Reader) Read() (Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var h Host
	times, err := r.times(false)
	if err != nil {
		return h, err
	}
	if len(times) > 0 {
		cur := times[0]
		curTotal := cur.Total()
		curIdle := cur.Idle + cur.Iowait
		if r.prevTotal > 0 {
			dt := curTotal - r.prevTotal
			di := curIdle - r.prevIdle
			if dt > 0 {
				h.CPU = 100 * (1 - di/dt)
			}
		}
		r.prevTotal, r.prevIdle = curTotal, curIdle
	}

	vm, err := r.memory()
	if err != nil {
		return h, err
	}
	h.MemUsed, h.MemTotal, h.MemPercent = vm.Used, vm.Total, vm.UsedPercent
	return h, nil
}
