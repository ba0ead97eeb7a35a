package controlplane

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// CPUCoreTicks is one core's user/system/idle tick reading (spec.md §4.11:
// "per-core CPU ticks split user/system/idle").
type CPUCoreTicks struct {
	Core        string  `json:"core"`
	UserTicks   float64 `json:"user_ticks"`
	SystemTicks float64 `json:"system_ticks"`
	IdleTicks   float64 `json:"idle_ticks"`
}

// Snapshot is one telemetry reading for a host (spec.md §4.11). Only the
// fields relevant to the requested `q` are populated; the rest stay zero.
type Snapshot struct {
	Query string `json:"query"`

	PerCoreCPU []CPUCoreTicks `json:"per_core_cpu,omitempty"`

	MemTotalBytes uint64 `json:"mem_total_bytes,omitempty"`
	MemUsedBytes  uint64 `json:"mem_used_bytes,omitempty"`

	DiskTotalBytes uint64 `json:"disk_total_bytes,omitempty"`
	DiskUsedBytes  uint64 `json:"disk_used_bytes,omitempty"`

	NetBytesSent uint64 `json:"net_bytes_sent,omitempty"`
	NetBytesRecv uint64 `json:"net_bytes_recv,omitempty"`
}

// Delta returns s minus baseline for the counters that are monotonic
// (cpu ticks, network byte counters), used when the caller passes a non-empty
// `v` query parameter (spec.md §4.11). The baseline is the previous sample
// this Server recorded for the same hostname and query; the value of `v`
// itself is not parsed.
func (s Snapshot) Delta(baseline Snapshot) Snapshot {
	d := s
	d.PerCoreCPU = deltaPerCoreCPU(s.PerCoreCPU, baseline.PerCoreCPU)
	d.NetBytesSent = subUint64(s.NetBytesSent, baseline.NetBytesSent)
	d.NetBytesRecv = subUint64(s.NetBytesRecv, baseline.NetBytesRecv)
	return d
}

// deltaPerCoreCPU subtracts baseline's ticks from cur's, matched by Core
// label; a core present in cur but absent from baseline (e.g. hot-added)
// passes through unchanged.
func deltaPerCoreCPU(cur, baseline []CPUCoreTicks) []CPUCoreTicks {
	if len(baseline) == 0 {
		return cur
	}
	prev := make(map[string]CPUCoreTicks, len(baseline))
	for _, c := range baseline {
		prev[c.Core] = c
	}
	out := make([]CPUCoreTicks, len(cur))
	for i, c := range cur {
		b, ok := prev[c.Core]
		if !ok {
			out[i] = c
			continue
		}
		out[i] = CPUCoreTicks{
			Core:        c.Core,
			UserTicks:   c.UserTicks - b.UserTicks,
			SystemTicks: c.SystemTicks - b.SystemTicks,
			IdleTicks:   c.IdleTicks - b.IdleTicks,
		}
	}
	return out
}

func subUint64(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func sampleCPU() (Snapshot, error) {
	stats, err := cpu.Times(true)
	if err != nil {
		return Snapshot{}, err
	}
	cores := make([]CPUCoreTicks, len(stats))
	for i, t := range stats {
		cores[i] = CPUCoreTicks{Core: t.CPU, UserTicks: t.User, SystemTicks: t.System, IdleTicks: t.Idle}
	}
	return Snapshot{Query: "cpu", PerCoreCPU: cores}, nil
}

func sampleMemory() (Snapshot, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Query: "memory", MemTotalBytes: v.Total, MemUsedBytes: v.Used}, nil
}

func sampleDisk() (Snapshot, error) {
	u, err := disk.Usage("/")
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Query: "disk", DiskTotalBytes: u.Total, DiskUsedBytes: u.Used}, nil
}

func sampleNetwork() (Snapshot, error) {
	counters, err := net.IOCounters(false)
	if err != nil {
		return Snapshot{}, err
	}
	if len(counters) == 0 {
		return Snapshot{Query: "network"}, nil
	}
	c := counters[0]
	return Snapshot{Query: "network", NetBytesSent: c.BytesSent, NetBytesRecv: c.BytesRecv}, nil
}
