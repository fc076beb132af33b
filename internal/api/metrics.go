package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats загрузка процесса и хоста
type HostStats struct {
	Uptime        string  `json:"uptime"`
	ProcessCPU    float64 `json:"process_cpu_percent"`
	ProcessRSSMB  float64 `json:"process_rss_mb"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	Goroutines    int     `json:"goroutines"`
	HostMemTotal  uint64  `json:"host_mem_total_mb"`
	HostMemUsedPc float64 `json:"host_mem_used_percent"`
	HostCPU       float64 `json:"host_cpu_percent"`
}

// ServerMetrics снимает HostStats через gopsutil
type ServerMetrics struct {
	StartTime time.Time
}

func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{StartTime: time.Now()}
}

// GetUptime время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// Collect собирает статистику; недоступные метрики остаются нулевыми
func (sm *ServerMetrics) Collect() HostStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := HostStats{
		Uptime:      sm.GetUptime(),
		HeapAllocMB: float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines:  runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pc, err := proc.CPUPercent(); err == nil {
			st.ProcessCPU = pc
		}
		if info, err := proc.MemoryInfo(); err == nil {
			st.ProcessRSSMB = float64(info.RSS) / 1024 / 1024
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.HostMemTotal = vm.Total / 1024 / 1024
		st.HostMemUsedPc = vm.UsedPercent
	}
	// без интервала: процент с прошлого вызова, запрос не блокируется
	if pcs, err := cpu.Percent(0, false); err == nil && len(pcs) > 0 {
		st.HostCPU = pcs[0]
	}
	return st
}
