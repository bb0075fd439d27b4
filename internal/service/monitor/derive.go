package monitor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/ritikkashyap720/Server-monitor/internal/docker"
	"github.com/ritikkashyap720/Server-monitor/internal/domain"
)

// ErrMalformedInspect indicates the daemon returned an inspection record
// missing the fields detail derivation needs.
var ErrMalformedInspect = errors.New("monitor: malformed inspect record")

const shortIDLen = 12

// DeriveStats turns a raw daemon stats sample into normalized percentages.
// CPU is a rate over the daemon-retained previous sample and is clamped to
// [0,100]; memory percent is intentionally left unclamped because usage can
// exceed the reported cgroup limit between samples.
func DeriveStats(sample types.StatsJSON) (domain.ContainerStats, error) {
	if sample.Read.IsZero() {
		return domain.ContainerStats{}, fmt.Errorf("%w: empty sample", docker.ErrMalformedSample)
	}

	cpuDelta := float64(sample.CPUStats.CPUUsage.TotalUsage) - float64(sample.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(sample.CPUStats.SystemUsage) - float64(sample.PreCPUStats.SystemUsage)
	cores := len(sample.CPUStats.CPUUsage.PercpuUsage)
	if cores == 0 {
		cores = 1
	}

	cpuPercent := 0.0
	if sysDelta > 0 {
		cpuPercent = (cpuDelta / sysDelta) * 100 * float64(cores)
	}
	cpuPercent = math.Min(100, math.Max(0, cpuPercent))

	memUsage := sample.MemoryStats.Usage
	memLimit := sample.MemoryStats.Limit
	if memLimit == 0 {
		memLimit = 1
	}
	memPercent := float64(memUsage) / float64(memLimit) * 100

	stats := domain.ContainerStats{
		CPUPercent:    round2(cpuPercent),
		MemoryUsage:   memUsage,
		MemoryLimit:   memLimit,
		MemoryPercent: round2(memPercent),
	}
	if current := sample.PidsStats.Current; current > 0 {
		stats.PIDs = &current
	}
	return stats, nil
}

// DeriveDetail turns a raw inspection record into the detail shape. Uptime is
// computed against now and pinned at zero unless the container is running.
func DeriveDetail(inspect types.ContainerJSON, now time.Time) (domain.ContainerDetail, error) {
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return domain.ContainerDetail{}, fmt.Errorf("%w: missing state", ErrMalformedInspect)
	}

	detail := domain.ContainerDetail{
		ID:        inspect.ID,
		Name:      DisplayName(inspect.Name, inspect.ID),
		State:     inspect.State.Status,
		StartedAt: inspect.State.StartedAt,
		Running:   inspect.State.Running,
	}
	if inspect.Config != nil {
		detail.Image = inspect.Config.Image
	}
	if detail.Running && detail.StartedAt != "" {
		if started, err := time.Parse(time.RFC3339Nano, detail.StartedAt); err == nil && !started.IsZero() {
			if secs := int64(now.Sub(started).Seconds()); secs > 0 {
				detail.UptimeSeconds = secs
			}
		}
	}
	return detail, nil
}

// DisplayName strips the daemon's leading path separator from a container
// name, falling back to the short id when no name is available.
func DisplayName(rawName, id string) string {
	name := strings.TrimPrefix(rawName, "/")
	if name != "" {
		return name
	}
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
