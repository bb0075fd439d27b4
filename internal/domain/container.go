package domain

// ContainerSummary is one row of the running-container listing, rebuilt
// wholesale on every refresh.
type ContainerSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	Status  string `json:"status"`
	State   string `json:"state"`
	Created int64  `json:"created"`
}

// ContainerDetail is the derived view of one inspected container.
// UptimeSeconds is computed at read time and never persisted.
type ContainerDetail struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	State         string `json:"state"`
	StartedAt     string `json:"startedAt"`
	Running       bool   `json:"running"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// ContainerStats is a derived point-in-time resource sample. CPUPercent is
// clamped to [0,100]; MemoryPercent deliberately is not, since usage can
// overshoot the cgroup limit between samples.
type ContainerStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
	PIDs          *uint64 `json:"pids"`
}

// Snapshot is one consolidated broadcast payload. Details and Stats are keyed
// by container id; an entry is absent when the corresponding runtime call
// failed for that container this tick.
type Snapshot struct {
	Type    string                     `json:"type"`
	List    []ContainerSummary         `json:"list"`
	Details map[string]ContainerDetail `json:"details"`
	Stats   map[string]ContainerStats  `json:"stats"`
}
