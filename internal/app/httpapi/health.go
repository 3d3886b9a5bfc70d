package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/R3E-Network/imagebulk/internal/httputil"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type healthHandler struct {
	started    time.Time
	version    string
	archiveDir string
	db         Pinger
}

type healthResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Database      string     `json:"database,omitempty"`
	ArchiveVolume *diskUsage `json:"archive_volume,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

type diskUsage struct {
	Path        string  `json:"path"`
	FreeBytes   uint64  `json:"free_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC(),
	}

	if h.archiveDir != "" {
		if usage, err := disk.UsageWithContext(r.Context(), h.archiveDir); err == nil {
			resp.ArchiveVolume = &diskUsage{
				Path:        h.archiveDir,
				FreeBytes:   usage.Free,
				TotalBytes:  usage.Total,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	status := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	httputil.WriteJSON(w, status, resp)
}
