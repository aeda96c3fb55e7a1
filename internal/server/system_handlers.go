package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/fairvalue/internal/database"
)

// SystemHandlers serves process and database health information.
type SystemHandlers struct {
	dataDir   string
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewSystemHandlers creates the system status handlers.
func NewSystemHandlers(dataDir string, databases map[string]*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:   dataDir,
		databases: databases,
		log:       log.With().Str("component", "system").Logger(),
	}
}

type databaseStatus struct {
	Healthy   bool    `json:"healthy"`
	Error     string  `json:"error,omitempty"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
}

type systemStatus struct {
	Status        string                    `json:"status"`
	CPUPercent    float64                   `json:"cpu_percent"`
	MemoryPercent float64                   `json:"memory_percent"`
	MemoryUsedMB  float64                   `json:"memory_used_mb"`
	Databases     map[string]databaseStatus `json:"databases"`
	CheckedAt     time.Time                 `json:"checked_at"`
}

// HandleStatus reports CPU, memory, and per-database health.
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := systemStatus{
		Status:    "ok",
		Databases: make(map[string]databaseStatus),
		CheckedAt: time.Now().UTC(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.MemoryPercent = vm.UsedPercent
		status.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	}

	for name, db := range h.databases {
		ds := databaseStatus{Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			ds.Healthy = false
			ds.Error = err.Error()
			status.Status = "degraded"
		}
		if info, err := os.Stat(filepath.Join(h.dataDir, filepath.Base(db.Path()))); err == nil {
			ds.SizeBytes = info.Size()
			ds.SizeMB = float64(info.Size()) / 1024 / 1024
		}
		status.Databases[name] = ds
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode status response")
	}
}
