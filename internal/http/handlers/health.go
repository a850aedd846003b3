package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/storage"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	events    *bus.Bus
	store     *storage.Store
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, db *gorm.DB, events *bus.Bus, store *storage.Store) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		db:        db,
		events:    events,
		store:     store,
	}
}

// ComponentHealth is the status of one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BusHealth is the event bus status including its publish breaker.
type BusHealth struct {
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	BreakerState    string `json:"breaker_state"`
	BreakerFailures int    `json:"breaker_failures"`
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	Version       string  `json:"version"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	Load1         float64 `json:"load_1m,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`

	Components struct {
		Database ComponentHealth `json:"database"`
		Bus      BusHealth       `json:"bus"`
		Storage  ComponentHealth `json:"storage"`
	} `json:"components"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health of the service and its dependencies",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. The bus being down
// degrades the response but never fails it; streaming keeps working without
// live events.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}

	resp.Components.Database = h.databaseHealth(ctx)
	resp.Components.Bus = h.busHealth(ctx)
	resp.Components.Storage = h.storageHealth()

	if resp.Components.Database.Status != "ok" || resp.Components.Storage.Status != "ok" {
		resp.Status = "unhealthy"
	} else if resp.Components.Bus.Status != "ok" {
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) databaseHealth(ctx context.Context) ComponentHealth {
	if h.db == nil {
		return ComponentHealth{Status: "disabled"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return ComponentHealth{Status: "error", Error: err.Error()}
	}
	return ComponentHealth{Status: "ok"}
}

func (h *HealthHandler) busHealth(ctx context.Context) BusHealth {
	if h.events == nil {
		return BusHealth{Status: "disabled", BreakerState: "closed"}
	}
	stats := h.events.BreakerStats()
	bh := BusHealth{
		Status:          "ok",
		BreakerState:    stats.State,
		BreakerFailures: stats.Failures,
	}
	if err := h.events.Healthy(ctx); err != nil {
		bh.Status = "error"
		bh.Error = err.Error()
	}
	return bh
}

func (h *HealthHandler) storageHealth() ComponentHealth {
	if h.store == nil {
		return ComponentHealth{Status: "disabled"}
	}
	if err := h.store.Healthy(); err != nil {
		return ComponentHealth{Status: "error", Error: err.Error()}
	}
	return ComponentHealth{Status: "ok"}
}
