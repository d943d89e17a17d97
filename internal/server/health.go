package server

import (
	"context"
	"net/http"
	"time"

	"github.com/mj1618/droid-order/internal/output"
)

// HealthResponse is served at /health.
type HealthResponse struct {
	Status   string           `json:"status"`
	Device   DeviceHealth     `json:"device"`
	Task     *TaskHealth      `json:"task,omitempty"`
	Failures map[string]int64 `json:"failures,omitempty"`
}

// DeviceHealth reports whether the device answers.
type DeviceHealth struct {
	Available  bool   `json:"available"`
	DeviceName string `json:"device_name,omitempty"`
}

// TaskHealth describes the task in flight.
type TaskHealth struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	RunningFor  string `json:"running_for"`
}

// Health gathers the health report. Checking the device may
// reconnect it.
func (s *Server) Health(ctx context.Context) HealthResponse {
	resp := HealthResponse{Status: "healthy"}
	if s.dev.Connect(ctx) {
		resp.Device.Available = true
		if info, err := s.dev.Info(ctx); err == nil {
			resp.Device.DeviceName = info.Name
		}
	} else {
		resp.Status = "degraded"
	}
	if h, ok := s.tasks.Current(); ok {
		resp.Task = &TaskHealth{
			ID:          h.ID,
			Description: h.Description,
			RunningFor:  time.Since(h.StartedAt).Round(time.Millisecond).String(),
		}
	}
	if s.opts.Stats != nil {
		resp.Failures = s.opts.Stats.Snapshot()
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := output.Fprint(w, output.FormatJSON, s.Health(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
