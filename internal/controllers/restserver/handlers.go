package restserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sinkbot-iot/sinkbot/internal/monitor"
	"github.com/sinkbot-iot/sinkbot/internal/repository"
	"github.com/sinkbot-iot/sinkbot/internal/thresholds"
	"github.com/sinkbot-iot/sinkbot/internal/types"
	"github.com/sinkbot-iot/sinkbot/pkg/responseformat"
)

// DefaultDeviceID is assumed for payloads that do not name their device
const DefaultDeviceID = "SB-001"

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// ReadingPayload is the body of POST /data. Pointers distinguish a missing
// value from zero.
type ReadingPayload struct {
	DeviceID  string     `json:"device_id"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	X         *float64   `json:"x"`
	Y         *float64   `json:"y"`
	Z         *float64   `json:"z"`
	TiltX     *float64   `json:"tilt_x"`
	TiltY     *float64   `json:"tilt_y"`
	Battery   *float64   `json:"battery"`
}

// toReading applies payload defaults and rejects missing measurements
func (p ReadingPayload) toReading() (types.Reading, error) {
	r := types.Reading{DeviceID: p.DeviceID, Battery: types.DefaultBattery}
	if r.DeviceID == "" {
		r.DeviceID = DefaultDeviceID
	}
	if p.Timestamp != nil {
		r.Timestamp = p.Timestamp.UTC()
	}
	if p.Battery != nil {
		r.Battery = *p.Battery
	}

	required := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"x", p.X, &r.X},
		{"y", p.Y, &r.Y},
		{"z", p.Z, &r.Z},
		{"tilt_x", p.TiltX, &r.TiltX},
		{"tilt_y", p.TiltY, &r.TiltY},
	}
	for _, f := range required {
		if f.src == nil {
			return types.Reading{}, &types.DataValidationError{DeviceID: r.DeviceID, Field: f.name, Reason: "missing"}
		}
		*f.dst = *f.src
	}

	return r, nil
}

// ThresholdsPayload is the body of PUT /api/devices/{id}/thresholds
type ThresholdsPayload struct {
	Tier1 float64 `json:"tier1"`
	Tier2 float64 `json:"tier2"`
	Tier3 float64 `json:"tier3"`
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Healthy"))
}

// ReceiveData stores a reading posted by a field agent
func (h *Handlers) ReceiveData(w http.ResponseWriter, req *http.Request) {
	var payload ReadingPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	r, err := payload.toReading()
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	if err := h.controller.monitor.Ingest(req.Context(), &r); err != nil {
		h.writeError(w, req, err)
		return
	}

	h.formatter.WriteResponse(w, req, http.StatusCreated, map[string]string{
		"status":    "success",
		"device_id": r.DeviceID,
	})
}

// ListDevices lists devices with stored readings
func (h *Handlers) ListDevices(w http.ResponseWriter, req *http.Request) {
	ids, err := h.controller.monitor.Devices(req.Context())
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, map[string]any{"devices": ids})
}

// GetDeviceStatus returns the device's current assessment
func (h *Handlers) GetDeviceStatus(w http.ResponseWriter, req *http.Request) {
	a, err := h.controller.monitor.Assess(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, a)
}

// GetDeviceFeatures returns the device's feature history for charting
func (h *Handlers) GetDeviceFeatures(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	series, err := h.controller.monitor.Series(req.Context(), id)
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, map[string]any{
		"device_id": id,
		"features":  series,
	})
}

// GetThresholds returns the device's active threshold profile
func (h *Handlers) GetThresholds(w http.ResponseWriter, req *http.Request) {
	p, err := h.controller.monitor.Registry().Profile(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, p)
}

// UpdateThresholds replaces the device's threshold profile
func (h *Handlers) UpdateThresholds(w http.ResponseWriter, req *http.Request) {
	var payload ThresholdsPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	p := thresholds.Profile{
		DeviceID: mux.Vars(req)["id"],
		Tier1:    payload.Tier1,
		Tier2:    payload.Tier2,
		Tier3:    payload.Tier3,
	}
	if err := h.controller.monitor.Registry().Update(req.Context(), p); err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, p)
}

// GetModel returns the anomaly model status and training progress
func (h *Handlers) GetModel(w http.ResponseWriter, req *http.Request) {
	progress, err := h.controller.monitor.Model(req.Context())
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, progress)
}

// Reset clears readings and the model for one device, or for every device
// when device_id is not given
func (h *Handlers) Reset(w http.ResponseWriter, req *http.Request) {
	deviceID := req.URL.Query().Get("device_id")
	if err := h.controller.monitor.Reset(req.Context(), deviceID); err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, map[string]string{
		"status":    "reset",
		"device_id": deviceID,
	})
}

// writeError maps the error taxonomy onto status codes
func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, err error) {
	var validationErr *types.DataValidationError
	var configErr *thresholds.ConfigError

	switch {
	case errors.As(err, &validationErr):
		h.formatter.WriteError(w, req, http.StatusBadRequest, "Invalid reading", err)
	case errors.As(err, &configErr):
		h.formatter.WriteError(w, req, http.StatusBadRequest, "Invalid threshold profile", err)
	case errors.Is(err, monitor.ErrUnknownDevice):
		h.formatter.WriteError(w, req, http.StatusNotFound, "Unknown device", err)
	case repository.IsStorageError(err):
		h.controller.logger.Errorf("storage failure serving %s: %v", req.URL.Path, err)
		h.formatter.WriteError(w, req, http.StatusServiceUnavailable, "Storage unavailable", err)
	default:
		h.controller.logger.Errorf("error serving %s: %v", req.URL.Path, err)
		h.formatter.WriteError(w, req, http.StatusInternalServerError, "Internal error", err)
	}
}
