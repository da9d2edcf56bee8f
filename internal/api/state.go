package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetlink/internal/device"
	"github.com/nerrad567/fleetlink/internal/realtime"
)

// deviceStateResponse is the body of GET /api/v1/state/{deviceId}. State
// is null for a device the server has not heard from.
type deviceStateResponse struct {
	DeviceID string         `json:"deviceId"`
	State    *device.Record `json:"state"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Status   string `json:"status"`
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
}

// handleGetState returns the viewer snapshot of every device.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, realtime.StatePayload{
		Devices:   snap.Views(),
		Timestamp: snap.TakenAt.UnixMilli(),
	})
}

// handleGetDeviceState returns the full record for one device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceId")

	resp := deviceStateResponse{DeviceID: id}
	if rec, ok := s.store.Get(id); ok {
		resp.State = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeviceCommand relays a command to a device over MQTT.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceId")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd, err := device.ParseCommand(req.Command)
	if err != nil {
		writeBadRequest(w, "command must be one of: on, off, toggle")
		return
	}
	if s.relay == nil {
		writeServiceUnavailable(w, "command relay unavailable")
		return
	}

	if err := s.relay.Relay(r.Context(), id, cmd); err != nil {
		if errors.Is(err, device.ErrInvalidID) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Warn("command relay failed",
			"device_id", id,
			"command", cmd,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeServiceUnavailable(w, "command could not be delivered")
		return
	}

	writeJSON(w, http.StatusAccepted, commandResponse{
		Status:   "accepted",
		DeviceID: id,
		Command:  string(cmd),
	})
}
