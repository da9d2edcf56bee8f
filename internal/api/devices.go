package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetlink/internal/device"
	"github.com/nerrad567/fleetlink/internal/proxy"
)

// handleDirectState proxies GET /state to the device at {ip}.
func (s *Server) handleDirectState(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	resp, err := s.proxy.State(r.Context(), ip)
	s.writeProxyResult(w, r, ip, resp, err)
}

// handleDirectCommand proxies POST /{action} to the device at {ip}.
func (s *Server) handleDirectCommand(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	cmd, err := device.ParseCommand(chi.URLParam(r, "action"))
	if err != nil {
		writeNotFound(w, "unknown device action")
		return
	}
	resp, err := s.proxy.Send(r.Context(), ip, cmd)
	s.writeProxyResult(w, r, ip, resp, err)
}

func (s *Server) writeProxyResult(w http.ResponseWriter, r *http.Request, ip string, resp *proxy.Response, err error) {
	switch {
	case errors.Is(err, proxy.ErrInvalidAddress):
		writeBadRequest(w, "device address must be an IPv4 address")
		return
	case err != nil:
		s.logger.Warn("device unreachable",
			"ip", ip,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeBadGateway(w, "failed to communicate with device")
		return
	}

	ct := resp.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(resp.Body)
}
