package httpserver

import (
	"net/http"

	"github.com/Anivie/gpt-cat/internal/httpserver/protocol"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	routes := []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
	if e.server.opts.Metrics != nil {
		routes = append(routes, protocol.EndpointRoute{Method: http.MethodGet, Path: "/metrics", Handler: e.server.opts.Metrics.Handler()})
	}
	return routes
}

type healthResponse struct {
	Status         string `json:"status"`
	Accounts       int    `json:"accounts"`
	SlotsAvailable int    `json:"slots_available"`
	SlotsBusy      int    `json:"slots_busy"`
}

// HandleHealth reports pool capacity. An empty pool is degraded but the
// process is still serving, so the status code stays 200.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.opts.Pool != nil {
		for _, st := range s.opts.Pool.Stats() {
			resp.Accounts++
			resp.SlotsAvailable += st.Available
			resp.SlotsBusy += st.Busy
		}
	}
	if resp.Accounts == 0 {
		resp.Status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, resp)
}
