package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/httpserver/protocol"
)

type adminEndpoint struct {
	server *Server
}

func newAdminEndpoint(server *Server) protocol.Endpoint {
	return &adminEndpoint{server: server}
}

func (e *adminEndpoint) Name() string { return "admin" }

func (e *adminEndpoint) Routes() []protocol.EndpointRoute {
	s := e.server
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/admin/accounts", Handler: http.HandlerFunc(s.handleListAccounts), Admin: true},
		{Method: http.MethodGet, Path: "/admin/accounts/{id}/usage", Handler: http.HandlerFunc(s.handleAccountUsage), Admin: true},
		{Method: http.MethodGet, Path: "/admin/pool", Handler: http.HandlerFunc(s.handlePoolStats), Admin: true},
		{Method: http.MethodGet, Path: "/admin/requests", Handler: http.HandlerFunc(s.handleRecentRequests), Admin: true},
		{Method: http.MethodPost, Path: "/admin/endpoints/{endpoint}/enable", Handler: s.endpointToggle(true), Admin: true},
		{Method: http.MethodPost, Path: "/admin/endpoints/{endpoint}/disable", Handler: s.endpointToggle(false), Admin: true},
		{Method: http.MethodPost, Path: "/admin/reload", Handler: http.HandlerFunc(s.handleReload), Admin: true},
	}
}

// AccountView is an account as shown to administrators.
type AccountView struct {
	ID       int64  `json:"id"`
	Endpoint string `json:"endpoint"`
	Disabled bool   `json:"is_disabled"`
	UseProxy string `json:"use_proxy,omitempty"`
	Key      string `json:"api_key"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	records, err := s.opts.Admin.ListAccounts(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]AccountView, 0, len(records))
	for _, rec := range records {
		out = append(out, AccountView{
			ID:       rec.ID,
			Endpoint: rec.Endpoint,
			Disabled: rec.IsDisabled,
			UseProxy: rec.UseProxy,
			Key:      rec.Masked(),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"accounts": s.opts.Pool.Stats()})
}

func (s *Server) handleAccountUsage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		s.respondError(w, http.StatusNotFound, errors.New("usage ledger is not configured"))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid account id: %w", err))
		return
	}
	sum, err := s.opts.Ledger.Summary(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		s.respondError(w, http.StatusNotFound, errors.New("usage ledger is not configured"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	entries, err := s.opts.Ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"requests": entries})
}

func (s *Server) endpointToggle(enabled bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "endpoint")
		n, err := s.opts.Admin.SetEndpointEnabled(r.Context(), name, enabled)
		switch {
		case errors.Is(err, account.ErrNotFound):
			s.respondError(w, http.StatusNotFound, fmt.Errorf("no accounts for endpoint %q", name))
			return
		case err != nil:
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Printf("endpoint %s enabled=%v (%d account(s))", name, enabled, n)
		s.respondJSON(w, http.StatusOK, map[string]any{
			"endpoint": name,
			"enabled":  enabled,
			"changed":  n,
			"pool":     s.opts.Pool.Len(),
		})
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Admin.Reload(r.Context()); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"reloaded": true, "pool": s.opts.Pool.Len()})
}
