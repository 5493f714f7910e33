// Package httpserver exposes the gateway over HTTP: the OpenAI-compatible
// surface, health and metrics, and the admin API.
package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/config"
	"github.com/Anivie/gpt-cat/internal/core"
	"github.com/Anivie/gpt-cat/internal/httpserver/protocol"
	"github.com/Anivie/gpt-cat/internal/ledger"
	"github.com/Anivie/gpt-cat/internal/metrics"
	"github.com/Anivie/gpt-cat/internal/openai"
	"github.com/Anivie/gpt-cat/internal/pool"
	"github.com/Anivie/gpt-cat/internal/relay"
	"github.com/Anivie/gpt-cat/internal/sender"
)

// Relay serves one chat request. *relay.Orchestrator implements it.
type Relay interface {
	Serve(ctx context.Context, req openai.ChatCompletionRequest, raw []byte, s *sender.Sender) relay.Result
}

// PoolView is the read side of the account pool.
type PoolView interface {
	Len() int
	Stats() []pool.AccountStats
}

// Admin performs account management. *core.App implements it.
type Admin interface {
	ListAccounts(ctx context.Context) ([]account.Record, error)
	SetEndpointEnabled(ctx context.Context, name string, enabled bool) (int64, error)
	Reload(ctx context.Context) error
}

// Options carries the dependencies of a Server. Relay, Pool and
// SenderOptions are required.
type Options struct {
	Relay         Relay
	Pool          PoolView
	Admin         Admin
	Ledger        ledger.Store
	Metrics       *metrics.Collector
	Models        func() *config.ModelTable
	SenderOptions func() sender.Options
	AdminToken    func() string
	Logger        *log.Logger
}

// Server routes HTTP requests to the gateway.
type Server struct {
	opts   Options
	logger *log.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[catgated/http] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{opts: opts, logger: logger}
}

// FromApp builds a server over the application context.
func FromApp(app *core.App, logger *log.Logger) *Server {
	return New(Options{
		Relay:         app.Relay,
		Pool:          app.Pool,
		Admin:         app,
		Ledger:        app.Ledger,
		Metrics:       app.Metrics,
		Models:        app.Runtime.Models,
		SenderOptions: app.SenderOptions,
		AdminToken:    func() string { return app.Runtime.Gateway().AdminToken },
		Logger:        logger,
	})
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	s.registerEndpoints(r,
		newOpenAIEndpoint(s),
		newHealthEndpoint(s),
		newAdminEndpoint(s),
	)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		for _, route := range ep.Routes() {
			h := route.Handler
			if route.Admin {
				h = s.requireAdmin(h)
			}
			r.Method(route.Method, route.Path, h)
		}
	}
}

// requireAdmin accepts only the configured admin token. With no token
// configured the admin API is off.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := ""
		if s.opts.AdminToken != nil {
			want = s.opts.AdminToken()
		}
		if want == "" || s.opts.Admin == nil {
			s.respondError(w, http.StatusForbidden, errors.New("admin api is disabled; set admin_token"))
			return
		}
		got := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, openai.ErrorResponse{Error: openai.ErrorDetail{
		Message: err.Error(),
		Type:    errorType(status),
	}})
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}
