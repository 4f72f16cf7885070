package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/brojonat/idproperty/service/admin"
	"github.com/brojonat/idproperty/service/config"
	"github.com/brojonat/idproperty/service/db"
	"github.com/brojonat/idproperty/service/metrics"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Login attempts are throttled process wide.
const (
	loginRate  = rate.Limit(1)
	loginBurst = 5
)

// HistoryStore reads the action history. *db.Store implements it.
type HistoryStore interface {
	GetAction(ctx context.Context, id uuid.UUID) (*txn.Record, error)
	ListActionsByAccount(ctx context.Context, params db.ListActionsParams) ([]*txn.Record, error)
	CountActionsByAccount(ctx context.Context, account string) (int64, error)
}

// Deps are the services behind the HTTP surface. History is optional.
type Deps struct {
	Config    *config.Config
	Reader    *reader.Reader
	Transfers *transfer.Service
	Admin     *admin.Service
	Sessions  *session.Store
	Runner    *txn.Runner
	History   HistoryStore
}

// Server represents the HTTP server for the dashboard.
type Server struct {
	addr         string
	deps         Deps
	ssePublisher *SSEPublisher
	renderer     *TemplateRenderer
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
	logins       *rate.Limiter
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, deps Deps, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		deps:         deps,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
		logins:       rate.NewLimiter(loginRate, loginBurst),
	}
}

// WithTemplates adds the dashboard pages using embedded templates.
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	d := s.deps
	symbol := d.Config.TokenSymbol

	handle := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}
	// Form posts act as the wallet: same origin and an operator session only.
	form := func(h http.Handler) http.Handler {
		return s.sameOriginOnly(s.withSession(s.operatorOnly(h)))
	}

	// JSON API
	handle("GET /api/v1/session", "/api/v1/session", s.withSession(handleGetSession(s.logger)))
	handle("GET /api/v1/property", "/api/v1/property", handleGetProperty(d.Reader, d.Config, s.logger))
	handle("GET /api/v1/token", "/api/v1/token", handleGetToken(d.Reader, s.logger))
	handle("GET /api/v1/limits", "/api/v1/limits", handleGetLimits(d.Reader, s.logger))
	handle("GET /api/v1/accounts/{address}", "/api/v1/accounts", handleGetAccount(d.Reader, symbol, s.logger))
	handle("GET /api/v1/investors/{address}", "/api/v1/investors", handleGetInvestor(d.Reader, d.Admin, s.logger))
	handle("GET /api/v1/transfers/check", "/api/v1/transfers/check", handleCheckTransfer(d.Reader, s.logger))
	handle("POST /api/v1/transfers", "/api/v1/transfers", s.requireBearer(handleCreateTransfer(d.Transfers, s.logger)))
	handle("GET /api/v1/actions/{id}", "/api/v1/actions", handleGetAction(d.Runner, d.History, s.logger))
	handle("GET /api/v1/history", "/api/v1/history", handleListHistory(d.History, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		handle("GET /api/v1/stream/actions/{address}", "/api/v1/stream/actions", handleStreamActions(s.ssePublisher, s.metrics, s.logger))
		handle("GET /api/v1/stream/actions", "/api/v1/stream/actions", handleStreamActions(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		p := &pageDeps{
			renderer:  s.renderer,
			reader:    d.Reader,
			transfers: d.Transfers,
			admin:     d.Admin,
			history:   d.History,
			cfg:       d.Config,
			logger:    s.logger,
		}
		handle("GET /{$}", "/", s.withSession(handleHomePage(p)))
		handle("GET /property", "/property", s.withSession(handlePropertyPage(p)))
		handle("GET /portfolio", "/portfolio", s.withSession(handlePortfolioPage(p)))
		handle("GET /kyc", "/kyc", s.withSession(handleKYCPage(p)))
		handle("GET /transfer", "/transfer", s.withSession(handleTransferPage(p)))
		handle("POST /transfer/preview", "/transfer/preview", form(handleTransferPreview(d.Transfers, s.logger)))
		handle("POST /transfer/confirm", "/transfer/confirm", form(handleTransferConfirm(d.Transfers, symbol, s.logger)))
		handle("POST /transfer/cancel", "/transfer/cancel", form(handleTransferCancel(d.Transfers, s.logger)))
		handle("POST /transfer/reset", "/transfer/reset", form(handleTransferCancel(d.Transfers, s.logger)))
		handle("GET /admin", "/admin", s.withSession(handleAdminPage(p)))
		handle("POST /admin/forms/{form}", "/admin/forms", form(handleAdminSubmit(d.Admin, s.logger)))
		handle("POST /admin/forms/{form}/reset", "/admin/forms/reset", form(handleAdminReset(d.Admin, s.logger)))
		handle("GET /login", "/login", s.withSession(handleLoginPage(p)))
		handle("POST /login", "/login", s.sameOriginOnly(handleLogin(p, d.Sessions, s.logins)))
		handle("POST /logout", "/logout", s.sameOriginOnly(handleLogout(d.Sessions, s.logger)))
		mux.HandleFunc("GET /favicon.ico", handleFavicon())
		s.logger.Info("HTML page endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(d.Config.CORSAllowedOrigins)(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withSession attaches the browser session, the account the request acts
// as and that account's admin capabilities to the request context. Only an
// operator (logged-in session or bearer token) acts as the wallet.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.deps.Sessions.Ensure(w, r)
		ctx := session.WithSession(r.Context(), sess)
		var account *common.Address
		if sess.Operator() || s.bearerValid(r) {
			account = s.deps.Transfers.Account()
		}
		ctx = session.WithAccount(ctx, account)
		ctx = session.WithCapabilities(ctx, session.Resolve(ctx, s.deps.Reader, account))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operatorOnly sends anonymous sessions to the login page.
func (s *Server) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		if sess == nil || !sess.Operator() {
			s.logger.WarnContext(r.Context(), "anonymous write refused", "path", r.URL.Path)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sameOriginOnly refuses browser requests whose Origin (or Referer) is not
// this server. Requests carrying neither come from non-browser clients.
func (s *Server) sameOriginOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sameOrigin(r) {
			s.logger.WarnContext(r.Context(), "cross-origin write refused",
				"path", r.URL.Path,
				"origin", r.Header.Get("Origin"),
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(r *http.Request) bool {
	source := r.Header.Get("Origin")
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" {
		return true
	}
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// requireBearer guards JSON writes with the operator token.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.bearerValid(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="idproperty"`)
			writeError(w, "missing or invalid operator token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bearerValid(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && tokenMatches(s.deps.Config.OperatorToken, token)
}

// tokenMatches compares in constant time. An unset operator token never
// matches.
func tokenMatches(want, got string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// corsMiddleware answers preflights and adds CORS headers for the allowed
// origins only.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && slices.Contains(allowed, strings.TrimRight(origin, "/")) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
