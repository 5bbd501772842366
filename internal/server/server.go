// internal/server/server.go
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"humanizer-api/internal/auth"
	"humanizer-api/internal/common/config"
	"humanizer-api/internal/common/logger"
	"humanizer-api/internal/history"
	"humanizer-api/internal/llm"
	"humanizer-api/internal/otp"
	"humanizer-api/internal/users"
)

// Pinger reports backing-store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface: the four LLM task endpoints, accounts,
// login, OTP, history, health and metrics.
type Server struct {
	cfg     *config.Config
	logger  logger.Logger
	llm     *llm.Service
	users   *users.Store
	history *history.Store
	otp     *otp.Service
	tokens  *auth.Manager
	db      Pinger
	cache   Pinger
}

func New(
	cfg *config.Config,
	log logger.Logger,
	llmService *llm.Service,
	userStore *users.Store,
	historyStore *history.Store,
	otpService *otp.Service,
	tokens *auth.Manager,
	db Pinger,
	cache Pinger,
) *Server {
	return &Server{
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "server"}),
		llm:     llmService,
		users:   userStore,
		history: historyStore,
		otp:     otpService,
		tokens:  tokens,
		db:      db,
		cache:   cache,
	}
}

// Routes builds the full handler tree. The rate limiter sits outside
// everything except health and metrics, so over-quota requests never reach
// the core.
func (s *Server) Routes() http.Handler {
	authMW := auth.NewMiddleware(s.tokens, s.logger)

	mux := http.NewServeMux()

	// LLM tasks: usable anonymously, but a valid token switches on history
	// recording for rewrites.
	mux.Handle("POST /api/llm/rewrite", authMW.Optional(http.HandlerFunc(s.handleRewrite)))
	mux.Handle("POST /api/llm/draft", authMW.Optional(http.HandlerFunc(s.handleDraft)))
	mux.Handle("POST /api/llm/similarity", authMW.Optional(http.HandlerFunc(s.handleSimilarity)))
	mux.Handle("POST /api/llm/guardrail", authMW.Optional(http.HandlerFunc(s.handleGuardrail)))
	mux.Handle("GET /api/llm/history", authMW.Require(http.HandlerFunc(s.handleHistory)))

	mux.HandleFunc("POST /users", s.handleRegister)
	mux.Handle("GET /users", authMW.RequireAdmin(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("DELETE /users/{id}", authMW.RequireAdmin(http.HandlerFunc(s.handleDeleteUser)))
	mux.HandleFunc("POST /admin", s.handleRegisterAdmin)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.Handle("POST /otp/send", authMW.Require(http.HandlerFunc(s.handleOTPSend)))
	mux.Handle("POST /otp/verify", authMW.Require(http.HandlerFunc(s.handleOTPVerify)))

	limited := newRateLimiter(s.cfg.RateLimit, s.logger).wrap(mux)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", limited)

	return requestLogging(s.logger, root)
}
