// internal/server/server_test.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"humanizer-api/internal/auth"
	"humanizer-api/internal/common/config"
	"humanizer-api/internal/common/logger"
	"humanizer-api/internal/history"
	"humanizer-api/internal/llm"
	"humanizer-api/internal/otp"
	"humanizer-api/internal/users"
)

type testMailer struct {
	lastBody string
	sends    int
}

func (m *testMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	m.sends++
	m.lastBody = textBody
	return nil
}

type testEnv struct {
	handler       http.Handler
	providerCalls *int64
	sqlMock       sqlmock.Sqlmock
	mailer        *testMailer
	tokens        *auth.Manager
}

// stubProvider plays the chat-completion endpoint and counts calls.
type stubProvider struct {
	status int
	body   string
	calls  int64
}

func (p *stubProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.calls, 1)
		if p.status != http.StatusOK {
			http.Error(w, p.body, p.status)
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, p.body)
	})
}

func newTestEnv(t *testing.T, provider *stubProvider, rateCfg config.RateLimitConfig) *testEnv {
	providerServer := httptest.NewServer(provider.handler())
	t.Cleanup(providerServer.Close)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)

	providerCfg := &config.ProviderConfig{
		BaseURL:     providerServer.URL,
		Model:       "llama-3.1-8b-instant",
		APIKey:      "test-key",
		Timeout:     5000,
		MaxRetries:  1,
		RetryDelay:  10,
		MaxTokens:   1500,
		Temperature: 0.7,
	}
	llmService := llm.NewService(llm.NewClient(providerCfg, log), log, 5000)

	mailer := &testMailer{}
	otpService := otp.NewService(otp.NewMemoryStore(), mailer, log, 10*time.Minute)

	tokens := auth.NewManager("test-secret-at-least-32-chars-long!!", time.Hour)

	cfg := &config.Config{RateLimit: rateCfg}
	srv := New(
		cfg,
		log,
		llmService,
		users.NewStore(db, log),
		history.NewStore(db, log),
		otpService,
		tokens,
		nil,
		nil,
	)

	return &testEnv{
		handler:       srv.Routes(),
		providerCalls: &provider.calls,
		sqlMock:       mock,
		mailer:        mailer,
		tokens:        tokens,
	}
}

func defaultRateCfg() config.RateLimitConfig {
	return config.RateLimitConfig{Requests: 100, Window: 60}
}

func doJSON(t *testing.T, handler http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRewriteEndpoint(t *testing.T) {
	provider := &stubProvider{
		status: http.StatusOK,
		body:   "```json\n{\"rewritten\":\"Hello there, friend!\",\"changes\":[\"lexical substitution\"],\"risk_flags\":[]}\n```",
	}
	env := newTestEnv(t, provider, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/rewrite",
		`{"text":"Greetings, acquaintance.","targetMode":"Casual"}`, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), atomic.LoadInt64(env.providerCalls))

	var out struct {
		Rewritten string   `json:"rewritten"`
		Changes   []string `json:"changes"`
		RiskFlags []string `json:"riskFlags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Hello there, friend!", out.Rewritten)
	assert.Equal(t, []string{"lexical substitution"}, out.Changes)
	assert.NotContains(t, rec.Body.String(), "risk_flags", "response uses the camelCase contract")
}

func TestRewriteValidationShortCircuits(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty text", body: `{"text":""}`},
		{name: "missing text", body: `{}`},
		{name: "text over cap", body: fmt.Sprintf(`{"text":%q}`, strings.Repeat("a", 5001))},
		{name: "malformed body", body: `{"text":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{status: http.StatusOK, body: "unused"}
			env := newTestEnv(t, provider, defaultRateCfg())

			rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/rewrite", tt.body, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, int64(0), atomic.LoadInt64(env.providerCalls), "validation failures never reach the provider")
		})
	}
}

func TestRewriteOverCapReportsTextTooLong(t *testing.T) {
	provider := &stubProvider{status: http.StatusOK, body: "unused"}
	env := newTestEnv(t, provider, defaultRateCfg())

	body := fmt.Sprintf(`{"text":%q}`, strings.Repeat("a", 5001))
	rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/rewrite", body, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "TEXT_TOO_LONG")
}

func TestSimilarityRequiresBothTexts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing source passage", body: `{"text":"candidate"}`},
		{name: "missing text", body: `{"sourcePassage":"source"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{status: http.StatusOK, body: "unused"}
			env := newTestEnv(t, provider, defaultRateCfg())

			rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/similarity", tt.body, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, int64(0), atomic.LoadInt64(env.providerCalls), "validation failures never reach the provider")
		})
	}
}

func TestRewriteProviderFailureIsSanitized(t *testing.T) {
	provider := &stubProvider{status: http.StatusInternalServerError, body: `{"error":"upstream secret detail"}`}
	env := newTestEnv(t, provider, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/rewrite", `{"text":"hello"}`, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "upstream secret detail")
	assert.NotContains(t, rec.Body.String(), "test-key")
}

func TestRewriteParseFailure(t *testing.T) {
	provider := &stubProvider{status: http.StatusOK, body: "Sorry, I'd rather not."}
	env := newTestEnv(t, provider, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/rewrite", `{"text":"hello"}`, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "rewritten", "no partial result on parse failure")
}

func TestAuthenticatedRewriteRecordsHistory(t *testing.T) {
	provider := &stubProvider{
		status: http.StatusOK,
		body:   `{"rewritten":"Hi!","changes":[],"risk_flags":[]}`,
	}
	env := newTestEnv(t, provider, defaultRateCfg())

	env.sqlMock.ExpectExec(`INSERT INTO history`).
		WithArgs(sqlmock.AnyArg(), "user-1", "Hello.", "Hi!", "Formal", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := env.tokens.Issue("user-1", "user@example.com", auth.RoleUser)
	require.NoError(t, err)

	rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/rewrite", `{"text":"Hello."}`, token)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, env.sqlMock.ExpectationsWereMet())
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	rows := sqlmock.NewRows([]string{"id", "user_id", "text", "rewritten", "tone", "created_at"}).
		AddRow("h1", "user-1", "a", "b", "Formal", time.Now())
	env.sqlMock.ExpectQuery(`SELECT id, user_id, text, rewritten, tone, created_at FROM history`).
		WithArgs("user-1").
		WillReturnRows(rows)

	token, err := env.tokens.Issue("user-1", "user@example.com", auth.RoleUser)
	require.NoError(t, err)

	rec := doJSON(t, env.handler, http.MethodGet, "/api/llm/history", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rewritten":"b"`)

	// Anonymous access is rejected outright.
	rec = doJSON(t, env.handler, http.MethodGet, "/api/llm/history", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	env.sqlMock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "Test User", "user@example.com", sqlmock.AnyArg(), "5551234567", "user", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, env.handler, http.MethodPost, "/users",
		`{"name":"Test User","email":"user@example.com","password":"hunter22","phone":"5551234567"}`, "")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter22")
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRegisterRequiresEmailAndPassword(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodPost, "/users", `{"name":"No Creds"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "phone", "role", "created_at"}).
		AddRow("user-1", "Test User", "user@example.com", string(hash), "", "user", time.Now())
	env.sqlMock.ExpectQuery(`SELECT id, name, email, password_hash, phone, role, created_at FROM users WHERE email`).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	rec := doJSON(t, env.handler, http.MethodPost, "/login",
		`{"email":"user@example.com","password":"hunter22"}`, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)

	claims, err := env.tokens.Verify(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "phone", "role", "created_at"}).
		AddRow("user-1", "Test User", "user@example.com", string(hash), "", "user", time.Now())
	env.sqlMock.ExpectQuery(`SELECT id, name, email, password_hash, phone, role, created_at FROM users WHERE email`).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	rec := doJSON(t, env.handler, http.MethodPost, "/login",
		`{"email":"user@example.com","password":"wrong"}`, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminGatesOnUserRoutes(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	userToken, err := env.tokens.Issue("user-1", "user@example.com", auth.RoleUser)
	require.NoError(t, err)
	adminToken, err := env.tokens.Issue("admin-1", "admin@example.com", auth.RoleAdmin)
	require.NoError(t, err)

	rec := doJSON(t, env.handler, http.MethodGet, "/users", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, env.handler, http.MethodGet, "/users", "", userToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "phone", "role", "created_at"}).
		AddRow("user-1", "Test User", "user@example.com", "", "user", time.Now())
	env.sqlMock.ExpectQuery(`SELECT id, name, email, phone, role, created_at FROM users`).
		WillReturnRows(rows)

	rec = doJSON(t, env.handler, http.MethodGet, "/users", "", adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.sqlMock.ExpectExec(`DELETE FROM users WHERE id`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec = doJSON(t, env.handler, http.MethodDelete, "/users/user-1", "", adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOTPFlow(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	token, err := env.tokens.Issue("user-1", "user@example.com", auth.RoleUser)
	require.NoError(t, err)

	rec := doJSON(t, env.handler, http.MethodPost, "/otp/send", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, env.mailer.sends)

	code := ""
	for _, field := range strings.Fields(env.mailer.lastBody) {
		trimmed := strings.Trim(field, ".")
		if len(trimmed) == 6 && strings.Trim(trimmed, "0123456789") == "" {
			code = trimmed
		}
	}
	require.NotEmpty(t, code, "mail should carry the 6-digit code")
	assert.NotContains(t, rec.Body.String(), code, "the code travels by email only")

	rec = doJSON(t, env.handler, http.MethodPost, "/otp/verify", fmt.Sprintf(`{"code":%q}`, code), token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Single use: a second verification with the same code fails.
	rec = doJSON(t, env.handler, http.MethodPost, "/otp/verify", fmt.Sprintf(`{"code":%q}`, code), token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPRequiresAuth(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodPost, "/otp/send", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	provider := &stubProvider{
		status: http.StatusOK,
		body:   `{"allowed":true,"reason":"fine","redirect_message":""}`,
	}
	env := newTestEnv(t, provider, config.RateLimitConfig{Requests: 2, Window: 60})

	for i := 0; i < 2; i++ {
		rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/guardrail", `{"text":"ok?"}`, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := doJSON(t, env.handler, http.MethodPost, "/api/llm/guardrail", `{"text":"ok?"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, int64(2), atomic.LoadInt64(env.providerCalls), "over-quota requests never reach the core")

	// Health stays reachable past the quota.
	healthRec := doJSON(t, env.handler, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, healthRec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "disabled", out.Checks["postgres"])
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, &stubProvider{status: http.StatusOK}, defaultRateCfg())

	rec := doJSON(t, env.handler, http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
