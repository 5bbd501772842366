// internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"humanizer-api/internal/auth"
	commonerrors "humanizer-api/internal/common/errors"
	"humanizer-api/internal/history"
	"humanizer-api/internal/llm"
	"humanizer-api/internal/otp"
	"humanizer-api/internal/users"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStandardError(w http.ResponseWriter, status int, stdErr *commonerrors.StandardError) {
	writeJSON(w, status, map[string]interface{}{"error": stdErr})
}

// writeTaskError is the single translation point from task errors to HTTP.
// Validation problems are the caller's fault and come back verbatim; provider
// and parse failures come back generic so provider bodies and credentials
// never reach clients.
func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	var parseErr *llm.ParseError

	switch {
	case errors.Is(err, llm.ErrTextTooLong):
		writeStandardError(w, http.StatusBadRequest, commonerrors.NewTextTooLongError(err.Error()))
	case errors.Is(err, llm.ErrTextRequired):
		writeStandardError(w, http.StatusBadRequest, commonerrors.NewValidationFailedError(err.Error()))
	case errors.Is(err, llm.ErrProviderKeyMissing):
		s.logger.Error("Provider credential not configured", map[string]interface{}{})
		writeStandardError(w, http.StatusInternalServerError, commonerrors.NewProviderKeyMissingError())
	case errors.Is(err, llm.ErrProviderTimeout):
		s.logger.WithError(err).Error("Provider call timed out", map[string]interface{}{})
		writeStandardError(w, http.StatusInternalServerError, commonerrors.NewProviderTimeoutError())
	case errors.As(err, &parseErr):
		s.logger.WithError(err).Error("Model output rejected", map[string]interface{}{
			"task":   string(parseErr.Task),
			"reason": parseErr.Reason,
		})
		if parseErr.Reason == llm.ReasonIncomplete {
			writeStandardError(w, http.StatusInternalServerError, commonerrors.NewResponseIncompleteError(parseErr.Details))
			return
		}
		writeStandardError(w, http.StatusInternalServerError, commonerrors.NewResponseMalformedError(""))
	default:
		// Terminal provider failures land here; the body stays generic so
		// provider responses and credentials never reach clients.
		s.logger.WithError(err).Error("Task failed", map[string]interface{}{})
		writeError(w, http.StatusInternalServerError, "request could not be completed")
	}
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var input llm.RewriteInput
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.llm.Rewrite(r.Context(), input)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		tone := input.TargetMode
		if tone == "" {
			tone = llm.DefaultTargetMode
		}
		// History is best effort; a storage hiccup never fails the rewrite.
		if _, err := s.history.Record(r.Context(), claims.UserID, input.Text, out.Rewritten, tone); err != nil {
			s.logger.WithError(err).Warn("Failed to record history entry", map[string]interface{}{
				"userId": claims.UserID,
			})
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var input llm.DraftInput
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.llm.Draft(r.Context(), input)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var input llm.SimilarityInput
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.llm.Similarity(r.Context(), input)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGuardrail(w http.ResponseWriter, r *http.Request) {
	var input llm.GuardrailInput
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.llm.Guardrail(r.Context(), input)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	entries, err := s.history.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list history", map[string]interface{}{
			"userId": claims.UserID,
		})
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

func (s *Server) registerWithRole(w http.ResponseWriter, r *http.Request, role string) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeStandardError(w, http.StatusBadRequest,
			commonerrors.NewValidationFailedError("email and password are required"))
		return
	}

	user, err := s.users.Register(r.Context(), req.Name, req.Email, req.Password, req.Phone, role)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, "email already registered")
			return
		}
		s.logger.WithError(err).Error("Registration failed", map[string]interface{}{})
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.registerWithRole(w, r, users.RoleUser)
}

func (s *Server) handleRegisterAdmin(w http.ResponseWriter, r *http.Request) {
	s.registerWithRole(w, r, users.RoleAdmin)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.List(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list users", map[string]interface{}{})
		writeError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	if list == nil {
		list = []users.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": list})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.logger.WithError(err).Error("Failed to delete user", map[string]interface{}{"userId": id})
		writeError(w, http.StatusInternalServerError, "could not delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "invalid email or password")
			return
		}
		s.logger.WithError(err).Error("Login failed", map[string]interface{}{})
		writeError(w, http.StatusInternalServerError, "could not log in")
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.WithError(err).Error("Token issue failed", map[string]interface{}{})
		writeError(w, http.StatusInternalServerError, "could not log in")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	if err := s.otp.Issue(r.Context(), claims.UserID, claims.Email); err != nil {
		s.logger.WithError(err).Error("OTP send failed", map[string]interface{}{
			"userId": claims.UserID,
		})
		writeStandardError(w, http.StatusInternalServerError, commonerrors.NewOTPSendFailedError(err))
		return
	}

	// The code travels by email only, never in this response.
	writeJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
}

type otpVerifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req otpVerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeStandardError(w, http.StatusBadRequest,
			commonerrors.NewValidationFailedError("code is required"))
		return
	}

	err := s.otp.Verify(r.Context(), claims.UserID, req.Code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
	case errors.Is(err, otp.ErrNotIssued):
		writeError(w, http.StatusUnauthorized, "no code issued, request a new one")
	case errors.Is(err, otp.ErrExpired):
		writeError(w, http.StatusUnauthorized, "code expired, request a new one")
	case errors.Is(err, otp.ErrMismatch):
		writeError(w, http.StatusUnauthorized, "incorrect code")
	default:
		s.logger.WithError(err).Error("OTP verification failed", map[string]interface{}{
			"userId": claims.UserID,
		})
		writeError(w, http.StatusInternalServerError, "could not verify code")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}

	for name, pinger := range map[string]Pinger{"postgres": s.db, "redis": s.cache} {
		if pinger == nil {
			checks[name] = "disabled"
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
