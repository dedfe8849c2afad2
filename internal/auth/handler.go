package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kimken5/nursery-auth/internal/identity"
	"github.com/kimken5/nursery-auth/internal/session"
)

const maxJSONBodyBytes = 1 << 20

// Handler exposes the wire contract over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}

	tokens, err := h.service.LoginFacility(r.Context(), body.LoginID, body.Password, clientMeta(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// OTPRequest always answers with an acceptance so phone numbers cannot be
// enumerated; delivery problems are never surfaced here.
func (h *Handler) OTPRequest(w http.ResponseWriter, r *http.Request) {
	var body otpRequestRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if err := h.service.RequestGuardianCode(r.Context(), body.PhoneNumber, clientMeta(r)); err != nil {
		if errors.Is(err, identity.ErrInvalidPhone) {
			writeError(w, http.StatusBadRequest, CodeInvalidCredential, "phone number format is invalid")
			return
		}
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) OTPVerify(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyRequest
	if !decodeBody(w, r, &body) {
		return
	}

	tokens, err := h.service.VerifyGuardianCode(r.Context(), body.PhoneNumber, body.Code, clientMeta(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeBody(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), strings.TrimSpace(body.RefreshToken), clientMeta(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout always reports success; revocation is best-effort and client-side
// teardown must proceed either way.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if token := strings.TrimSpace(body.RefreshToken); token != "" {
		h.service.Logout(r.Context(), token)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) AdminUnlock(w http.ResponseWriter, r *http.Request) {
	var body adminUnlockRequest
	if !decodeBody(w, r, &body) {
		return
	}

	body.IdentityID = strings.TrimSpace(body.IdentityID)
	if body.IdentityID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidCredential, "identity_id is required")
		return
	}

	if err := h.service.AdminUnlock(r.Context(), body.IdentityID); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Me echoes the principal resolved from the bearer token; downstream
// collaborators consume the same principal from the request context.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeSessionExpired, "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"identity_id": principal.IdentityID,
		"kind":        string(principal.Kind),
		"tenant_id":   principal.TenantID,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidCredential, "invalid json body")
		return false
	}
	return true
}

// writeAuthError maps service errors onto the coarse wire taxonomy.
// Anything unrecognized is an infrastructure failure: captured, and answered
// as a retryable unavailability rather than a credential problem.
func writeAuthError(w http.ResponseWriter, err error) {
	var locked LockedError
	if errors.As(err, &locked) {
		retryAfter := retryAfterSeconds(time.Until(locked.Until))
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			ErrorCode:         CodeAccountLocked,
			Message:           "account temporarily locked",
			RetryAfterSeconds: retryAfter,
		})
		return
	}

	var limited RateLimitedError
	if errors.As(err, &limited) {
		retryAfter := retryAfterSeconds(limited.RetryAfter)
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			ErrorCode:         CodeRateLimited,
			Message:           "too many requests",
			RetryAfterSeconds: retryAfter,
		})
		return
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredential, "invalid credentials")
	case errors.Is(err, ErrCodeInvalid):
		writeError(w, http.StatusUnauthorized, CodeCodeInvalid, "verification code is incorrect")
	case errors.Is(err, ErrCodeExpired):
		writeError(w, http.StatusUnauthorized, CodeCodeExpired, "verification code is expired")
	case errors.Is(err, ErrCodeExhausted):
		writeError(w, http.StatusUnauthorized, CodeCodeExhausted, "verification code attempts exhausted")
	case errors.Is(err, ErrSessionExpired), errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrTokenReused):
		writeError(w, http.StatusUnauthorized, CodeSessionExpired, "session expired, login required")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "service temporarily unavailable")
	}
}

func retryAfterSeconds(d time.Duration) int64 {
	seconds := int64(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func clientMeta(r *http.Request) session.Metadata {
	return session.Metadata{
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		if ip := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0]); ip != "" {
			return ip
		}
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{ErrorCode: code, Message: message})
}
