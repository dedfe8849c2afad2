package auth

import "github.com/kimken5/nursery-auth/internal/identity"

// Tokens is the wire shape of a successful authentication or refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Principal is the resolved caller of an authorized request. Downstream
// collaborators scope every data access to TenantID.
type Principal struct {
	IdentityID string
	Kind       identity.Kind
	TenantID   string
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type otpRequestRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type otpVerifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type adminUnlockRequest struct {
	IdentityID string `json:"identity_id"`
}

type errorResponse struct {
	ErrorCode         string `json:"error_code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}
