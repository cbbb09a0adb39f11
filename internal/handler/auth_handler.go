package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"admin-auth/internal/config"
	"admin-auth/internal/models"
	"admin-auth/internal/service"
	"admin-auth/internal/util"
)

const (
	SessionCookie   = "admin_session"
	ChallengeCookie = "admin_2fa_pending"

	authPrefix     = "/api/v1/admin/auth"
	maxBodyBytes   = 16 << 10
	msgResetIssued = "if the address belongs to an admin account, a reset link has been sent"
)

// AuthService is the part of service.AuthService the handler drives.
type AuthService interface {
	Login(ctx context.Context, email, password string, meta models.ClientMeta) (*service.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, challenge, code string, meta models.ClientMeta) (*service.LoginResult, error)
	CurrentAccount(ctx context.Context, sessionToken string) (*models.AdminAccount, *models.Session, error)
	Logout(ctx context.Context, sessionToken string, meta models.ClientMeta) error
	LogoutEverywhere(ctx context.Context, account *models.AdminAccount, meta models.ClientMeta) (int, error)
	RequestPasswordReset(ctx context.Context, email string, meta models.ClientMeta)
	ResetPassword(ctx context.Context, resetToken, newPassword string, meta models.ClientMeta) error
	ChangePassword(ctx context.Context, account *models.AdminAccount, sessionToken, current, newPassword string, meta models.ClientMeta) (int, error)
}

// AuthHandler handles HTTP requests for the admin credential lifecycle
type AuthHandler struct {
	auth     AuthService
	throttle Throttler
	policy   config.SecurityConfig
}

func NewAuthHandler(auth AuthService, throttle Throttler, policy config.SecurityConfig) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		throttle: throttle,
		policy:   policy,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Bearer asks for the session token in the body for non-browser clients.
	Bearer   bool   `json:"bearer"`
}

type verifyRequest struct {
	Code      string `json:"code"`
	Challenge string `json:"challenge,omitempty"`
	Bearer    bool   `json:"bearer"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionData struct {
	Status       service.LoginStatus  `json:"status"`
	Account      *models.AdminAccount `json:"account,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	SessionToken string               `json:"session_token,omitempty"`
	Challenge    string               `json:"challenge,omitempty"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin/auth", func(r chi.Router) {
		r.With(h.Throttle("login")).Post("/login", h.Login)
		r.With(h.Throttle("2fa")).Post("/2fa/verify", h.VerifyTwoFactor)
		r.Post("/logout", h.Logout)
		r.With(h.Throttle("forgot")).Post("/password/forgot", h.ForgotPassword)
		r.With(h.Throttle("reset")).Post("/password/reset", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/me", h.Me)
			r.Post("/password/change", h.ChangePassword)
			r.Post("/sessions/revoke-all", h.RevokeAllSessions)
		})
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.respondLogin(w, res, req.Bearer)
}

func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}

	challenge := req.Challenge
	if c, err := r.Cookie(ChallengeCookie); err == nil && c.Value != "" {
		challenge = c.Value
	}
	if challenge == "" {
		respondWithError(w, r, service.ErrTwoFactorRequired)
		return
	}

	res, err := h.auth.VerifyTwoFactor(r.Context(), challenge, req.Code, clientMeta(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.clearCookie(w, ChallengeCookie, authPrefix+"/2fa")
	h.respondLogin(w, res, req.Bearer)
}

func (h *AuthHandler) respondLogin(w http.ResponseWriter, res *service.LoginResult, bearer bool) {
	data := sessionData{Status: res.Status, Account: res.Account}

	if res.Status == service.StatusTwoFactorRequired {
		http.SetCookie(w, h.cookie(ChallengeCookie, res.Challenge, authPrefix+"/2fa", time.Now().Add(h.policy.TwoFactorCodeTTL)))
		data.Account = nil
		if bearer {
			data.Challenge = res.Challenge
		}
		respondWithJSON(w, http.StatusAccepted, successResponse(data, service.ErrTwoFactorRequired.Error()))
		return
	}

	http.SetCookie(w, h.cookie(SessionCookie, res.SessionToken, "/", res.ExpiresAt))
	expires := res.ExpiresAt
	data.ExpiresAt = &expires
	if bearer {
		data.SessionToken = res.SessionToken
	}
	respondWithJSON(w, http.StatusOK, successResponse(data, "Signed in"))
}

// Logout always succeeds for unknown or expired tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), sessionToken(r), clientMeta(r)); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.clearCookie(w, SessionCookie, "/")
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Signed out"))
}

// ForgotPassword answers identically for known and unknown addresses.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decode(w, r, &req) {
		return
	}
	h.auth.RequestPasswordReset(r.Context(), req.Email, clientMeta(r))
	respondWithJSON(w, http.StatusAccepted, successResponse(nil, msgResetIssued))
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword, clientMeta(r)); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.clearCookie(w, SessionCookie, "/")
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password updated, sign in again"))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	respondWithJSON(w, http.StatusOK, successResponse(account, ""))
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if !decode(w, r, &req) {
		return
	}
	account, _ := AccountFromContext(r.Context())

	revoked, err := h.auth.ChangePassword(r.Context(), account, sessionTokenFromContext(r.Context()),
		req.CurrentPassword, req.NewPassword, clientMeta(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"revoked_sessions": revoked}, "Password changed"))
}

func (h *AuthHandler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())

	revoked, err := h.auth.LogoutEverywhere(r.Context(), account, clientMeta(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.clearCookie(w, SessionCookie, "/")
	respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"revoked_sessions": revoked}, "All sessions revoked"))
}

func (h *AuthHandler) cookie(name, value, path string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.policy.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, path string) {
	c := h.cookie(name, "", path, time.Unix(0, 0))
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// decode reads a bounded JSON body and answers 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		util.Debug("Invalid request body", util.String("path", r.URL.Path), util.ErrorField(err))
		respondWithError(w, r, service.ErrInvalidInput)
		return false
	}
	return true
}
