// Package httpapi exposes the authcore Engine over HTTP for the authd
// service.
package httpapi

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tcgemporium/authcore"
	"github.com/tcgemporium/authcore/jwt"
	"github.com/tcgemporium/authcore/middleware"
	"go.uber.org/zap"
)

// Service is the part of *authcore.Engine the handlers call.
type Service interface {
	middleware.Gatekeeper
	Login(ctx context.Context, identifier, password string) (*authcore.LoginResult, error)
	AdminLogin(ctx context.Context, identifier, password string) (*authcore.LoginResult, error)
	CompleteMFA(ctx context.Context, claims *jwt.Claims, code string, isBackup bool) (*authcore.LoginResult, error)
	SetupMFA(ctx context.Context, kind authcore.AccountKind, subject string) (*authcore.TOTPSetup, error)
	EnableMFA(ctx context.Context, kind authcore.AccountKind, subject, code string) ([]authcore.BackupCode, error)
	DisableMFA(ctx context.Context, kind authcore.AccountKind, subject, code string) error
	ListBackupCodes(ctx context.Context, kind authcore.AccountKind, subject string) ([]authcore.BackupCodeInfo, error)
	Register(ctx context.Context, req authcore.RegisterRequest) (*authcore.Account, error)
	Logout(ctx context.Context, token string) error
	Me(ctx context.Context, claims *jwt.Claims) (*authcore.Account, error)
}

var _ Service = (*authcore.Engine)(nil)

// Handler serves the auth routes.
type Handler struct {
	svc    Service
	cookie middleware.CookieConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(svc Service, cookie middleware.CookieConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, cookie: cookie, logger: logger, now: time.Now}
}

// Routes builds the service mux. Private routes sit behind the gate; admin
// routes additionally require an admin token.
func (h *Handler) Routes() http.Handler {
	gate := middleware.Gate(h.svc, h.cookie.Name)
	adminOnly := func(next http.HandlerFunc) http.Handler {
		return gate(middleware.RequirePurpose(jwt.PurposeAdmin)(next))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/public/auth/register", h.register)
	mux.HandleFunc("POST /api/v1/public/auth/login", h.login)
	mux.HandleFunc("POST /api/v1/public/admin/login", h.adminLogin)

	mux.Handle("POST /api/v1/private/auth/logout", gate(http.HandlerFunc(h.logout)))
	mux.Handle("GET /api/v1/private/auth/me", gate(http.HandlerFunc(h.me)))
	mux.Handle("POST /api/v1/private/mfa/setup", gate(http.HandlerFunc(h.setupMFA)))
	mux.Handle("POST /api/v1/private/mfa/enable", gate(http.HandlerFunc(h.enableMFA)))
	mux.Handle("POST /api/v1/private/mfa/verify", gate(http.HandlerFunc(h.verifyMFA)))
	mux.Handle("POST /api/v1/private/mfa/disable", gate(http.HandlerFunc(h.disableMFA)))
	mux.Handle("GET /api/v1/private/mfa/backup-codes", gate(http.HandlerFunc(h.listBackupCodes)))

	mux.Handle("GET /api/v1/admin/me", adminOnly(h.me))
	mux.Handle("POST /api/v1/admin/mfa/setup", adminOnly(h.setupMFA))
	mux.Handle("POST /api/v1/admin/mfa/enable", adminOnly(h.enableMFA))
	mux.Handle("POST /api/v1/admin/mfa/disable", adminOnly(h.disableMFA))
	mux.Handle("GET /api/v1/admin/mfa/backup-codes", adminOnly(h.listBackupCodes))

	return h.withRequestContext(mux)
}

// withRequestContext tags the context with request id and client address
// for audit events and logs each request.
func (h *Handler) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := authcore.WithRequestID(r.Context(), id)
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ctx = authcore.WithClientIP(ctx, host)
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		h.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username,omitempty"`
	Kind       string `json:"kind,omitempty"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.svc.Register(r.Context(), authcore.RegisterRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{
		ID:       account.ID,
		Email:    account.Email,
		Username: account.Username,
		Kind:     authcore.UserAccount.String(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	MFARequired bool      `json:"mfa_required"`
	Purpose     string    `json:"purpose"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	h.doLogin(w, r, h.svc.Login)
}

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	h.doLogin(w, r, h.svc.AdminLogin)
}

func (h *Handler) doLogin(w http.ResponseWriter, r *http.Request, login func(context.Context, string, string) (*authcore.LoginResult, error)) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, result)
}

func (h *Handler) writeSession(w http.ResponseWriter, result *authcore.LoginResult) {
	middleware.SetTokenCookie(w, result.Token, result.ExpiresAt.Sub(h.now()), h.cookie)
	writeJSON(w, http.StatusOK, sessionResponse{
		MFARequired: result.MFARequired,
		Purpose:     string(result.Purpose),
		ExpiresAt:   result.ExpiresAt,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := middleware.TokenFromRequest(r, h.cookie.Name); ok {
		if err := h.svc.Logout(r.Context(), token); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	middleware.ClearTokenCookie(w, h.cookie)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, kind, ok := h.principal(w, r)
	if !ok {
		return
	}
	account, err := h.svc.Me(r.Context(), claims)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		ID:         account.ID,
		Email:      account.Email,
		Username:   account.Username,
		Kind:       kind.String(),
		MFAEnabled: account.TOTPEnabled,
	})
}

type setupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCodePNG  string `json:"qr_code_png,omitempty"`
}

func (h *Handler) setupMFA(w http.ResponseWriter, r *http.Request) {
	claims, kind, ok := h.principal(w, r)
	if !ok {
		return
	}
	setup, err := h.svc.SetupMFA(r.Context(), kind, claims.Subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := setupResponse{Secret: setup.Secret, OTPAuthURL: setup.URI}
	if png, err := authcore.QRCode(setup.URI, 256); err == nil {
		resp.QRCodePNG = base64.StdEncoding.EncodeToString(png)
	} else {
		h.logger.Warn("mfa setup: qr code not rendered", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

type codeRequest struct {
	Code string `json:"mfa_code"`
}

type mfaVerifyRequest struct {
	Code         string `json:"mfa_code"`
	IsBackupCode bool   `json:"is_backup_code"`
}

type backupCodeResponse struct {
	Label     string    `json:"label"`
	Code      string    `json:"code,omitempty"`
	Used      bool      `json:"used"`
	UsedAt    time.Time `json:"used_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) enableMFA(w http.ResponseWriter, r *http.Request) {
	claims, kind, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.svc.EnableMFA(r.Context(), kind, claims.Subject, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]backupCodeResponse, 0, len(codes))
	for _, c := range codes {
		out = append(out, backupCodeResponse{Label: c.Label, Code: c.Code, ExpiresAt: c.ExpiresAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": out})
}

func (h *Handler) verifyMFA(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, r, authcore.ErrUnauthenticated)
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.CompleteMFA(r.Context(), claims, req.Code, req.IsBackupCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, result)
}

func (h *Handler) disableMFA(w http.ResponseWriter, r *http.Request) {
	claims, kind, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DisableMFA(r.Context(), kind, claims.Subject, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "mfa disabled"})
}

func (h *Handler) listBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, kind, ok := h.principal(w, r)
	if !ok {
		return
	}
	infos, err := h.svc.ListBackupCodes(r.Context(), kind, claims.Subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]backupCodeResponse, 0, len(infos))
	for _, info := range infos {
		item := backupCodeResponse{Label: info.Label, Used: info.Used, ExpiresAt: info.ExpiresAt}
		if info.UsedAt != nil {
			item.UsedAt = *info.UsedAt
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": out})
}

// principal reads the gate's claims for handlers that act on the session
// owner's account.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (*jwt.Claims, authcore.AccountKind, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, r, authcore.ErrUnauthenticated)
		return nil, 0, false
	}
	kind, ok := authcore.KindOf(claims)
	if !ok {
		h.writeError(w, r, authcore.ErrUnauthenticated)
		return nil, 0, false
	}
	return claims, kind, true
}
