package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rohits-web03/enrollr/internal/api/middleware"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/utils"
)

const (
	// RefreshCookie carries the refresh token. It is only sent to the auth
	// routes.
	RefreshCookie = "refresh_token"
	refreshPath   = "/api/v1/auth"
)

// POST /api/v1/auth/login
// LoginUser godoc
// @Summary Log in
// @Description Checks email and password. Returns an access token in the body and the token cookie, and a refresh token in the refresh_token cookie.
// @Tags Auth
// @Accept json
// @Produce json
// @Param credentials body object true "email and password"
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Router /api/v1/auth/login [post]
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, formOverhead))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	session, err := h.login.Login(r.Context(), input.Email, input.Password, clientOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setSessionCookies(w, session)

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Login successful",
		Data: map[string]any{
			"token":     session.Token,
			"expiresAt": session.ExpiresAt,
			"user":      session.User.View(),
		},
	})
}

// POST /api/v1/auth/refresh
// RefreshSession godoc
// @Summary Refresh the access token
// @Description Exchanges the refresh_token cookie for a new access token and a new refresh token. The presented refresh token stops working.
// @Tags Auth
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Router /api/v1/auth/refresh [post]
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenOf(r)
	if refreshToken == "" {
		respond(w, http.StatusUnauthorized, "Please sign in first")
		return
	}

	session, err := h.login.Refresh(r.Context(), refreshToken, clientOf(r))
	if err != nil {
		h.clearSessionCookies(w)
		h.writeError(w, r, err)
		return
	}
	h.setSessionCookies(w, session)

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Access token updated successfully",
		Data: map[string]any{
			"token":     session.Token,
			"expiresAt": session.ExpiresAt,
			"role":      session.User.Role,
		},
	})
}

// GET /api/v1/auth/user
// SessionUser godoc
// @Summary User of the current session
// @Description Resolves the account from the refresh_token cookie, so a client can restore its state without a valid access token.
// @Tags Auth
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Router /api/v1/auth/user [get]
func (h *Handler) SessionUser(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenOf(r)
	if refreshToken == "" {
		respond(w, http.StatusUnauthorized, "Please sign in first")
		return
	}

	user, err := h.login.SessionUser(r.Context(), refreshToken)
	if err != nil {
		h.clearSessionCookies(w)
		h.writeError(w, r, err)
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "User fetched successfully",
		Data:    user.View(),
	})
}

// POST /api/v1/auth/logout
// Logout godoc
// @Summary Log out
// @Description Revokes the refresh token and clears both session cookies.
// @Tags Auth
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 503 {object} utils.Payload
// @Router /api/v1/auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.login != nil {
		if err := h.login.Logout(r.Context(), refreshTokenOf(r)); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.clearSessionCookies(w)

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Logged out successfully",
	})
}

func (h *Handler) sameSite() http.SameSite {
	if h.opts.SecureCookies {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, session auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		Secure:   h.opts.SecureCookies,
		HttpOnly: true,
		SameSite: h.sameSite(),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    session.RefreshToken,
		Path:     refreshPath,
		MaxAge:   int(time.Until(session.RefreshExpiresAt).Seconds()),
		Secure:   h.opts.SecureCookies,
		HttpOnly: true,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	for name, path := range map[string]string{middleware.TokenCookie: "/", RefreshCookie: refreshPath} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			MaxAge:   -1, // maxAge < 0 deletes the cookie
			Secure:   h.opts.SecureCookies,
			HttpOnly: true,
			SameSite: h.sameSite(),
		})
	}
}

func refreshTokenOf(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookie); err == nil {
		return c.Value
	}
	return ""
}

// clientOf uses the connection's peer address; forwarding headers are not
// trusted.
func clientOf(r *http.Request) auth.Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return auth.Client{IP: ip, UserAgent: r.UserAgent()}
}
