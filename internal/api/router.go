package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/rohits-web03/enrollr/docs"
	"github.com/rohits-web03/enrollr/internal/api/handlers"
	"github.com/rohits-web03/enrollr/internal/api/middleware"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/models"
)

func SetupRouter(h *handlers.Handler, resolver auth.Resolver, corsOptions cors.Options, log zerolog.Logger) http.Handler {
	mainMux := http.NewServeMux()
	c := cors.New(corsOptions)
	authenticate := middleware.Authenticate(resolver, log)
	route := middleware.Route

	// ---------- PUBLIC ROUTES ----------
	mainMux.Handle("/health", route("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})))

	mainMux.Handle("/metrics", route("/metrics", promhttp.Handler()))
	mainMux.Handle("/docs/", route("/docs", httpSwagger.WrapHandler))

	authMux := http.NewServeMux()
	// Sign-up resolves an optional principal; anonymous callers self-register.
	authMux.Handle("POST /sign-up", route("/api/v1/auth/sign-up", authenticate(http.HandlerFunc(h.SignUp))))
	if h.LoginEnabled() {
		authMux.Handle("POST /login", route("/api/v1/auth/login", http.HandlerFunc(h.LoginUser)))
		authMux.Handle("POST /refresh", route("/api/v1/auth/refresh", http.HandlerFunc(h.RefreshSession)))
		authMux.Handle("GET /user", route("/api/v1/auth/user", http.HandlerFunc(h.SessionUser)))
	}
	authMux.Handle("POST /logout", route("/api/v1/auth/logout", http.HandlerFunc(h.Logout)))

	mainMux.Handle("/api/v1/auth/",
		http.StripPrefix("/api/v1/auth", authMux),
	)

	// ---------- PROTECTED ROUTES ----------
	// Authentication is attached per route so that unknown paths 404 before
	// any credential is looked at.
	protected := func(next http.HandlerFunc) http.Handler {
		return authenticate(middleware.RequireAuthenticated(next))
	}
	protectedMux := http.NewServeMux()

	protectedMux.Handle("POST /files", route("/api/v1/files", protected(h.UploadFile)))
	protectedMux.Handle("GET /users/me", route("/api/v1/users/me", protected(h.Me)))
	protectedMux.Handle("POST /users", route("/api/v1/users",
		authenticate(middleware.RequireRole(models.RoleAdmin)(http.HandlerFunc(h.CreateUser))),
	))

	mainMux.Handle("/api/v1/",
		http.StripPrefix("/api/v1", protectedMux),
	)

	log.Info().Msg("Router initialized")
	handler := c.Handler(mainMux)
	handler = middleware.Logger(log)(handler)
	return handler
}
