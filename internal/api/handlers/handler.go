package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/services"
)

// formOverhead is the room left for non-file multipart fields.
const formOverhead = 1 << 20

type Registrar interface {
	Register(ctx context.Context, in services.RegisterInput, actor auth.Principal) (*models.User, error)
}

type Ingester interface {
	Ingest(ctx context.Context, up services.Upload) (*models.File, error)
}

type Authenticator interface {
	Login(ctx context.Context, email, password string, client auth.Client) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string, client auth.Client) (auth.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	SessionUser(ctx context.Context, refreshToken string) (*models.User, error)
}

type UserFinder interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
}

type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	SecureCookies  bool
}

type Handler struct {
	registrar Registrar
	files     Ingester
	login     Authenticator
	users     UserFinder
	opts      Options
	log       zerolog.Logger
}

func New(registrar Registrar, files Ingester, login Authenticator, users UserFinder, opts Options, log zerolog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	return &Handler{
		registrar: registrar,
		files:     files,
		login:     login,
		users:     users,
		opts:      opts,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// LoginEnabled reports whether the server can issue its own tokens.
func (h *Handler) LoginEnabled() bool {
	return h.login != nil
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.opts.RequestTimeout)
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperrors.NewValidationError(map[string]string{
				"form": fmt.Sprintf("request exceeds the %d byte upload limit", h.opts.MaxUploadBytes),
			})
		}
		return apperrors.NewValidationError(map[string]string{"form": "invalid multipart form"})
	}
	return nil
}

// readUpload reads the first present file field. It returns nil when none of
// the fields carries a file.
func (h *Handler) readUpload(r *http.Request, fields ...string) (*services.Upload, error) {
	for _, field := range fields {
		f, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, apperrors.NewValidationError(map[string]string{field: "could not be read"})
		}
		defer f.Close()

		tooBig := apperrors.NewValidationError(map[string]string{
			field: fmt.Sprintf("must be at most %d bytes", h.opts.MaxUploadBytes),
		})
		if header.Size > h.opts.MaxUploadBytes {
			return nil, tooBig
		}
		data, err := io.ReadAll(io.LimitReader(f, h.opts.MaxUploadBytes+1))
		if err != nil {
			return nil, apperrors.NewValidationError(map[string]string{field: "could not be read"})
		}
		if int64(len(data)) > h.opts.MaxUploadBytes {
			return nil, tooBig
		}

		up := &services.Upload{
			Data:         data,
			OriginalName: r.FormValue("originalFilename"),
			DeclaredType: r.FormValue("declaredMimeType"),
		}
		if up.OriginalName == "" {
			up.OriginalName = header.Filename
		}
		if up.DeclaredType == "" {
			up.DeclaredType = header.Header.Get("Content-Type")
		}
		return up, nil
	}
	return nil, nil
}
