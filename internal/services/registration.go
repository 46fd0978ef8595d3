package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/metrics"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/repositories"
)

// Profile is the account data of a registration request.
type Profile struct {
	Name     string `validate:"required,min=2,max=100"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,max=72"`
	Role     string `validate:"omitempty,oneof=admin user"`
}

type RegisterInput struct {
	Profile
	Image *Upload
}

// FileIngester is the part of FileIngestion that registration drives.
type FileIngester interface {
	Ingest(ctx context.Context, up Upload) (*models.File, error)
	Discard(ctx context.Context, file *models.File) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Registration creates users linked to their ingested profile image.
type Registration struct {
	files        FileIngester
	meta         MetadataStore
	hasher       PasswordHasher
	requireImage bool
	validate     *validator.Validate
	log          zerolog.Logger
}

func NewRegistration(files FileIngester, meta MetadataStore, hasher PasswordHasher, requireImage bool, log zerolog.Logger) *Registration {
	return &Registration{
		files:        files,
		meta:         meta,
		hasher:       hasher,
		requireImage: requireImage,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log.With().Str("component", "registration").Logger(),
	}
}

// Register runs the registration pipeline: validate, pre-check the email,
// enforce the image policy, ingest the image, then insert the user in its own
// unit of work. A failed
// insert discards the ingested image again.
func (s *Registration) Register(ctx context.Context, in RegisterInput, actor auth.Principal) (*models.User, error) {
	profile, err := s.normalize(in.Profile)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	role := models.RoleUser
	if profile.Role != "" {
		if role, err = models.ParseRole(profile.Role); err != nil {
			metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
			return nil, apperrors.NewValidationError(map[string]string{"role": "must be one of: admin user"})
		}
	}
	if role == models.RoleAdmin && !actor.IsAdmin() {
		metrics.RegistrationsTotal.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: only an admin may create an admin account", apperrors.ErrForbidden)
	}

	// Best-effort only; the unique constraint at insert time decides.
	var taken bool
	err = s.meta.WithinUnitOfWork(ctx, func(uow repositories.UnitOfWork) error {
		var err error
		taken, err = uow.EmailExists(profile.Email)
		return err
	})
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("persistence_failure").Inc()
		return nil, err
	}
	if taken {
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		s.log.Debug().Str("email", profile.Email).Msg("email already registered")
		return nil, apperrors.ErrEmailAlreadyExists
	}

	hasImage := in.Image != nil && len(in.Image.Data) > 0
	if !hasImage && s.requireImage {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrImageRequired
	}

	passwordHash, err := s.hasher.Hash(profile.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var image *models.File
	if hasImage {
		image, err = s.files.Ingest(ctx, *in.Image)
		if err != nil {
			metrics.RegistrationsTotal.WithLabelValues("ingest_failure").Inc()
			return nil, err
		}
	}

	user := &models.User{
		Name:         profile.Name,
		Email:        profile.Email,
		PasswordHash: passwordHash,
		IsActive:     true,
		Role:         role,
		CreatedBy:    actor.ActorID(),
		UpdatedBy:    actor.ActorID(),
	}
	if image != nil {
		user.ProfileImageID = &image.ID
	}

	err = s.meta.WithinUnitOfWork(ctx, func(uow repositories.UnitOfWork) error {
		return uow.CreateUser(user)
	})
	if err != nil {
		return nil, s.abandon(ctx, image, err)
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	s.log.Info().
		Uint("user_id", user.ID).
		Str("role", user.Role.String()).
		Bool("self_registered", user.CreatedBy == nil).
		Msg("user registered")
	return user, nil
}

// abandon cleans up after a user insert that did not commit.
func (s *Registration) abandon(ctx context.Context, image *models.File, cause error) error {
	if image != nil {
		if err := s.files.Discard(ctx, image); err != nil {
			metrics.RegistrationsTotal.WithLabelValues("inconsistent").Inc()
			s.log.Error().Err(err).AnErr("cause", cause).Uint("file_id", image.ID).Msg("registration cleanup failed")
			return fmt.Errorf("%w (registration failed: %w)", err, cause)
		}
	}

	if errors.Is(cause, apperrors.ErrEmailAlreadyExists) {
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		s.log.Debug().Msg("email taken at insert; profile image discarded")
		return cause
	}
	metrics.RegistrationsTotal.WithLabelValues("persistence_failure").Inc()
	s.log.Error().Err(cause).Msg("user insert failed")
	return cause
}

// BootstrapAdmin creates the first admin when none exists. The account has no
// image and audits itself: insert, then point created_by/updated_by at its
// own id, in one unit of work. It returns nil when an admin already exists.
func (s *Registration) BootstrapAdmin(ctx context.Context, p Profile) (*models.User, error) {
	p.Role = models.RoleAdmin.String()
	profile, err := s.normalize(p)
	if err != nil {
		return nil, err
	}
	passwordHash, err := s.hasher.Hash(profile.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *models.User
	err = s.meta.WithinUnitOfWork(ctx, func(uow repositories.UnitOfWork) error {
		exists, err := uow.AdminExists()
		if err != nil || exists {
			return err
		}
		user := &models.User{
			Name:         profile.Name,
			Email:        profile.Email,
			PasswordHash: passwordHash,
			IsActive:     true,
			Role:         models.RoleAdmin,
		}
		if err := uow.CreateUser(user); err != nil {
			return err
		}
		if err := uow.SetAuditActor(user.ID, user.ID); err != nil {
			return err
		}
		self := user.ID
		user.CreatedBy, user.UpdatedBy = &self, &self
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		s.log.Info().Uint("user_id", created.ID).Str("email", created.Email).Msg("bootstrap admin created")
	}
	return created, nil
}

func (s *Registration) normalize(p Profile) (Profile, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = models.NormalizeEmail(p.Email)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))

	if err := s.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return p, apperrors.Wrap(apperrors.ErrValidation, err)
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fieldMessage(fe)
		}
		return p, apperrors.NewValidationError(fields)
	}
	return p, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
