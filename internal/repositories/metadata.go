package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/models"
)

const pgUniqueViolation = "23505"

// emailConstraints are the unique constraints that mean "this email is taken".
var emailConstraints = map[string]bool{
	"uq_users_email":  true,
	"idx_users_email": true,
}

// UnitOfWork is everything a caller may do inside one metadata transaction.
// All of it commits or none of it does.
type UnitOfWork interface {
	CreateFile(file *models.File) error
	DeleteFile(id uint) error
	CreateUser(user *models.User) error
	SetAuditActor(userID, actorID uint) error
	EmailExists(email string) (bool, error)
	AdminExists() (bool, error)
	FindUserByID(id uint) (*models.User, error)
}

// MetadataStore is the relational side of the pipeline: the files and users
// tables behind scoped units of work.
type MetadataStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMetadataStore(db *gorm.DB) *MetadataStore {
	return &MetadataStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithinUnitOfWork runs fn in a transaction. A non-nil error from fn rolls
// back; otherwise the transaction commits and a commit failure is returned
// classified like any other statement failure.
func (s *MetadataStore) WithinUnitOfWork(ctx context.Context, fn func(UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&unitOfWork{db: tx, now: s.now})
	})
	return classify(err)
}

func (s *MetadataStore) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

func (s *MetadataStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

func (s *MetadataStore) FindFileByID(ctx context.Context, id uint) (*models.File, error) {
	var file models.File
	if err := s.db.WithContext(ctx).First(&file, id).Error; err != nil {
		return nil, classify(err)
	}
	return &file, nil
}

type unitOfWork struct {
	db  *gorm.DB
	now func() time.Time
}

func (u *unitOfWork) CreateFile(file *models.File) error {
	file.ID = 0
	file.CreatedAt = u.now()
	return classify(u.db.Create(file).Error)
}

// DeleteFile removes a file row. Deleting a row that is already gone is not
// an error.
func (u *unitOfWork) DeleteFile(id uint) error {
	return classify(u.db.Delete(&models.File{}, id).Error)
}

// CreateUser inserts a user. Timestamps always come from the store, and a
// unique violation on email is reported as apperrors.ErrEmailAlreadyExists;
// that is the authoritative duplicate signal, not any earlier lookup.
func (u *unitOfWork) CreateUser(user *models.User) error {
	now := u.now()
	user.ID = 0
	user.CreatedAt = now
	user.UpdatedAt = now
	return classify(u.db.Create(user).Error)
}

func (u *unitOfWork) SetAuditActor(userID, actorID uint) error {
	res := u.db.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"created_by": actorID,
			"updated_by": actorID,
			"updated_at": u.now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) EmailExists(email string) (bool, error) {
	var n int64
	if err := u.db.Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (u *unitOfWork) AdminExists() (bool, error) {
	var n int64
	if err := u.db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&n).Error; err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (u *unitOfWork) FindUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := u.db.First(&user, id).Error; err != nil {
		return nil, classify(err)
	}
	return &user, nil
}

// classify maps driver errors onto the apperrors taxonomy. Errors that are
// already classified pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		apperrors.ErrEmailAlreadyExists,
		apperrors.ErrNotFound,
		apperrors.ErrPersistence,
		apperrors.ErrValidation,
		apperrors.ErrForbidden,
		apperrors.ErrStorage,
		apperrors.ErrInconsistentState,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation && emailConstraints[pgErr.ConstraintName] {
			return apperrors.Wrap(apperrors.ErrEmailAlreadyExists, err)
		}
	}
	return apperrors.Wrap(apperrors.ErrPersistence, err)
}
