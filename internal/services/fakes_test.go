package services

import (
	"context"
	"errors"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/repositories"
)

// memMetadata is an in-memory metadata store. Units of work are serialized,
// staged on copies and only published on commit, so a failed unit leaves
// nothing behind. Email uniqueness is enforced at insert like the real schema.
type memMetadata struct {
	mu     sync.Mutex
	files  map[uint]models.File
	users  map[uint]models.User
	nextID uint
	failOn map[string]error
}

func newMemMetadata() *memMetadata {
	return &memMetadata{
		files:  map[uint]models.File{},
		users:  map[uint]models.User{},
		failOn: map[string]error{},
	}
}

// fail makes every later op named op return err.
func (m *memMetadata) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

func (m *memMetadata) inject(op string) error {
	if err, ok := m.failOn[op]; ok {
		return apperrors.Wrap(apperrors.ErrPersistence, err)
	}
	return nil
}

func (m *memMetadata) WithinUnitOfWork(ctx context.Context, fn func(repositories.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, files: maps.Clone(m.files), users: maps.Clone(m.users), nextID: m.nextID}
	if err := fn(tx); err != nil {
		return err
	}
	if err := m.inject("commit"); err != nil {
		return err
	}
	m.files, m.users, m.nextID = tx.files, tx.users, tx.nextID
	return nil
}

func (m *memMetadata) fileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func (m *memMetadata) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *memMetadata) file(id uint) (models.File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return f, ok
}

type memTx struct {
	m      *memMetadata
	files  map[uint]models.File
	users  map[uint]models.User
	nextID uint
}

func (t *memTx) id() uint {
	t.nextID++
	return t.nextID
}

func (t *memTx) CreateFile(file *models.File) error {
	if err := t.m.inject("CreateFile"); err != nil {
		return err
	}
	for _, f := range t.files {
		if f.ModifiedName == file.ModifiedName {
			return apperrors.Wrap(apperrors.ErrPersistence, errors.New("duplicate modified_name"))
		}
	}
	file.ID = t.id()
	file.CreatedAt = time.Now().UTC()
	t.files[file.ID] = *file
	return nil
}

func (t *memTx) DeleteFile(id uint) error {
	if err := t.m.inject("DeleteFile"); err != nil {
		return err
	}
	delete(t.files, id)
	return nil
}

func (t *memTx) CreateUser(user *models.User) error {
	if err := t.m.inject("CreateUser"); err != nil {
		return err
	}
	for _, u := range t.users {
		if u.Email == user.Email {
			return apperrors.Wrap(apperrors.ErrEmailAlreadyExists, errors.New(`duplicate key value violates unique constraint "uq_users_email"`))
		}
	}
	if user.ProfileImageID != nil {
		if _, ok := t.files[*user.ProfileImageID]; !ok {
			return apperrors.Wrap(apperrors.ErrPersistence, errors.New("profile image foreign key violation"))
		}
	}
	now := time.Now().UTC()
	user.ID = t.id()
	user.CreatedAt, user.UpdatedAt = now, now
	t.users[user.ID] = *user
	return nil
}

func (t *memTx) SetAuditActor(userID, actorID uint) error {
	u, ok := t.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.CreatedBy, u.UpdatedBy = &actorID, &actorID
	t.users[userID] = u
	return nil
}

func (t *memTx) EmailExists(email string) (bool, error) {
	for _, u := range t.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) AdminExists() (bool, error) {
	for _, u := range t.users {
		if u.Role == models.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) FindUserByID(id uint) (*models.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &u, nil
}

// faultyArtifacts wraps a real store and can fail writes or deletes. Delete
// honours context cancellation so tests can see cleanup run detached.
type faultyArtifacts struct {
	ArtifactStore
	storeErr    error
	deleteErr   error
	deleteCalls atomic.Int32
}

func (f *faultyArtifacts) Store(ctx context.Context, data []byte, ext string) (repositories.StorageHandle, error) {
	if f.storeErr != nil {
		return repositories.StorageHandle{}, f.storeErr
	}
	return f.ArtifactStore.Store(ctx, data, ext)
}

func (f *faultyArtifacts) Delete(ctx context.Context, path string) error {
	f.deleteCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.ArtifactStore.Delete(ctx, path)
}

type recordingOrphans struct {
	mu      sync.Mutex
	orphans []Orphan
}

func (r *recordingOrphans) RecordOrphan(_ context.Context, o Orphan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans = append(r.orphans, o)
}

func (r *recordingOrphans) recorded() []Orphan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Orphan(nil), r.orphans...)
}

type pipeline struct {
	root         string
	artifacts    *faultyArtifacts
	meta         *memMetadata
	orphans      *recordingOrphans
	ingestion    *FileIngestion
	registration *Registration
}

func newPipeline(t *testing.T, requireImage bool) *pipeline {
	t.Helper()

	root := t.TempDir()
	local, err := repositories.NewLocalArtifactStore(root, zerolog.Nop())
	require.NoError(t, err)

	p := &pipeline{
		root:      root,
		artifacts: &faultyArtifacts{ArtifactStore: local},
		meta:      newMemMetadata(),
		orphans:   &recordingOrphans{},
	}
	p.ingestion = NewFileIngestion(p.artifacts, p.meta, p.orphans, zerolog.Nop())
	p.registration = NewRegistration(p.ingestion, p.meta, auth.NewPasswordHasher(bcrypt.MinCost), requireImage, zerolog.Nop())
	return p
}

func (p *pipeline) artifactCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(p.root)
	require.NoError(t, err)
	return len(entries)
}

func pngUpload() *Upload {
	return &Upload{
		Data:         []byte("\x89PNG\r\n\x1a\nfake image bytes"),
		OriginalName: "avatar.png",
		DeclaredType: "image/png",
	}
}
